package backend

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
)

var (
	errNotFound          = errors.New("not found")
	errEmailTaken        = errors.New("email already registered")
	errBadCredentials    = errors.New("invalid credentials")
	errUnverified        = errors.New("account not verified")
	errInsufficientStock = errors.New("insufficient stock")
)

type user struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
	Verified     bool
}

type cartLine struct {
	ID        int64
	UserID    int64
	VariantID int64
	Quantity  int
}

type order struct {
	ID        int64
	UserID    int64
	Status    string
	Items     []orderItem
	CreatedAt time.Time
}

type orderItem struct {
	ProductVariantID int64 `json:"product_variant_id"`
	Quantity         int   `json:"quantity"`
}

// shop is the backend's whole mutable state, guarded by one lock.
type shop struct {
	mu sync.RWMutex

	bcryptCost int
	now        func() time.Time

	products []domain.Product
	// variants maps a variant id to its product index and position.
	variants map[int64][2]int

	users       map[int64]*user
	usersByMail map[string]int64
	cart        map[int64]*cartLine
	orders      []order

	nextUserID  int64
	nextCartID  int64
	nextOrderID int64
}

func newShop(catalog []domain.Product, bcryptCost int, now func() time.Time) *shop {
	s := &shop{
		bcryptCost:  bcryptCost,
		now:         now,
		users:       make(map[int64]*user),
		usersByMail: make(map[string]int64),
		cart:        make(map[int64]*cartLine),
	}
	s.setCatalog(catalog)
	return s
}

func (s *shop) setCatalog(catalog []domain.Product) {
	s.products = make([]domain.Product, len(catalog))
	s.variants = make(map[int64][2]int)
	for i, p := range catalog {
		p.Variants = append([]domain.Variant(nil), p.Variants...)
		s.products[i] = p
		for j, v := range p.Variants {
			s.variants[v.ID] = [2]int{i, j}
		}
	}
}

func (s *shop) listProducts() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, len(s.products))
	for i, p := range s.products {
		p.Variants = append([]domain.Variant(nil), p.Variants...)
		out[i] = p
	}
	return out
}

func (s *shop) variant(id int64) (*domain.Variant, bool) {
	pos, ok := s.variants[id]
	if !ok {
		return nil, false
	}
	return &s.products[pos[0]].Variants[pos[1]], true
}

func (s *shop) register(email, password, firstName, lastName string, verified bool) (*user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	key := normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usersByMail[key]; taken {
		return nil, errEmailTaken
	}
	s.nextUserID++
	u := &user{
		ID:           s.nextUserID,
		Email:        key,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
		Verified:     verified,
	}
	s.users[u.ID] = u
	s.usersByMail[key] = u.ID
	return u, nil
}

func (s *shop) authenticate(email, password string) (*user, error) {
	s.mu.RLock()
	id, ok := s.usersByMail[normalizeEmail(email)]
	var u user
	if ok {
		u = *s.users[id]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	if !u.Verified {
		return nil, errUnverified
	}
	return &u, nil
}

func (s *shop) verify(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByMail[normalizeEmail(email)]
	if !ok {
		return errNotFound
	}
	s.users[id].Verified = true
	return nil
}

func (s *shop) userExists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

func (s *shop) listCart(userID int64) []cartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cartLine, 0)
	for _, line := range s.cart {
		if line.UserID == userID {
			out = append(out, *line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// createCartLine always adds a new line, even when one already exists for the
// variant. Merging is the client's job.
func (s *shop) createCartLine(userID, variantID int64, quantity int) (cartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variant(variantID)
	if !ok {
		return cartLine{}, errNotFound
	}
	if quantity > v.StockQuantity {
		return cartLine{}, errInsufficientStock
	}
	s.nextCartID++
	line := &cartLine{ID: s.nextCartID, UserID: userID, VariantID: variantID, Quantity: quantity}
	s.cart[line.ID] = line
	return *line, nil
}

func (s *shop) updateCartLine(userID, lineID int64, quantity int) (cartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.cart[lineID]
	if !ok || line.UserID != userID {
		return cartLine{}, errNotFound
	}
	v, ok := s.variant(line.VariantID)
	if !ok {
		return cartLine{}, errNotFound
	}
	if quantity > v.StockQuantity {
		return cartLine{}, errInsufficientStock
	}
	line.Quantity = quantity
	return *line, nil
}

// placeOrder checks and takes stock for every item, then empties the user's
// server-side cart. Either all items are taken or none are.
func (s *shop) placeOrder(userID int64, items []orderItem, status string) (order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := make(map[int64]int, len(items))
	for _, item := range items {
		if _, ok := s.variant(item.ProductVariantID); !ok {
			return order{}, errNotFound
		}
		need[item.ProductVariantID] += item.Quantity
	}
	for id, qty := range need {
		v, _ := s.variant(id)
		if qty > v.StockQuantity {
			return order{}, errInsufficientStock
		}
	}
	for id, qty := range need {
		v, _ := s.variant(id)
		v.StockQuantity -= qty
	}
	for id, line := range s.cart {
		if line.UserID == userID {
			delete(s.cart, id)
		}
	}

	s.nextOrderID++
	o := order{
		ID:        s.nextOrderID,
		UserID:    userID,
		Status:    status,
		Items:     append([]orderItem(nil), items...),
		CreatedAt: s.now().UTC(),
	}
	s.orders = append(s.orders, o)
	return o, nil
}

func (s *shop) listOrders(userID int64) []order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

func (s *shop) setOrderStatus(orderID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == orderID {
			s.orders[i].Status = status
			return nil
		}
	}
	return errNotFound
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
