// Package backend is an in-memory commerce backend that speaks the same REST
// contract as the production API. It backs local development and the
// end-to-end tests, and can inject faults per route.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/observability"
)

type contextKey string

const contextKeyUserID contextKey = "user_id"

type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
	Fixture   Fixture
	// InitialOrderStatus is the status new orders are created with.
	InitialOrderStatus string
	// RequireVerification makes signup return no token until Verify is
	// called for the account.
	RequireVerification bool
	BcryptCost          int
	Logger              zerolog.Logger
	Now                 func() time.Time
}

type Server struct {
	opts   Options
	shop   *shop
	faults faultTable
	logger zerolog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.InitialOrderStatus == "" {
		opts.InitialOrderStatus = "confirmed"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	observability.RegisterMetrics()
	s := &Server{
		opts:   opts,
		shop:   newShop(opts.Fixture.Catalog(), opts.BcryptCost, opts.Now),
		logger: opts.Logger.With().Str("component", "devbackend").Logger(),
	}
	for _, u := range opts.Fixture.Users {
		if _, err := s.shop.register(u.Email, u.Password, u.FirstName, u.LastName, true); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, observability.RequestMetrics, observability.RequestLogger(s.logger), middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(public chi.Router) {
		public.Use(s.injectFaults)
		public.Get("/products", s.handleListProducts)
		public.Post("/auth/login", s.handleLogin)
		public.Post("/auth/signup", s.handleSignup)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(s.injectFaults, s.requireUser)
		protected.Get("/shopping-carts", s.handleListCart)
		protected.Post("/shopping-carts", s.handleCreateCartLine)
		protected.Put("/shopping-carts/{id}", s.handleUpdateCartLine)
		protected.Post("/orders", s.handlePlaceOrder)
		protected.Get("/orders", s.handleListOrders)
	})

	return r
}

// Verify marks an account as verified so it can log in.
func (s *Server) Verify(email string) error {
	return s.shop.verify(email)
}

// SetOrderStatus moves an order along, as fulfilment would.
func (s *Server) SetOrderStatus(orderID int64, status string) error {
	return s.shop.setOrderStatus(orderID, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   s.opts.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shop.listProducts())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.shop.authenticate(req.Email, req.Password)
	switch {
	case errors.Is(err, errUnverified):
		writeError(w, http.StatusForbidden, "account not verified")
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.signToken(u.ID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.Contains(req.Email, "@") || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	u, err := s.shop.register(req.Email, req.Password, req.FirstName, req.LastName, !s.opts.RequireVerification)
	if errors.Is(err, errEmailTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	if s.opts.RequireVerification {
		writeJSON(w, http.StatusCreated, map[string]string{"message": "verification email sent"})
		return
	}
	token, err := s.signToken(u.ID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

type cartLineResponse struct {
	ID               int64 `json:"id"`
	ProductVariantID int64 `json:"product_variant_id"`
	Quantity         int   `json:"quantity"`
}

func toCartLineResponse(line cartLine) cartLineResponse {
	return cartLineResponse{ID: line.ID, ProductVariantID: line.VariantID, Quantity: line.Quantity}
}

func (s *Server) handleListCart(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	lines := s.shop.listCart(userID)
	out := make([]cartLineResponse, 0, len(lines))
	for _, line := range lines {
		out = append(out, toCartLineResponse(line))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCartLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductVariantID int64 `json:"product_variant_id"`
		Quantity         int   `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}
	line, err := s.shop.createCartLine(userIDFromContext(r.Context()), req.ProductVariantID, req.Quantity)
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCartLineResponse(line))
}

func (s *Server) handleUpdateCartLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart line id")
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}
	line, err := s.shop.updateCartLine(userIDFromContext(r.Context()), lineID, req.Quantity)
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartLineResponse(line))
}

type orderResponse struct {
	ID        int64       `json:"id"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []orderItem `json:"items"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []orderItem `json:"items"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "order has no items")
		return
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			writeError(w, http.StatusBadRequest, "quantity must be at least 1")
			return
		}
	}
	o, err := s.shop.placeOrder(userIDFromContext(r.Context()), req.Items, s.opts.InitialOrderStatus)
	if err != nil {
		writeShopError(w, err)
		return
	}
	s.logger.Info().Int64("order_id", o.ID).Int("items", len(o.Items)).Msg("order placed")
	// Only the id is echoed back; status has to be read from GET /orders.
	writeJSON(w, http.StatusCreated, map[string]int64{"id": o.ID})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.shop.listOrders(userIDFromContext(r.Context()))
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse{ID: o.ID, Status: o.Status, CreatedAt: o.CreatedAt, Items: o.Items})
	}
	writeJSON(w, http.StatusOK, out)
}

type userClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Server) signToken(userID int64, email string) (string, error) {
	now := s.opts.Now().UTC()
	claims := userClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.opts.JWTSecret))
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims := &userClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(s.opts.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.opts.Now))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || !s.shop.userExists(userID) {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(contextKeyUserID).(int64)
	return id
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeShopError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errInsufficientStock):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
