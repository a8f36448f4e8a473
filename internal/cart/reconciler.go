// Package cart keeps the client's authoritative cart in step with the cart
// the backend holds for the logged-in visitor.
//
// Cart mutations and hydration are serialized: at most one of them talks to
// the backend at a time, so two quick adds of the same product produce one
// create followed by one update instead of two creates.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/commerce"
	"storefront/internal/domain"
	"storefront/internal/observability"
)

type State string

const (
	StateEmpty     State = "empty"
	StateLocalOnly State = "local-only"
	StateSynced    State = "synced"
	StateStale     State = "stale"
)

const defaultTimeout = 15 * time.Second

// Backend is the server-side cart API.
type Backend interface {
	ListCart(ctx context.Context, token string) ([]commerce.CartItem, error)
	CreateCartItem(ctx context.Context, token string, variantID int64, quantity int) (commerce.CartItem, error)
	UpdateCartItem(ctx context.Context, token string, itemID int64, quantity int) (commerce.CartItem, error)
}

type Catalog interface {
	Get(productID int64) (domain.Product, bool)
}

type Session interface {
	Current() (domain.Credential, bool)
	Invalidate(ctx context.Context, token string, cause error) bool
}

type Reconciler struct {
	backend Backend
	catalog Catalog
	session Session
	logger  zerolog.Logger
	timeout time.Duration

	// ops is a one-slot semaphore held by whichever operation is talking to
	// the backend.
	ops chan struct{}

	mu    sync.RWMutex
	cart  domain.Cart
	state State
}

type Option func(*Reconciler)

// WithTimeout bounds each backend round-trip.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(backend Backend, catalog Catalog, session Session, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		catalog: catalog,
		session: session,
		logger:  logger.With().Str("component", "cart").Logger(),
		timeout: defaultTimeout,
		ops:     make(chan struct{}, 1),
		cart:    domain.Cart{},
		state:   StateEmpty,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hydrate replaces the local cart with the server's cart for the current
// credential. Local lines not known to the server are discarded. A response
// that arrives after the credential changed is dropped.
func (r *Reconciler) Hydrate(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return syncFailed("hydrate", err)
	}
	defer r.release()

	cred, ok := r.session.Current()
	if !ok {
		r.replace(domain.Cart{}, StateEmpty)
		return nil
	}
	r.setState(StateStale)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	items, err := r.backend.ListCart(callCtx, cred.Token)
	cancel()
	if err != nil {
		r.backendFailed(ctx, cred.Token, err)
		observability.RecordCartMutation("hydrate", string(KindSyncFailed))
		return syncFailed("list cart", err)
	}

	if now, ok := r.session.Current(); !ok || now.Token != cred.Token {
		r.logger.Debug().Msg("credential changed during hydrate, response dropped")
		observability.RecordCartMutation("hydrate", "stale")
		return nil
	}

	next := make(domain.Cart, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		line := next[item.ProductVariantID]
		line.VariantID = item.ProductVariantID
		line.Quantity += item.Quantity
		next[item.ProductVariantID] = line
	}
	r.replace(next, StateSynced)
	observability.RecordCartMutation("hydrate", "ok")
	r.logger.Debug().Int("lines", len(next)).Msg("cart hydrated")
	return nil
}

// AddToCart adds one unit of the product's first variant. Products are
// always resolved to their first variant; there is no size choice.
func (r *Reconciler) AddToCart(ctx context.Context, productID int64) (domain.CartLine, error) {
	line, err := r.addToCart(ctx, productID)
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			observability.RecordCartMutation("add", string(cerr.Kind))
		}
		return domain.CartLine{}, err
	}
	observability.RecordCartMutation("add", "ok")
	return line, nil
}

func (r *Reconciler) addToCart(ctx context.Context, productID int64) (domain.CartLine, error) {
	if _, ok := r.session.Current(); !ok {
		return domain.CartLine{}, &Error{Kind: KindUnauthenticated}
	}
	product, ok := r.catalog.Get(productID)
	if !ok {
		return domain.CartLine{}, &Error{Kind: KindUnknownProduct, Detail: fmt.Sprintf("product %d", productID)}
	}
	variant, ok := product.DefaultVariant()
	if !ok {
		return domain.CartLine{}, &Error{Kind: KindNoVariant, Detail: fmt.Sprintf("product %d", productID)}
	}

	if err := r.acquire(ctx); err != nil {
		return domain.CartLine{}, syncFailed("add", err)
	}
	defer r.release()

	cred, ok := r.session.Current()
	if !ok {
		return domain.CartLine{}, &Error{Kind: KindUnauthenticated}
	}

	prev := r.setState(StateLocalOnly)
	if err := r.pushIncrement(ctx, cred.Token, variant.ID); err != nil {
		r.setState(prev)
		r.backendFailed(ctx, cred.Token, err)
		return domain.CartLine{}, err
	}

	r.mu.Lock()
	line := r.cart[variant.ID]
	line.VariantID = variant.ID
	line.Quantity++
	r.cart[variant.ID] = line
	r.state = StateSynced
	r.mu.Unlock()

	r.logger.Debug().
		Int64("product_id", productID).
		Int64("variant_id", variant.ID).
		Int("quantity", line.Quantity).
		Msg("added to cart")
	return line, nil
}

// pushIncrement raises the server line for variantID by one, creating it if
// the server has none.
func (r *Reconciler) pushIncrement(ctx context.Context, token string, variantID int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	items, err := r.backend.ListCart(ctx, token)
	if err != nil {
		return syncFailed("list cart", err)
	}
	for _, item := range items {
		if item.ProductVariantID != variantID {
			continue
		}
		if _, err := r.backend.UpdateCartItem(ctx, token, item.ID, item.Quantity+1); err != nil {
			return syncFailed(fmt.Sprintf("update line %d", item.ID), err)
		}
		return nil
	}
	if _, err := r.backend.CreateCartItem(ctx, token, variantID, 1); err != nil {
		return syncFailed(fmt.Sprintf("create line for variant %d", variantID), err)
	}
	return nil
}

// Clear empties the local cart without calling the backend. It waits for an
// in-flight mutation to finish first.
func (r *Reconciler) Clear() {
	r.ops <- struct{}{}
	defer r.release()
	r.replace(domain.Cart{}, StateEmpty)
	observability.RecordCartMutation("clear", "ok")
}

// Submit hands the current cart to submit while holding the mutation slot,
// then empties the cart if submit succeeded. No add or hydrate can run
// between the read and the clear, so a line added meanwhile is kept. The
// error from submit is returned unchanged.
func (r *Reconciler) Submit(ctx context.Context, submit func(domain.Cart) error) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	if err := submit(r.Snapshot()); err != nil {
		return err
	}
	r.replace(domain.Cart{}, StateEmpty)
	observability.RecordCartMutation("submit", "ok")
	return nil
}

// Reset drops local state when the session ends.
func (r *Reconciler) Reset() {
	r.Clear()
	r.logger.Debug().Msg("cart reset")
}

// Snapshot returns a copy of the authoritative cart.
func (r *Reconciler) Snapshot() domain.Cart {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cart.Clone()
}

func (r *Reconciler) Lines() []domain.CartLine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cart.Lines()
}

func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reconciler) acquire(ctx context.Context) error {
	select {
	case r.ops <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) release() {
	<-r.ops
}

func (r *Reconciler) replace(next domain.Cart, state State) {
	r.mu.Lock()
	r.cart = next
	r.state = state
	r.mu.Unlock()
}

func (r *Reconciler) setState(state State) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state
	r.state = state
	return prev
}

func (r *Reconciler) backendFailed(ctx context.Context, token string, err error) {
	if commerce.IsUnauthorized(err) {
		r.session.Invalidate(ctx, token, err)
	}
	r.logger.Warn().Err(err).Msg("cart sync failed")
}
