// Package checkout turns the authoritative cart into an order.
//
// Placing an order is two calls: submit, then read the order history back.
// The create response is not trusted to carry a status, so the status comes
// from the newest order in the history.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/commerce"
	"storefront/internal/domain"
	"storefront/internal/observability"
)

const defaultTimeout = 15 * time.Second

type Backend interface {
	PlaceOrder(ctx context.Context, token string, items []commerce.OrderItem) error
	ListOrders(ctx context.Context, token string) ([]commerce.Order, error)
}

// Cart runs a submission against the authoritative cart. Submit must keep
// other cart mutations out while fn runs and empty the cart when fn succeeds.
type Cart interface {
	Submit(ctx context.Context, fn func(domain.Cart) error) error
}

type Session interface {
	Current() (domain.Credential, bool)
	Invalidate(ctx context.Context, token string, cause error) bool
}

type Orchestrator struct {
	backend Backend
	cart    Cart
	session Session
	logger  zerolog.Logger
	timeout time.Duration
}

type Option func(*Orchestrator)

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func New(backend Backend, cart Cart, session Session, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		cart:    cart,
		session: session,
		logger:  logger.With().Str("component", "checkout").Logger(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkout submits the cart and returns the resulting order. If the order
// was placed but its status cannot be read back, the order is returned with
// status unknown and the cart is still cleared.
func (o *Orchestrator) Checkout(ctx context.Context) (domain.Order, error) {
	order, err := o.checkout(ctx)
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			observability.RecordCheckout(string(cerr.Kind), "")
		}
		return domain.Order{}, err
	}
	observability.RecordCheckout("ok", string(order.Status))
	return order, nil
}

func (o *Orchestrator) checkout(ctx context.Context) (domain.Order, error) {
	cred, ok := o.session.Current()
	if !ok {
		return domain.Order{}, &Error{Kind: KindUnauthenticated}
	}

	var order domain.Order
	err := o.cart.Submit(ctx, func(cart domain.Cart) error {
		lines := cart.Lines()
		if len(lines) == 0 {
			return &Error{Kind: KindEmptyCart}
		}
		if err := o.submit(ctx, cred.Token, lines); err != nil {
			return err
		}
		order = o.derive(ctx, cred.Token, lines)
		return nil
	})
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			return domain.Order{}, err
		}
		return domain.Order{}, &Error{Kind: KindSubmissionFailed, Detail: "wait for cart", Err: err}
	}

	o.logger.Info().
		Int64("order_id", order.ID).
		Str("status", string(order.Status)).
		Int("lines", len(order.Lines)).
		Msg("order placed")
	return order, nil
}

func (o *Orchestrator) submit(ctx context.Context, token string, lines []domain.CartLine) error {
	items := make([]commerce.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, commerce.OrderItem{ProductVariantID: line.VariantID, Quantity: line.Quantity})
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.backend.PlaceOrder(callCtx, token, items); err != nil {
		if commerce.IsUnauthorized(err) {
			o.session.Invalidate(ctx, token, err)
		}
		o.logger.Warn().Err(err).Int("lines", len(items)).Msg("order submission failed")
		return &Error{Kind: KindSubmissionFailed, Detail: "place order", Err: err}
	}
	return nil
}

// derive reads the placed order back from the history. The order is already
// placed at this point, so a failed read only leaves the status unknown.
func (o *Orchestrator) derive(ctx context.Context, token string, lines []domain.CartLine) domain.Order {
	order := domain.Order{
		Lines:     lines,
		Status:    domain.OrderStatusUnknown,
		CreatedAt: time.Now().UTC(),
	}
	latest, err := o.latestOrder(ctx, token)
	if err != nil {
		o.logger.Warn().Err(err).Msg("order placed but history unavailable, status unknown")
		return order
	}
	order.ID = latest.ID
	order.Status = domain.ParseOrderStatus(latest.Status)
	if !latest.CreatedAt.IsZero() {
		order.CreatedAt = latest.CreatedAt
	}
	return order
}

func (o *Orchestrator) latestOrder(ctx context.Context, token string) (commerce.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	orders, err := o.backend.ListOrders(ctx, token)
	if err != nil {
		return commerce.Order{}, err
	}
	if len(orders) == 0 {
		return commerce.Order{}, errors.New("order history is empty")
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders[0], nil
}

type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindEmptyCart        Kind = "empty_cart"
	KindSubmissionFailed Kind = "submission_failed"
)

var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrEmptyCart        = &Error{Kind: KindEmptyCart}
	ErrSubmissionFailed = &Error{Kind: KindSubmissionFailed}
)

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "checkout: " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Kind == e.Kind
}
