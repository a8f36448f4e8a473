// Package catalog holds the product listing fetched from the backend.
//
// The snapshot is immutable once published and is replaced wholesale on each
// refresh, so readers never see a half-updated listing.
package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/commerce"
	"storefront/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Source lists the full catalog. token is empty for anonymous visitors.
type Source interface {
	ListProducts(ctx context.Context, token string) ([]domain.Product, error)
}

// Credentials exposes the current bearer token, if any, and drops it when
// the backend rejects it.
type Credentials interface {
	Current() (domain.Credential, bool)
	Invalidate(ctx context.Context, token string, cause error) bool
}

type snapshot struct {
	products  []domain.Product
	byID      map[int64]int
	variants  map[int64]domain.Variant
	fetchedAt time.Time
}

type Cache struct {
	source  Source
	session Credentials
	logger  zerolog.Logger
	timeout time.Duration

	current atomic.Pointer[snapshot]
}

type Option func(*Cache)

// WithTimeout bounds each catalog fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(source Source, session Credentials, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		source:  source,
		session: session,
		logger:  logger.With().Str("component", "catalog").Logger(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&snapshot{})
	return c
}

// Refresh fetches the catalog and publishes it, dropping products without
// variants. On failure the previous snapshot stays in place. The catalog is
// public: if the backend rejects the credential, the credential is dropped
// and the fetch is repeated anonymously.
func (c *Cache) Refresh(ctx context.Context) ([]domain.Product, error) {
	token := ""
	if cred, ok := c.session.Current(); ok {
		token = cred.Token
	}
	fetched, err := c.fetch(ctx, token)
	if err != nil && token != "" && commerce.IsUnauthorized(err) {
		c.session.Invalidate(ctx, token, err)
		c.logger.Warn().Msg("catalog rejected credential, retrying anonymously")
		fetched, err = c.fetch(ctx, "")
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("catalog refresh failed")
		return nil, &NetworkError{Err: err}
	}

	next := &snapshot{
		products:  make([]domain.Product, 0, len(fetched)),
		byID:      make(map[int64]int, len(fetched)),
		variants:  make(map[int64]domain.Variant),
		fetchedAt: time.Now().UTC(),
	}
	dropped := 0
	for _, p := range fetched {
		if !p.Offerable() {
			dropped++
			continue
		}
		p.Variants = append([]domain.Variant(nil), p.Variants...)
		next.byID[p.ID] = len(next.products)
		next.products = append(next.products, p)
		for _, v := range p.Variants {
			next.variants[v.ID] = v
		}
	}
	c.current.Store(next)
	c.logger.Debug().Int("products", len(next.products)).Int("dropped", dropped).Msg("catalog refreshed")
	return c.Products(), nil
}

func (c *Cache) fetch(ctx context.Context, token string) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.source.ListProducts(ctx, token)
}

func (c *Cache) Get(productID int64) (domain.Product, bool) {
	snap := c.current.Load()
	i, ok := snap.byID[productID]
	if !ok {
		return domain.Product{}, false
	}
	return cloneProduct(snap.products[i]), true
}

// Products returns the current snapshot in backend order.
func (c *Cache) Products() []domain.Product {
	snap := c.current.Load()
	out := make([]domain.Product, len(snap.products))
	for i, p := range snap.products {
		out[i] = cloneProduct(p)
	}
	return out
}

// Variant looks a variant up across all products.
func (c *Cache) Variant(variantID int64) (domain.Variant, bool) {
	v, ok := c.current.Load().variants[variantID]
	return v, ok
}

// FetchedAt is zero until the first successful refresh.
func (c *Cache) FetchedAt() time.Time {
	return c.current.Load().fetchedAt
}

func cloneProduct(p domain.Product) domain.Product {
	p.Variants = append([]domain.Variant(nil), p.Variants...)
	return p
}

// NetworkError reports a failed catalog fetch. Nothing useful can be shown
// without a catalog, so callers treat it as blocking.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("catalog unavailable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
