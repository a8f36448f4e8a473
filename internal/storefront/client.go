// Package storefront wires session, catalog, cart and checkout into one
// client with an explicit lifecycle: construct, Start, then operate until
// Logout resets the per-visitor state.
package storefront

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/commerce"
	"storefront/internal/domain"
	"storefront/internal/session"
	storepkg "storefront/internal/store"
)

type Config struct {
	APIURL           string
	HTTPTimeout      time.Duration
	OperationTimeout time.Duration
	Tokens           storepkg.CredentialStore
	Logger           zerolog.Logger
	// HTTPClient replaces the default client, mainly for tests.
	HTTPClient *http.Client
}

type Client struct {
	backend  *commerce.Client
	session  *session.Store
	catalog  *catalog.Cache
	cart     *cart.Reconciler
	checkout *checkout.Orchestrator
	logger   zerolog.Logger
}

// New builds the client and restores any persisted credential. It performs
// no network calls; Start does.
func New(ctx context.Context, cfg Config) *Client {
	backend := commerce.NewClient(cfg.APIURL, cfg.HTTPTimeout,
		commerce.WithHTTPClient(cfg.HTTPClient),
		commerce.WithLogger(cfg.Logger),
	)
	sess := session.New(ctx, backend, cfg.Tokens, cfg.Logger, session.WithTimeout(cfg.OperationTimeout))
	cat := catalog.New(backend, sess, cfg.Logger, catalog.WithTimeout(cfg.OperationTimeout))
	rec := cart.New(backend, cat, sess, cfg.Logger, cart.WithTimeout(cfg.OperationTimeout))
	orch := checkout.New(backend, rec, sess, cfg.Logger, checkout.WithTimeout(cfg.OperationTimeout))
	return &Client{
		backend:  backend,
		session:  sess,
		catalog:  cat,
		cart:     rec,
		checkout: orch,
		logger:   cfg.Logger,
	}
}

// Start loads the catalog and, for a returning visitor, the server cart. A
// catalog failure is returned as *catalog.NetworkError and is fatal for the
// caller; a cart failure is only logged.
func (c *Client) Start(ctx context.Context) error {
	products, err := c.RefreshCatalog(ctx)
	if err != nil {
		return err
	}
	c.logger.Debug().
		Int("products", len(products)).
		Time("fetched_at", c.catalog.FetchedAt()).
		Msg("catalog loaded")
	if _, ok := c.session.Current(); ok {
		c.hydrate(ctx)
	}
	return nil
}

func (c *Client) RefreshCatalog(ctx context.Context) ([]domain.Product, error) {
	products, err := c.catalog.Refresh(ctx)
	c.dropCartIfSignedOut()
	return products, err
}

func (c *Client) Login(ctx context.Context, email, password string) (domain.Credential, error) {
	cred, err := c.session.Login(ctx, email, password)
	if err != nil {
		return domain.Credential{}, err
	}
	c.hydrate(ctx)
	return cred, nil
}

// Signup registers an account. When the backend issues a token right away
// the cart is hydrated for it; otherwise the visitor stays anonymous.
func (c *Client) Signup(ctx context.Context, email, password, firstName, lastName string) (domain.Credential, error) {
	cred, err := c.session.Signup(ctx, email, password, firstName, lastName)
	if err != nil {
		return domain.Credential{}, err
	}
	if cred.Token != "" {
		c.hydrate(ctx)
	}
	return cred, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.session.Logout(ctx); err != nil {
		return err
	}
	c.cart.Reset()
	return nil
}

func (c *Client) AddToCart(ctx context.Context, productID int64) (domain.CartLine, error) {
	line, err := c.cart.AddToCart(ctx, productID)
	if errors.Is(err, commerce.ErrUnauthorized) {
		c.dropCartIfSignedOut()
	}
	return line, err
}

func (c *Client) Checkout(ctx context.Context) (domain.Order, error) {
	order, err := c.checkout.Checkout(ctx)
	if errors.Is(err, commerce.ErrUnauthorized) {
		c.dropCartIfSignedOut()
	}
	return order, err
}

func (c *Client) Credential() (domain.Credential, bool) {
	return c.session.Current()
}

func (c *Client) Products() []domain.Product {
	return c.catalog.Products()
}

func (c *Client) Product(id int64) (domain.Product, bool) {
	return c.catalog.Get(id)
}

func (c *Client) Variant(id int64) (domain.Variant, bool) {
	return c.catalog.Variant(id)
}

func (c *Client) Cart() domain.Cart {
	return c.cart.Snapshot()
}

func (c *Client) CartLines() []domain.CartLine {
	return c.cart.Lines()
}

func (c *Client) CartState() cart.State {
	return c.cart.State()
}

// dropCartIfSignedOut empties the cart once the session has lost its
// credential, e.g. after the backend rejected it. A session that already
// moved on to a new credential keeps the cart hydrated for it.
func (c *Client) dropCartIfSignedOut() {
	if _, ok := c.session.Current(); ok {
		return
	}
	if c.cart.State() == cart.StateEmpty {
		return
	}
	c.cart.Reset()
}

func (c *Client) hydrate(ctx context.Context) {
	if err := c.cart.Hydrate(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("cart hydrate failed, local cart may be stale")
	}
}
