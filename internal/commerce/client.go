// Package commerce is the HTTP client for the remote commerce backend.
//
// It only speaks the wire contract: JSON bodies, bearer auth on protected
// routes and status-code classification. Session, cart and checkout policy
// live in their own packages.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront/internal/domain"
	"storefront/internal/observability"
)

const (
	routeProducts  = "/products"
	routeLogin     = "/auth/login"
	routeSignup    = "/auth/signup"
	routeCart      = "/shopping-carts"
	routeCartItem  = "/shopping-carts/{id}"
	routeOrders    = "/orders"
	maxErrorBody   = 4 << 10
	defaultTimeout = 10 * time.Second
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

type CartItem struct {
	ID               int64 `json:"id"`
	ProductVariantID int64 `json:"product_variant_id"`
	Quantity         int   `json:"quantity"`
}

type OrderItem struct {
	ProductVariantID int64 `json:"product_variant_id"`
	Quantity         int   `json:"quantity"`
}

type Order struct {
	ID        int64       `json:"id"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []OrderItem `json:"items,omitempty"`
}

// ListProducts fetches the full catalog. token may be empty.
func (c *Client) ListProducts(ctx context.Context, token string) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.do(ctx, http.MethodGet, routeProducts, routeProducts, token, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, routeLogin, routeLogin, "", body, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, routeSignup, routeSignup, "", req, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) ListCart(ctx context.Context, token string) ([]CartItem, error) {
	var items []CartItem
	if err := c.do(ctx, http.MethodGet, routeCart, routeCart, token, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) CreateCartItem(ctx context.Context, token string, variantID int64, quantity int) (CartItem, error) {
	body := OrderItem{ProductVariantID: variantID, Quantity: quantity}
	var item CartItem
	if err := c.do(ctx, http.MethodPost, routeCart, routeCart, token, body, &item); err != nil {
		return CartItem{}, err
	}
	return item, nil
}

func (c *Client) UpdateCartItem(ctx context.Context, token string, itemID int64, quantity int) (CartItem, error) {
	body := map[string]int{"quantity": quantity}
	path := routeCart + "/" + strconv.FormatInt(itemID, 10)
	var item CartItem
	if err := c.do(ctx, http.MethodPut, routeCartItem, path, token, body, &item); err != nil {
		return CartItem{}, err
	}
	return item, nil
}

// PlaceOrder submits an order. The response body is not relied upon; callers
// derive status from ListOrders.
func (c *Client) PlaceOrder(ctx context.Context, token string, items []OrderItem) error {
	body := map[string][]OrderItem{"items": items}
	return c.do(ctx, http.MethodPost, routeOrders, routeOrders, token, body, nil)
}

func (c *Client) ListOrders(ctx context.Context, token string) ([]Order, error) {
	var orders []Order
	if err := c.do(ctx, http.MethodGet, routeOrders, routeOrders, token, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) do(ctx context.Context, method, route, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, route, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, route, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordBackendRequest(method, route, 0, time.Since(start))
		te := &TransportError{Method: method, Route: route, Err: err}
		c.logger.Debug().
			Err(err).
			Str("method", method).
			Str("route", route).
			Bool("timeout", te.Timeout()).
			Str("request_id", requestID).
			Msg("backend request failed")
		return te
	}
	defer resp.Body.Close()
	observability.RecordBackendRequest(method, route, resp.StatusCode, time.Since(start))
	c.logger.Debug().
		Str("method", method).
		Str("route", route).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("request_id", requestID).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Route:      route,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, route, err)
	}
	return nil
}

// errorMessage prefers the backend's {"error": "..."} body and falls back to
// the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
