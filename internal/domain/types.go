package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusUnknown   OrderStatus = "unknown"
)

// ParseOrderStatus maps a backend status string onto the client's status set.
// Anything unrecognised is reported as unknown rather than guessed.
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "created", "processing":
		return OrderStatusPending
	case "confirmed", "paid", "completed":
		return OrderStatusConfirmed
	case "failed", "cancelled", "canceled", "rejected":
		return OrderStatusFailed
	default:
		return OrderStatusUnknown
	}
}

// Credential is the bearer token for the current visitor. ExpiresAt is zero
// when the token does not carry an expiry the client can read.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type Variant struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	Size          string `json:"size"`
	StockQuantity int    `json:"stock_quantity"`
}

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"base_price"`
	Variants  []Variant       `json:"product_variants"`
}

// Offerable reports whether the product has at least one purchasable variant.
func (p Product) Offerable() bool {
	return len(p.Variants) > 0
}

// DefaultVariant is the variant a product click resolves to: always the first
// one listed. Size selection is not exposed to visitors.
func (p Product) DefaultVariant() (Variant, bool) {
	if len(p.Variants) == 0 {
		return Variant{}, false
	}
	return p.Variants[0], true
}

type CartLine struct {
	VariantID int64 `json:"product_variant_id"`
	Quantity  int   `json:"quantity"`
}

// Cart is keyed by variant id.
type Cart map[int64]CartLine

func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Lines returns the cart lines ordered by variant id.
func (c Cart) Lines() []CartLine {
	out := make([]CartLine, 0, len(c))
	for _, line := range c {
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

func (c Cart) TotalQuantity() int {
	total := 0
	for _, line := range c {
		total += line.Quantity
	}
	return total
}

type Order struct {
	ID        int64       `json:"id"`
	Lines     []CartLine  `json:"items"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}
