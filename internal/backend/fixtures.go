package backend

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"storefront/internal/domain"
)

//go:embed default_fixture.yaml
var defaultFixture []byte

// Fixture seeds the backend with a catalog and optional accounts.
type Fixture struct {
	Products []FixtureProduct `yaml:"products"`
	Users    []FixtureUser    `yaml:"users"`
}

type FixtureProduct struct {
	ID        int64            `yaml:"id"`
	Name      string           `yaml:"name"`
	BasePrice string           `yaml:"base_price"`
	Variants  []FixtureVariant `yaml:"variants"`
}

type FixtureVariant struct {
	ID    int64  `yaml:"id"`
	Size  string `yaml:"size"`
	Stock int    `yaml:"stock"`
}

type FixtureUser struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// LoadFixtureFile reads a YAML fixture. An empty path yields the built-in
// fixture.
func LoadFixtureFile(path string) (Fixture, error) {
	if path == "" {
		return DefaultFixture(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("failed to read fixture file %s: %w", path, err)
	}
	return ParseFixture(data)
}

func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("failed to parse fixture YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

func DefaultFixture() Fixture {
	f, err := ParseFixture(defaultFixture)
	if err != nil {
		panic(fmt.Sprintf("built-in fixture: %v", err))
	}
	return f
}

func (f Fixture) validate() error {
	products := make(map[int64]struct{}, len(f.Products))
	variants := make(map[int64]int64)
	for _, p := range f.Products {
		if _, dup := products[p.ID]; dup {
			return fmt.Errorf("duplicate product id %d", p.ID)
		}
		products[p.ID] = struct{}{}
		if _, err := decimal.NewFromString(p.BasePrice); err != nil {
			return fmt.Errorf("product %d: invalid base_price %q: %w", p.ID, p.BasePrice, err)
		}
		for _, v := range p.Variants {
			if owner, dup := variants[v.ID]; dup {
				return fmt.Errorf("variant id %d used by products %d and %d", v.ID, owner, p.ID)
			}
			if v.Stock < 0 {
				return fmt.Errorf("variant %d: negative stock", v.ID)
			}
			variants[v.ID] = p.ID
		}
	}
	return nil
}

// Catalog converts the fixture to the wire model.
func (f Fixture) Catalog() []domain.Product {
	out := make([]domain.Product, 0, len(f.Products))
	for _, p := range f.Products {
		product := domain.Product{
			ID:        p.ID,
			Name:      p.Name,
			BasePrice: decimal.RequireFromString(p.BasePrice),
			Variants:  make([]domain.Variant, 0, len(p.Variants)),
		}
		for _, v := range p.Variants {
			product.Variants = append(product.Variants, domain.Variant{
				ID:            v.ID,
				ProductID:     p.ID,
				Size:          v.Size,
				StockQuantity: v.Stock,
			})
		}
		out = append(out, product)
	}
	return out
}
