// Package causes is the catalog of donation causes and their running
// totals.
package causes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/syncutil"
	"github.com/mbd888/interpay/internal/traces"
)

var (
	ErrNotFound      = errors.New("cause not found")
	ErrInvalidAmount = errors.New("donation amount must be positive")
)

// Cause is a donation target with a fundraising goal.
type Cause struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Icon        string          `json:"icon,omitempty"`
	Goal        decimal.Decimal `json:"goal"`
	Raised      decimal.Decimal `json:"raised"`
	WalletURL   string          `json:"walletAddress"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Progress is Raised/Goal as a percentage with one decimal, capped at 100.
func (c *Cause) Progress() decimal.Decimal {
	if !c.Goal.IsPositive() {
		return decimal.Zero
	}
	p := c.Raised.Div(c.Goal).Mul(decimal.NewFromInt(100)).Round(1)
	if p.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return p
}

// Store persists causes.
type Store interface {
	// Seed inserts missing causes and refreshes the metadata of existing
	// ones. Raised totals already stored are kept.
	Seed(ctx context.Context, causes []Cause) error
	// List returns causes in catalog order.
	List(ctx context.Context) ([]*Cause, error)
	Get(ctx context.Context, id string) (*Cause, error)
	// AddRaised adds amount to the cause's total and returns the result.
	AddRaised(ctx context.Context, id string, amount decimal.Decimal) (*Cause, error)
}

// DefaultCauses is the built-in catalog used when no causes file is
// configured.
func DefaultCauses() []Cause {
	return []Cause{
		{
			ID:          "cruz-roja",
			Name:        "Cruz Roja Mexicana",
			Description: "Apoya a las víctimas de desastres naturales y emergencias médicas en todo México.",
			Icon:        "🏥",
			Goal:        decimal.NewFromInt(500000),
			Raised:      decimal.NewFromInt(287000),
			WalletURL:   "https://ilp.interledger-test.dev/cruz_roja_mexicana",
		},
		{
			ID:          "unicef",
			Name:        "UNICEF México",
			Description: "Protege los derechos de la infancia y provee ayuda humanitaria a niños en situación vulnerable.",
			Icon:        "👶",
			Goal:        decimal.NewFromInt(750000),
			Raised:      decimal.NewFromInt(423000),
			WalletURL:   "https://ilp.interledger-test.dev/unicef",
		},
		{
			ID:          "reforestacion",
			Name:        "Reforestación Nacional",
			Description: "Proyecto para plantar 1 millón de árboles en zonas deforestadas de México.",
			Icon:        "🌳",
			Goal:        decimal.NewFromInt(300000),
			Raised:      decimal.NewFromInt(189000),
			WalletURL:   "https://ilp.interledger-test.dev/reforestacion_nacional",
		},
		{
			ID:          "educacion",
			Name:        "Educación para Todos",
			Description: "Becas y materiales escolares para niños de comunidades marginadas.",
			Icon:        "📚",
			Goal:        decimal.NewFromInt(400000),
			Raised:      decimal.NewFromInt(256000),
			WalletURL:   "https://ilp.interledger-test.dev/educacion_para_todos",
		},
		{
			ID:          "animales",
			Name:        "Refugio Animal",
			Description: "Rescate, cuidado y adopción de animales en situación de calle.",
			Icon:        "🐾",
			Goal:        decimal.NewFromInt(150000),
			Raised:      decimal.NewFromInt(98000),
			WalletURL:   "https://ilp.interledger-test.dev/refugio_animal",
		},
	}
}

type fileCause struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Goal        string `yaml:"goal"`
	Raised      string `yaml:"raised"`
	WalletURL   string `yaml:"walletAddress"`
}

type catalogFile struct {
	Causes []fileCause `yaml:"causes"`
}

// LoadFile reads a YAML catalog:
//
//	causes:
//	  - id: cruz-roja
//	    name: Cruz Roja Mexicana
//	    goal: 500000
//	    raised: 287000
//	    walletAddress: $ilp.interledger-test.dev/cruz_roja_mexicana
func LoadFile(path string) ([]Cause, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read causes file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog. See LoadFile for the format.
func Parse(raw []byte) ([]Cause, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse causes file: %w", err)
	}
	if len(f.Causes) == 0 {
		return nil, errors.New("causes file lists no causes")
	}

	seen := make(map[string]bool, len(f.Causes))
	out := make([]Cause, 0, len(f.Causes))
	for i, fc := range f.Causes {
		id := strings.TrimSpace(fc.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("cause %d: id is required", i)
		case seen[id]:
			return nil, fmt.Errorf("cause %q: duplicate id", id)
		case strings.TrimSpace(fc.Name) == "":
			return nil, fmt.Errorf("cause %q: name is required", id)
		case strings.TrimSpace(fc.WalletURL) == "":
			return nil, fmt.Errorf("cause %q: walletAddress is required", id)
		}
		seen[id] = true

		goal, err := parseAmount(fc.Goal)
		if err != nil {
			return nil, fmt.Errorf("cause %q: goal: %w", id, err)
		}
		raised, err := parseAmount(fc.Raised)
		if err != nil {
			return nil, fmt.Errorf("cause %q: raised: %w", id, err)
		}
		out = append(out, Cause{
			ID:          id,
			Name:        strings.TrimSpace(fc.Name),
			Description: strings.TrimSpace(fc.Description),
			Icon:        fc.Icon,
			Goal:        goal,
			Raised:      raised,
			WalletURL:   payments.NormalizeWalletAddress(fc.WalletURL),
		})
	}
	return out, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	return d, nil
}

// Catalog serves causes and records donations against them. It satisfies
// payments.CauseRegistry.
type Catalog struct {
	store Store
	locks *syncutil.KeyLock
}

var _ payments.CauseRegistry = (*Catalog)(nil)

// NewCatalog creates a catalog over store.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store, locks: syncutil.NewKeyLock(64)}
}

// List returns all causes in catalog order.
func (c *Catalog) List(ctx context.Context) ([]*Cause, error) {
	return c.store.List(ctx)
}

// Get returns one cause.
func (c *Catalog) Get(ctx context.Context, id string) (*Cause, error) {
	return c.store.Get(ctx, id)
}

// Lookup returns the payment target of a cause.
func (c *Catalog) Lookup(ctx context.Context, id string) (*payments.Cause, error) {
	cause, err := c.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, payments.ErrCauseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payments.Cause{ID: cause.ID, Name: cause.Name, WalletURL: cause.WalletURL}, nil
}

// AddRaised adds a completed donation to the cause's total.
func (c *Catalog) AddRaised(ctx context.Context, id string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	ctx, span := traces.StartSpan(ctx, "causes.AddRaised", traces.CauseID(id), traces.Amount(amount.String()))
	defer span.End()

	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	cause, err := c.store.AddRaised(ctx, id, amount)
	if err != nil {
		span.RecordError(err)
		return err
	}

	metrics.DonationsRaisedTotal.WithLabelValues(id).Add(amount.InexactFloat64())
	logging.L(ctx).Info("donation recorded",
		"cause", id,
		"amount", amount.String(),
		"raised", cause.Raised.String(),
		"goal", cause.Goal.String(),
	)
	return nil
}
