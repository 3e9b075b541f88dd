package property

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborstay/channelcore/internal/dbx"
	"github.com/harborstay/channelcore/pkg/pricing"
)

// Service encapsulates property business logic.
type Service struct {
	store *Store
}

// NewService creates a property Service backed by the given database
// connection or transaction.
func NewService(dbtx dbx.DBTX) *Service {
	return &Service{store: NewStore(dbtx)}
}

// List returns every active property.
func (s *Service) List(ctx context.Context) ([]Response, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToResponse())
	}
	return items, nil
}

// Get returns a single property by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return row.ToResponse(), nil
}

// Create creates a new property.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	row, err := s.store.Create(ctx, Property{
		Name:             req.Name,
		Timezone:         req.Timezone,
		Currency:         req.Currency,
		BasePriceMinor:   req.BasePriceMinor,
		CleaningFeeMinor: req.CleaningFeeMinor,
		ServiceFeeBps:    req.ServiceFeeBps,
		TaxBps:           req.TaxBps,
		MaxGuests:        req.MaxGuests,
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating property: %w", err)
	}
	return row.ToResponse(), nil
}

// Update overwrites a property's mutable fields.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Response, error) {
	row, err := s.store.Update(ctx, id, Property{
		Name:             req.Name,
		Timezone:         req.Timezone,
		Currency:         req.Currency,
		BasePriceMinor:   req.BasePriceMinor,
		CleaningFeeMinor: req.CleaningFeeMinor,
		ServiceFeeBps:    req.ServiceFeeBps,
		TaxBps:           req.TaxBps,
		MaxGuests:        req.MaxGuests,
	})
	if err != nil {
		return Response{}, err
	}
	return row.ToResponse(), nil
}

// Deactivate soft-deletes a property.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.store.Deactivate(ctx, id)
}

// CreateRule adds a pricing rule to a property.
func (s *Service) CreateRule(ctx context.Context, propertyID uuid.UUID, req CreateRuleRequest) (RuleResponse, error) {
	row, err := s.store.CreateRule(ctx, PricingRule{
		PropertyID:      propertyID,
		Kind:            req.Kind,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		MinNights:       req.MinNights,
		AdjustmentType:  req.AdjustmentType,
		AdjustmentValue: req.AdjustmentValue,
	})
	if err != nil {
		return RuleResponse{}, fmt.Errorf("creating pricing rule: %w", err)
	}
	return row.ToResponse(), nil
}

// ListRules returns every pricing rule on propertyID.
func (s *Service) ListRules(ctx context.Context, propertyID uuid.UUID) ([]RuleResponse, error) {
	rows, err := s.store.ListRules(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("listing pricing rules: %w", err)
	}
	items := make([]RuleResponse, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToResponse())
	}
	return items, nil
}

// DeleteRule removes a pricing rule.
func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteRule(ctx, id)
}

// Snapshot is everything pkg/pricing needs to compute a deterministic
// total for one property: its fee structure, timezone, and the pricing
// rule set translated into pkg/pricing's value types (spec §4.6.4 "a
// given (property snapshot, ... rule set, tax table)").
type Snapshot struct {
	Property Property
	Location *time.Location
	Rules    []pricing.Rule
}

// PricingSnapshot loads propertyID and its rule set and translates them
// into the shape pkg/pricing.Compute consumes.
func (s *Service) PricingSnapshot(ctx context.Context, propertyID uuid.UUID) (Snapshot, error) {
	p, err := s.store.Get(ctx, propertyID)
	if err != nil {
		return Snapshot{}, err
	}
	if !p.IsActive {
		return Snapshot{}, fmt.Errorf("property %s is not active", propertyID)
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading timezone %q: %w", p.Timezone, err)
	}

	rules, err := s.store.ListRules(ctx, propertyID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading pricing rules: %w", err)
	}

	out := Snapshot{Property: p, Location: loc}
	for _, r := range rules {
		out.Rules = append(out.Rules, toPricingRule(r))
	}
	return out, nil
}

func toPricingRule(r PricingRule) pricing.Rule {
	out := pricing.Rule{Kind: pricing.RuleKind(r.Kind)}

	if r.StartDate != nil {
		out.SeasonStart = *r.StartDate
	}
	if r.EndDate != nil {
		out.SeasonEnd = *r.EndDate
	}
	if r.MinNights != nil {
		out.MinNights = *r.MinNights
	}

	switch r.AdjustmentType {
	case AdjustmentPercentage:
		out.Adjustment = pricing.Adjustment{Type: pricing.AdjustmentPercentage, PercentBps: r.AdjustmentValue}
	case AdjustmentFixedMinor:
		out.Adjustment = pricing.Adjustment{Type: pricing.AdjustmentFixedMinor, FixedMinor: r.AdjustmentValue}
	}
	return out
}
