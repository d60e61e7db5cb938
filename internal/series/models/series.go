package models

import (
	"time"

	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Model selects how claims against a series are accounted.
type Model string

const (
	// ModelFungible tracks claims as unit balances in a BalanceLedger.
	ModelFungible Model = "fungible"
	// ModelLot tracks claims as discrete investment lots.
	ModelLot Model = "lot"
)

func (m Model) IsValid() bool {
	return m == ModelFungible || m == ModelLot
}

// ParseModel maps an empty value to ModelFungible.
func ParseModel(s string) (Model, error) {
	if s == "" {
		return ModelFungible, nil
	}
	m := Model(s)
	if !m.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidParameter, "unknown accounting model %q", s)
	}
	return m, nil
}

const (
	maxNameLen   = 128
	maxSymbolLen = 16
	// MaxInterestBps caps the rate at 100x principal.
	MaxInterestBps = 100 * amount.BpsDenominator
)

// Series is a batch of bonds sharing one interest rate and maturity.
//
// Invariants:
//   - ID is positive and never reused
//   - InterestBps is in (0, MaxInterestBps]
//   - Maturity and InterestBps are immutable after construction
//   - TotalIssued never decreases
//   - Only Active, TotalIssued and UpdatedAt change after construction
type Series struct {
	ID          domain.SeriesID `json:"id"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Model       Model           `json:"model"`
	InterestBps uint32          `json:"interest_bps"`
	Maturity    time.Time       `json:"maturity"`
	TotalIssued uint64          `json:"total_issued"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Metadata is the descriptive part of a series supplied at creation.
type Metadata struct {
	Name   string
	Symbol string
	Model  Model
}

// NewSeries validates the creation parameters and computes the absolute
// maturity as now + maturityOffset.
func NewSeries(id domain.SeriesID, interestBps int64, maturityOffset time.Duration, meta Metadata, now time.Time) (*Series, error) {
	if id.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "series id must be positive")
	}
	if interestBps <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidParameter, "interest rate must be positive")
	}
	if interestBps > MaxInterestBps {
		return nil, dErrors.Newf(dErrors.CodeInvalidParameter, "interest rate must be at most %d bps", MaxInterestBps)
	}
	if maturityOffset <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidParameter, "maturity offset must be positive")
	}
	if len(meta.Name) > maxNameLen {
		return nil, dErrors.Newf(dErrors.CodeInvalidParameter, "series name must be %d characters or less", maxNameLen)
	}
	if len(meta.Symbol) > maxSymbolLen {
		return nil, dErrors.Newf(dErrors.CodeInvalidParameter, "series symbol must be %d characters or less", maxSymbolLen)
	}
	model := meta.Model
	if model == "" {
		model = ModelFungible
	}
	if !model.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidParameter, "unknown accounting model %q", model)
	}
	now = now.UTC()
	return &Series{
		ID:          id,
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Model:       model,
		InterestBps: uint32(interestBps),
		Maturity:    now.Add(maturityOffset),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsMatured reports whether redemption is permitted at now.
// The boundary instant itself counts as matured.
func (s *Series) IsMatured(now time.Time) bool {
	return !now.Before(s.Maturity)
}

// Issue adds principal to TotalIssued.
func (s *Series) Issue(principal uint64, now time.Time) error {
	total, err := amount.Add(s.TotalIssued, principal)
	if err != nil {
		return err
	}
	s.TotalIssued = total
	s.UpdatedAt = now
	return nil
}

// Deactivate closes the series to new purchases. Deactivating an inactive
// series changes nothing and reports false.
func (s *Series) Deactivate(now time.Time) bool {
	if !s.Active {
		return false
	}
	s.Active = false
	s.UpdatedAt = now
	return true
}

// Reactivate reopens the series to purchases. Reports false if it was already
// active.
func (s *Series) Reactivate(now time.Time) bool {
	if s.Active {
		return false
	}
	s.Active = true
	s.UpdatedAt = now
	return true
}

// Clone returns a copy safe to hand out of a store.
func (s *Series) Clone() *Series {
	c := *s
	return &c
}
