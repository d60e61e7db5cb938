package handler

import (
	"time"

	"bondledger/internal/bond/service"
	"bondledger/internal/reconcile"
	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// CreateSeriesRequest takes the maturity offset either as a Go duration
// ("720h") or in whole seconds.
type CreateSeriesRequest struct {
	InterestBps     int64  `json:"interest_bps"`
	MaturityOffset  string `json:"maturity_offset,omitempty"`
	MaturitySeconds int64  `json:"maturity_seconds,omitempty"`
	Name            string `json:"name,omitempty"`
	Symbol          string `json:"symbol,omitempty"`
	Model           string `json:"model,omitempty"`
}

func (r CreateSeriesRequest) toService() (service.CreateSeriesRequest, error) {
	offset := time.Duration(r.MaturitySeconds) * time.Second
	if r.MaturityOffset != "" {
		d, err := time.ParseDuration(r.MaturityOffset)
		if err != nil {
			return service.CreateSeriesRequest{}, dErrors.Wrap(err, dErrors.CodeInvalidParameter, "invalid maturity_offset")
		}
		offset = d
	}
	return service.CreateSeriesRequest{
		InterestBps:    r.InterestBps,
		MaturityOffset: offset,
		Name:           r.Name,
		Symbol:         r.Symbol,
		Model:          models.Model(r.Model),
	}, nil
}

type PurchaseRequest struct {
	Principal uint64 `json:"principal"`
}

// RedeemRequest is optional; a zero or missing amount redeems the whole balance.
type RedeemRequest struct {
	Amount uint64 `json:"amount,omitempty"`
}

type TransferOwnershipRequest struct {
	NewOwner domain.CallerID `json:"new_owner"`
}

type CreditRequest struct {
	Account domain.CallerID `json:"account"`
	Amount  uint64          `json:"amount"`
}

type SeriesResponse struct {
	ID          domain.SeriesID `json:"id"`
	Name        string          `json:"name,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	Model       models.Model    `json:"model"`
	InterestBps uint32          `json:"interest_bps"`
	Maturity    time.Time       `json:"maturity"`
	TotalIssued uint64          `json:"total_issued"`
	Active      bool            `json:"active"`
	Exists      bool            `json:"exists"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toSeriesResponse(s *models.Series) SeriesResponse {
	return SeriesResponse{
		ID:          s.ID,
		Name:        s.Name,
		Symbol:      s.Symbol,
		Model:       s.Model,
		InterestBps: s.InterestBps,
		Maturity:    s.Maturity,
		TotalIssued: s.TotalIssued,
		Active:      s.Active,
		Exists:      true,
		CreatedAt:   s.CreatedAt,
	}
}

type BalanceResponse struct {
	SeriesID domain.SeriesID `json:"series_id"`
	Holder   domain.CallerID `json:"holder"`
	Balance  uint64          `json:"balance"`
}

type TotalIssuedResponse struct {
	SeriesID    domain.SeriesID `json:"series_id"`
	TotalIssued uint64          `json:"total_issued"`
}

type OwnerResponse struct {
	Owner domain.CallerID `json:"owner"`
}

type CollateralResponse struct {
	Account domain.CallerID `json:"account"`
	Balance uint64          `json:"balance"`
}

// ReconciliationResponse lists open entries, oldest first.
type ReconciliationResponse struct {
	Entries []*reconcile.Entry `json:"entries"`
}
