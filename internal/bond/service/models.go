package service

import (
	"time"

	"bondledger/internal/investment"
	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// RedemptionPolicy decides what deactivation blocks.
type RedemptionPolicy string

const (
	// PolicyPurchasesOnly lets holders of a deactivated series still redeem.
	PolicyPurchasesOnly RedemptionPolicy = "purchases_only"
	// PolicyStrict blocks redemption of a deactivated series too.
	PolicyStrict RedemptionPolicy = "strict"
)

func ParsePolicy(s string) (RedemptionPolicy, error) {
	switch RedemptionPolicy(s) {
	case "", PolicyPurchasesOnly:
		return PolicyPurchasesOnly, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvalidParameter, "unknown redemption policy %q", s)
}

type CreateSeriesRequest struct {
	InterestBps    int64
	MaturityOffset time.Duration
	Name           string
	Symbol         string
	Model          models.Model
}

// Receipt confirms a fungible purchase. Units are minted 1:1 with principal.
type Receipt struct {
	SeriesID    domain.SeriesID `json:"series_id"`
	Holder      domain.CallerID `json:"holder"`
	Principal   uint64          `json:"principal"`
	UnitsMinted uint64          `json:"units_minted"`
	TotalIssued uint64          `json:"total_issued"`
}

// LotReceipt confirms a lot purchase.
type LotReceipt struct {
	SeriesID    domain.SeriesID `json:"series_id"`
	Investor    domain.CallerID `json:"investor"`
	Index       int             `json:"index"`
	Amount      uint64          `json:"amount"`
	TotalIssued uint64          `json:"total_issued"`
}

type Redemption struct {
	SeriesID  domain.SeriesID `json:"series_id"`
	Holder    domain.CallerID `json:"holder"`
	Principal uint64          `json:"principal"`
	Interest  uint64          `json:"interest"`
	Payout    uint64          `json:"payout"`
	LotIndex  *int            `json:"lot_index,omitempty"`
}

// SupplyReport is a point-in-time audit of one series' accounting.
type SupplyReport struct {
	SeriesID      domain.SeriesID            `json:"series_id"`
	Model         models.Model               `json:"model"`
	TotalIssued   uint64                     `json:"total_issued"`
	TotalSupply   uint64                     `json:"total_supply"`
	TotalRedeemed uint64                     `json:"total_redeemed"`
	Holders       map[domain.CallerID]uint64 `json:"holders"`
	Conserved     bool                       `json:"conserved"`
}

// Investments is an investor's lot list.
type Investments struct {
	Investor domain.CallerID  `json:"investor"`
	Lots     []investment.Lot `json:"lots"`
}
