package service

import (
	"context"
	"time"

	"bondledger/internal/investment"
	"bondledger/internal/notify"
	"bondledger/internal/series/models"
	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
)

// Reads take the same keys as the writers they observe, so they wait for an
// in-flight transaction on those keys and never see its uncommitted changes.

func (s *Service) BalanceOf(ctx context.Context, id domain.SeriesID, holder domain.CallerID) (uint64, error) {
	var balance uint64
	err := s.tx.RunInTx(ctx, []string{seriesLockKey(id), holderLockKey(holder)}, func(ctx context.Context) error {
		if _, err := s.loadSeries(ctx, id); err != nil {
			return err
		}
		var err error
		if balance, err = s.ledger.BalanceOf(ctx, id, holder); err != nil {
			return storeError(err, "failed to read balance")
		}
		return nil
	})
	return balance, err
}

func (s *Service) TotalIssued(ctx context.Context, id domain.SeriesID) (uint64, error) {
	series, err := s.GetSeries(ctx, id)
	if err != nil {
		return 0, err
	}
	return series.TotalIssued, nil
}

func (s *Service) InvestmentsOf(ctx context.Context, holder domain.CallerID) (*Investments, error) {
	var lots []investment.Lot
	err := s.tx.RunInTx(ctx, []string{holderLockKey(holder)}, func(ctx context.Context) error {
		var err error
		if lots, err = s.investments.ListFor(ctx, holder); err != nil {
			return storeError(err, "failed to list investments")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Investments{Investor: holder, Lots: lots}, nil
}

// Supply audits a series: for fungible series the holder balances must sum
// to the supply, and supply plus redeemed principal must equal issuance.
func (s *Service) Supply(ctx context.Context, id domain.SeriesID) (*SupplyReport, error) {
	var report *SupplyReport
	err := s.tx.RunInTx(ctx, []string{seriesLockKey(id)}, func(ctx context.Context) error {
		var err error
		report, err = s.supply(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) supply(ctx context.Context, id domain.SeriesID) (*SupplyReport, error) {
	series, err := s.loadSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &SupplyReport{
		SeriesID:    id,
		Model:       series.Model,
		TotalIssued: series.TotalIssued,
		Holders:     map[domain.CallerID]uint64{},
		Conserved:   true,
	}
	if series.Model != models.ModelFungible {
		return report, nil
	}

	supply, err := s.ledger.Supply(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to read supply")
	}
	holders, err := s.ledger.Balances(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to read balances")
	}
	report.TotalSupply = supply.TotalSupply
	report.TotalRedeemed = supply.TotalRedeemed
	report.Holders = holders

	var sum uint64
	for _, b := range holders {
		if sum, err = amount.Add(sum, b); err != nil {
			report.Conserved = false
			return report, nil
		}
	}
	issued, err := amount.Add(supply.TotalSupply, supply.TotalRedeemed)
	report.Conserved = err == nil && sum == supply.TotalSupply && issued == series.TotalIssued
	return report, nil
}

func (s *Service) Owner(ctx context.Context) (domain.CallerID, error) {
	var current domain.CallerID
	err := s.tx.RunInTx(ctx, []string{ownerLockKey}, func(ctx context.Context) error {
		var err error
		current, err = s.authority.Owner(ctx)
		return err
	})
	return current, err
}

// TransferOwnership hands the owner role to newOwner.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner domain.CallerID) error {
	var previous domain.CallerID
	err := s.tx.RunInTx(ctx, []string{ownerLockKey}, func(ctx context.Context) error {
		var err error
		previous, err = s.authority.TransferOwnership(ctx, caller, newOwner, s.now(ctx))
		if err != nil {
			return err
		}
		return s.emit(ctx, notify.Event{
			Type:          notify.EventOwnershipTransferred,
			Actor:         caller,
			PreviousOwner: previous,
			NewOwner:      newOwner,
		})
	})
	if err != nil {
		s.recordFailure(ctx, nil, "transfer_ownership", err)
		return err
	}
	s.logAudit(ctx, string(notify.EventOwnershipTransferred),
		"previous_owner", previous,
		"new_owner", newOwner,
		"at", s.now(ctx).Format(time.RFC3339),
	)
	return nil
}
