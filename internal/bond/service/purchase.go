package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"bondledger/internal/notify"
	"bondledger/internal/reconcile"
	"bondledger/internal/series/models"
	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Purchase deposits principal into escrow and mints the same number of units
// to caller on a fungible series.
func (s *Service) Purchase(ctx context.Context, caller domain.CallerID, id domain.SeriesID, principal uint64) (*Receipt, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "bond.Purchase",
		attribute.Int64("series_id", int64(id)),
		attribute.String("holder", caller.String()),
	)
	defer span.End()

	var receipt *Receipt
	err := s.purchase(ctx, caller, id, principal, models.ModelFungible, func(ctx context.Context, series *models.Series) error {
		if err := s.ledger.Mint(ctx, id, caller, principal); err != nil {
			return storeError(err, "failed to mint units")
		}
		receipt = &Receipt{
			SeriesID:    id,
			Holder:      caller,
			Principal:   principal,
			UnitsMinted: principal,
			TotalIssued: series.TotalIssued,
		}
		return s.emit(ctx, notify.Event{
			Type:      notify.EventPurchased,
			Actor:     caller,
			SeriesID:  id,
			Holder:    caller,
			Principal: principal,
			Units:     principal,
		})
	})
	if err != nil {
		s.recordFailure(ctx, span, "purchase", err)
		return nil, err
	}

	s.logAudit(ctx, string(notify.EventPurchased),
		"series_id", id,
		"holder", caller,
		"principal", principal,
	)
	if s.metrics != nil {
		s.metrics.Purchases.WithLabelValues(string(models.ModelFungible)).Inc()
		s.metrics.PrincipalIssued.Add(float64(principal))
		s.metrics.ObservePurchase(start)
	}
	return receipt, nil
}

// PurchaseLot deposits amount into escrow and records it as a new lot for
// caller on a lot series.
func (s *Service) PurchaseLot(ctx context.Context, caller domain.CallerID, id domain.SeriesID, value uint64) (*LotReceipt, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "bond.PurchaseLot",
		attribute.Int64("series_id", int64(id)),
		attribute.String("holder", caller.String()),
	)
	defer span.End()

	var receipt *LotReceipt
	err := s.purchase(ctx, caller, id, value, models.ModelLot, func(ctx context.Context, series *models.Series) error {
		idx, err := s.investments.Record(ctx, caller, id, value, s.now(ctx))
		if err != nil {
			return storeError(err, "failed to record investment")
		}
		receipt = &LotReceipt{
			SeriesID:    id,
			Investor:    caller,
			Index:       idx,
			Amount:      value,
			TotalIssued: series.TotalIssued,
		}
		return s.emit(ctx, notify.Event{
			Type:      notify.EventLotRecorded,
			Actor:     caller,
			SeriesID:  id,
			Holder:    caller,
			Principal: value,
			LotIndex:  &idx,
		})
	})
	if err != nil {
		s.recordFailure(ctx, span, "purchase_lot", err)
		return nil, err
	}

	s.logAudit(ctx, string(notify.EventLotRecorded),
		"series_id", id,
		"holder", caller,
		"principal", value,
		"lot_index", receipt.Index,
	)
	if s.metrics != nil {
		s.metrics.Purchases.WithLabelValues(string(models.ModelLot)).Inc()
		s.metrics.PrincipalIssued.Add(float64(value))
		s.metrics.ObservePurchase(start)
	}
	return receipt, nil
}

// purchase runs the checks shared by both models, takes the deposit and then
// calls credit. If anything fails after the deposit went through, the deposit
// is refunded.
func (s *Service) purchase(ctx context.Context, caller domain.CallerID, id domain.SeriesID, principal uint64, model models.Model, credit func(ctx context.Context, series *models.Series) error) error {
	if caller.IsNull() {
		return dErrors.New(dErrors.CodeInvalidParameter, "purchaser must not be the null identity")
	}
	if principal == 0 {
		return dErrors.New(dErrors.CodeInvalidParameter, "principal must be positive")
	}

	deposited := false
	err := s.tx.RunInTx(ctx, []string{seriesLockKey(id), holderLockKey(caller)}, func(ctx context.Context) error {
		series, err := s.loadSeries(ctx, id)
		if err != nil {
			return err
		}
		if series.Model != model {
			return dErrors.Newf(dErrors.CodeInvalidParameter, "series %d uses %s accounting", id, series.Model)
		}
		if !series.Active {
			return dErrors.Newf(dErrors.CodeBondInactive, "series %d is not open for purchase", id)
		}
		if err := series.Issue(principal, s.now(ctx)); err != nil {
			return err
		}
		if model == models.ModelFungible {
			if err := s.checkMintable(ctx, id, caller, principal); err != nil {
				return err
			}
		}

		if err := s.gateway.Deposit(ctx, caller, principal); err != nil {
			return dErrors.Wrap(err, dErrors.CodeEscrowFailure, "collateral deposit failed")
		}
		deposited = true

		if err := s.series.Update(ctx, series); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update series")
		}
		return credit(ctx, series)
	})
	if err != nil && deposited {
		s.refund(ctx, caller, id, principal, err)
	}
	return err
}

// checkMintable rejects a mint that would overflow before any collateral moves.
func (s *Service) checkMintable(ctx context.Context, id domain.SeriesID, holder domain.CallerID, units uint64) error {
	balance, err := s.ledger.BalanceOf(ctx, id, holder)
	if err != nil {
		return storeError(err, "failed to read balance")
	}
	if _, err := amount.Add(balance, units); err != nil {
		return err
	}
	supply, err := s.ledger.Supply(ctx, id)
	if err != nil {
		return storeError(err, "failed to read supply")
	}
	_, err = amount.Add(supply.TotalSupply, units)
	return err
}

func (s *Service) refund(ctx context.Context, caller domain.CallerID, id domain.SeriesID, principal uint64, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.gateway.Disburse(ctx, caller, principal); err != nil {
		s.flagUnsettled(ctx, unsettled{
			kind:     reconcile.KindFailedRefund,
			holder:   caller,
			seriesID: id,
			value:    principal,
			cause:    fmt.Errorf("%w; refund: %w", cause, err),
		})
		return
	}
	s.logAudit(ctx, "purchase_refunded", "holder", caller, "principal", principal, "cause", cause.Error())
}
