package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"bondledger/internal/notify"
	"bondledger/internal/reconcile"
	"bondledger/internal/series/models"
	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Claim identifies what a holder is redeeming. BalanceClaim and LotClaim are
// the two implementations.
type Claim interface {
	kind() string
	lockKeys(holder domain.CallerID) []string
	// prepare resolves the claim and checks existence, policy and the
	// exactly-once rule. It must not mutate anything.
	prepare(ctx context.Context, s *Service, holder domain.CallerID) (*settlement, error)
}

// BalanceClaim redeems units of a fungible series. Amount 0 redeems the
// holder's whole balance.
type BalanceClaim struct {
	SeriesID domain.SeriesID
	Amount   uint64
}

// LotClaim redeems one lot by its index in the holder's record list.
type LotClaim struct {
	Index int
}

type settlement struct {
	series    *models.Series
	principal uint64
	lotIndex  *int
	settle    func(ctx context.Context, now time.Time) error
}

func (c BalanceClaim) kind() string { return "balance" }

func (c BalanceClaim) lockKeys(holder domain.CallerID) []string {
	return []string{seriesLockKey(c.SeriesID), holderLockKey(holder)}
}

func (c BalanceClaim) prepare(ctx context.Context, s *Service, holder domain.CallerID) (*settlement, error) {
	series, err := s.loadSeries(ctx, c.SeriesID)
	if err != nil {
		return nil, err
	}
	if series.Model != models.ModelFungible {
		return nil, dErrors.Newf(dErrors.CodeInvalidParameter, "series %d is redeemed by lot", c.SeriesID)
	}
	if err := s.checkRedeemable(series); err != nil {
		return nil, err
	}
	balance, err := s.ledger.BalanceOf(ctx, c.SeriesID, holder)
	if err != nil {
		return nil, storeError(err, "failed to read balance")
	}
	units := c.Amount
	if units == 0 {
		units = balance
	}
	if balance == 0 {
		redeemed, err := s.ledger.RedeemedOf(ctx, c.SeriesID, holder)
		if err != nil {
			return nil, storeError(err, "failed to read redemptions")
		}
		if redeemed > 0 {
			return nil, dErrors.Newf(dErrors.CodeAlreadyRedeemed, "holding in series %d already redeemed", c.SeriesID)
		}
		return nil, dErrors.Newf(dErrors.CodeInsufficientBalance, "no holding in series %d", c.SeriesID)
	}
	if balance < units {
		return nil, dErrors.Newf(dErrors.CodeInsufficientBalance, "balance %d is less than %d", balance, units)
	}
	return &settlement{
		series:    series,
		principal: units,
		settle: func(ctx context.Context, _ time.Time) error {
			return storeError(s.ledger.Burn(ctx, c.SeriesID, holder, units), "failed to burn units")
		},
	}, nil
}

func (c LotClaim) kind() string { return "lot" }

// Lots never change series state, so only the holder is locked.
func (c LotClaim) lockKeys(holder domain.CallerID) []string {
	return []string{holderLockKey(holder)}
}

func (c LotClaim) prepare(ctx context.Context, s *Service, holder domain.CallerID) (*settlement, error) {
	lot, err := s.investments.Get(ctx, holder, c.Index)
	if err != nil {
		return nil, storeError(err, "failed to read investment")
	}
	series, err := s.loadSeries(ctx, lot.SeriesID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRedeemable(series); err != nil {
		return nil, err
	}
	if lot.Redeemed {
		return nil, dErrors.Newf(dErrors.CodeAlreadyRedeemed, "investment %d already redeemed", c.Index)
	}
	idx := c.Index
	return &settlement{
		series:    series,
		principal: lot.Amount,
		lotIndex:  &idx,
		settle: func(ctx context.Context, now time.Time) error {
			_, err := s.investments.MarkRedeemed(ctx, holder, idx, now)
			return storeError(err, "failed to mark investment redeemed")
		},
	}, nil
}

func (s *Service) checkRedeemable(series *models.Series) error {
	if s.policy == PolicyStrict && !series.Active {
		return dErrors.Newf(dErrors.CodeBondInactive, "series %d is not open for redemption", series.ID)
	}
	return nil
}

// Redeem pays out principal plus interest for a matured claim. The claim is
// settled (burned or flagged) before the escrow disbursement is requested, so
// a re-entrant call from the gateway sees it as already redeemed. A failed
// disbursement rolls the settlement back.
func (s *Service) Redeem(ctx context.Context, caller domain.CallerID, claim Claim) (*Redemption, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "bond.Redeem",
		attribute.String("claim", claim.kind()),
		attribute.String("holder", caller.String()),
	)
	defer span.End()

	if caller.IsNull() {
		err := dErrors.New(dErrors.CodeInvalidParameter, "redeemer must not be the null identity")
		s.recordFailure(ctx, span, "redeem", err)
		return nil, err
	}

	var (
		result  *Redemption
		paidOut *unsettled
	)
	err := s.tx.RunInTx(ctx, claim.lockKeys(caller), func(ctx context.Context) error {
		st, err := claim.prepare(ctx, s, caller)
		if err != nil {
			return err
		}
		now := s.now(ctx)
		if !st.series.IsMatured(now) {
			return dErrors.Newf(dErrors.CodeNotMatured, "series %d matures at %s", st.series.ID, st.series.Maturity.Format(time.RFC3339))
		}
		interest, payout, err := amount.Payout(st.principal, st.series.InterestBps)
		if err != nil {
			return err
		}

		if err := st.settle(ctx, now); err != nil {
			return err
		}
		if err := s.emit(ctx, notify.Event{
			Type:      notify.EventRedeemed,
			Actor:     caller,
			SeriesID:  st.series.ID,
			Holder:    caller,
			Principal: st.principal,
			Interest:  interest,
			Payout:    payout,
			LotIndex:  st.lotIndex,
		}); err != nil {
			return err
		}
		if err := s.gateway.Disburse(ctx, caller, payout); err != nil {
			return dErrors.Wrap(err, dErrors.CodeEscrowFailure, "payout disbursement failed")
		}
		paidOut = &unsettled{
			kind:     reconcile.KindUncommittedPayout,
			holder:   caller,
			seriesID: st.series.ID,
			lotIndex: st.lotIndex,
			value:    payout,
		}

		result = &Redemption{
			SeriesID:  st.series.ID,
			Holder:    caller,
			Principal: st.principal,
			Interest:  interest,
			Payout:    payout,
			LotIndex:  st.lotIndex,
		}
		return nil
	})
	if err != nil {
		if paidOut != nil {
			paidOut.cause = err
			s.flagUnsettled(ctx, *paidOut)
		}
		s.recordFailure(ctx, span, "redeem", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("series_id", int64(result.SeriesID)))
	s.logAudit(ctx, string(notify.EventRedeemed),
		"series_id", result.SeriesID,
		"holder", caller,
		"principal", result.Principal,
		"interest", result.Interest,
		"payout", result.Payout,
	)
	if s.metrics != nil {
		s.metrics.Redemptions.WithLabelValues(claim.kind()).Inc()
		s.metrics.PayoutDisbursed.Add(float64(result.Payout))
		s.metrics.ObserveRedeem(start)
	}
	return result, nil
}
