package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"bondledger/internal/reconcile"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/sentinel"
	txcontext "bondledger/pkg/platform/tx"
)

// unsettled describes collateral that moved while the ledger change around it
// did not commit.
type unsettled struct {
	kind     reconcile.Kind
	holder   domain.CallerID
	seriesID domain.SeriesID
	lotIndex *int
	value    uint64
	cause    error
}

// flagUnsettled logs the discrepancy and records it outside any transaction
// carried by ctx, so it survives the rollback that caused it.
func (s *Service) flagUnsettled(ctx context.Context, u unsettled) {
	ctx = txcontext.Detach(context.WithoutCancel(ctx))
	if s.metrics != nil {
		s.metrics.Unreconciled.WithLabelValues(string(u.kind)).Inc()
	}

	attrs := []any{
		"kind", string(u.kind),
		"holder", u.holder,
		"series_id", u.seriesID,
		"amount", u.value,
		"cause", u.cause,
	}
	if s.reconciler != nil {
		entry, err := reconcile.NewEntry(u.kind, u.holder, u.value, u.cause, s.now(ctx))
		if err == nil {
			entry.SeriesID = u.seriesID
			entry.LotIndex = u.lotIndex
			err = s.reconciler.Record(ctx, entry)
		}
		if err != nil {
			attrs = append(attrs, "record_error", err)
		} else {
			attrs = append(attrs, "reconciliation_id", entry.ID.String())
		}
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: collateral moved without a committed ledger change", attrs...)
	}
}

// OpenReconciliations lists unresolved discrepancies. Owner only.
func (s *Service) OpenReconciliations(ctx context.Context, caller domain.CallerID) ([]*reconcile.Entry, error) {
	if err := s.requireReconciler(ctx, caller); err != nil {
		return nil, err
	}
	entries, err := s.reconciler.ListOpen(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list reconciliation entries")
	}
	if entries == nil {
		entries = []*reconcile.Entry{}
	}
	return entries, nil
}

// ResolveReconciliation closes an entry once the collateral side has been
// settled by hand. Owner only; resolving twice is a no-op.
func (s *Service) ResolveReconciliation(ctx context.Context, caller domain.CallerID, id uuid.UUID) (*reconcile.Entry, error) {
	if err := s.requireReconciler(ctx, caller); err != nil {
		return nil, err
	}
	entry, err := s.reconciler.Resolve(ctx, id, s.now(ctx))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "reconciliation entry %s not found", id)
	}
	if err != nil {
		return nil, storeError(err, "failed to resolve reconciliation entry")
	}
	s.logAudit(ctx, "reconciliation_resolved",
		"reconciliation_id", id.String(),
		"kind", string(entry.Kind),
		"holder", entry.Holder,
		"resolved_by", caller,
	)
	return entry, nil
}

func (s *Service) requireReconciler(ctx context.Context, caller domain.CallerID) error {
	err := s.tx.RunInTx(ctx, []string{ownerLockKey}, func(ctx context.Context) error {
		return s.authority.RequireOwner(ctx, caller)
	})
	if err != nil {
		return err
	}
	if s.reconciler == nil {
		return dErrors.New(dErrors.CodeNotFound, "reconciliation is not configured")
	}
	return nil
}
