package service

import (
	"context"
	"strings"

	"bondledger/internal/notify"
	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// CreateSeries opens a new series. Owner only; the id is the next in sequence
// and maturity is fixed at now + MaturityOffset.
func (s *Service) CreateSeries(ctx context.Context, caller domain.CallerID, req CreateSeriesRequest) (*models.Series, error) {
	var created *models.Series
	err := s.tx.RunInTx(ctx, []string{ownerLockKey}, func(ctx context.Context) error {
		if err := s.authority.RequireOwner(ctx, caller); err != nil {
			return err
		}
		id, err := s.series.NextID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate series id")
		}
		meta := models.Metadata{
			Name:   strings.TrimSpace(req.Name),
			Symbol: strings.TrimSpace(req.Symbol),
			Model:  req.Model,
		}
		series, err := models.NewSeries(id, req.InterestBps, req.MaturityOffset, meta, s.now(ctx))
		if err != nil {
			return err
		}
		if err := s.series.Create(ctx, series); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create series")
		}
		maturity := series.Maturity
		created = series
		return s.emit(ctx, notify.Event{
			Type:        notify.EventSeriesCreated,
			Actor:       caller,
			SeriesID:    series.ID,
			InterestBps: series.InterestBps,
			Maturity:    &maturity,
			Name:        series.Name,
			Symbol:      series.Symbol,
		})
	})
	if err != nil {
		s.recordFailure(ctx, nil, "create_series", err)
		return nil, err
	}

	s.logAudit(ctx, string(notify.EventSeriesCreated),
		"series_id", created.ID,
		"interest_bps", created.InterestBps,
		"maturity", created.Maturity,
		"model", string(created.Model),
	)
	if s.metrics != nil {
		s.metrics.SeriesCreated.Inc()
	}
	return created, nil
}

// Deactivate closes a series to purchases. Deactivating an inactive series
// succeeds without emitting anything.
func (s *Service) Deactivate(ctx context.Context, caller domain.CallerID, id domain.SeriesID) (*models.Series, error) {
	return s.setActive(ctx, caller, id, false)
}

// Reactivate reopens a deactivated series.
func (s *Service) Reactivate(ctx context.Context, caller domain.CallerID, id domain.SeriesID) (*models.Series, error) {
	return s.setActive(ctx, caller, id, true)
}

func (s *Service) setActive(ctx context.Context, caller domain.CallerID, id domain.SeriesID, active bool) (*models.Series, error) {
	operation, eventType := "deactivate_series", notify.EventSeriesDeactivated
	if active {
		operation, eventType = "reactivate_series", notify.EventSeriesReactivated
	}

	var (
		result  *models.Series
		changed bool
	)
	err := s.tx.RunInTx(ctx, []string{ownerLockKey, seriesLockKey(id)}, func(ctx context.Context) error {
		if err := s.authority.RequireOwner(ctx, caller); err != nil {
			return err
		}
		series, err := s.loadSeries(ctx, id)
		if err != nil {
			return err
		}
		now := s.now(ctx)
		if active {
			changed = series.Reactivate(now)
		} else {
			changed = series.Deactivate(now)
		}
		result = series
		if !changed {
			return nil
		}
		if err := s.series.Update(ctx, series); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update series")
		}
		return s.emit(ctx, notify.Event{Type: eventType, Actor: caller, SeriesID: id})
	})
	if err != nil {
		s.recordFailure(ctx, nil, operation, err)
		return nil, err
	}
	if changed {
		s.logAudit(ctx, string(eventType), "series_id", id)
	}
	return result, nil
}

func (s *Service) GetSeries(ctx context.Context, id domain.SeriesID) (*models.Series, error) {
	var series *models.Series
	err := s.tx.RunInTx(ctx, []string{seriesLockKey(id)}, func(ctx context.Context) error {
		var err error
		series, err = s.loadSeries(ctx, id)
		return err
	})
	return series, err
}

// ListSeries holds the owner key so no creation is in flight, then the key of
// every listed series before reading them again.
func (s *Service) ListSeries(ctx context.Context) ([]*models.Series, error) {
	var list []*models.Series
	err := s.tx.RunInTx(ctx, []string{ownerLockKey}, func(ctx context.Context) error {
		ids, err := s.series.List(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list series")
		}
		keys := make([]string, len(ids))
		for i, series := range ids {
			keys[i] = seriesLockKey(series.ID)
		}
		return s.tx.RunInTx(ctx, keys, func(ctx context.Context) error {
			if list, err = s.series.List(ctx); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list series")
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
