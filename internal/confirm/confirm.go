// Package confirm gates flaky numeric signals behind two-run confirmation.
//
// A regression observed once creates an unconfirmed record. If the
// immediately following run regresses the same metric again, the record
// is confirmed and exactly one finding is emitted; if the next run does
// not regress, the record is discarded. A metric that regresses only
// once, ever, never produces a finding.
package confirm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

// Engine drives ConfirmationRecord state transitions.
type Engine struct {
	store  monitor.ConfirmationStore
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(store monitor.ConfirmationStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// Observe records one metric observation for the current run and reports
// whether the regression is now confirmed. prevRunID is the run that
// immediately preceded this one for the customer and cadence ("" when
// there was none): an unconfirmed record only counts if it came from
// exactly that run.
func (e *Engine) Observe(
	ctx context.Context,
	customerID, metricKey string,
	regressed bool,
	value float64,
	runID, prevRunID string,
) (bool, error) {
	rec, exists, err := e.store.GetConfirmation(ctx, customerID, metricKey)
	if err != nil {
		return false, fmt.Errorf("get confirmation: %w", err)
	}

	if !regressed {
		// Recovery clears both pending and confirmed records, so a later
		// regression can alert again from scratch.
		if exists {
			if err := e.store.DeleteConfirmation(ctx, customerID, metricKey); err != nil {
				return false, fmt.Errorf("discard confirmation: %w", err)
			}
			e.logger.Debug("regression record cleared on recovery",
				zap.String("customer_id", customerID),
				zap.String("metric_key", metricKey),
				zap.Bool("was_confirmed", rec.Confirmed),
			)
		}
		return false, nil
	}

	if exists && rec.Confirmed {
		// Terminal state; the finding was already emitted when it confirmed.
		return false, nil
	}

	if exists && prevRunID != "" && rec.FirstSeenRunID == prevRunID {
		rec.Confirmed = true
		rec.ObservedValue = value
		if err := e.store.PutConfirmation(ctx, rec); err != nil {
			return false, fmt.Errorf("confirm regression: %w", err)
		}
		return true, nil
	}

	// First sighting, or a stale record from a non-adjacent run: (re)start
	// the confirmation window at this run.
	if err := e.store.PutConfirmation(ctx, monitor.ConfirmationRecord{
		CustomerID:     customerID,
		MetricKey:      metricKey,
		ObservedValue:  value,
		FirstSeenRunID: runID,
	}); err != nil {
		return false, fmt.Errorf("record unconfirmed regression: %w", err)
	}
	return false, nil
}
