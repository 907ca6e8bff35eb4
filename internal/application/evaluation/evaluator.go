// Package evaluation decides when a multivariant test completes and which
// variant wins.
package evaluation

import (
	"context"
	"time"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// CompletionObserver is notified when a test completes, labelled by reason.
// Implemented by the prometheus package.
type CompletionObserver interface {
	TestCompleted(reason string)
}

type nopObserver struct{}

func (nopObserver) TestCompleted(string) {}

// Evaluator runs the winner state machine over tests.  Manual declarations
// always win; automatic evaluation is event-driven via the tracker hook and
// periodic via Run.
type Evaluator struct {
	tests    experiment.TestRepository
	tracker  *tracking.Tracker
	observer CompletionObserver
	clock    common.Clock
	logger   logging.Logger
}

// NewEvaluator builds an evaluator.  observer may be nil.
func NewEvaluator(
	tests experiment.TestRepository,
	tracker *tracking.Tracker,
	observer CompletionObserver,
	clock common.Clock,
	logger logging.Logger,
) *Evaluator {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Evaluator{
		tests:    tests,
		tracker:  tracker,
		observer: observer,
		clock:    clock,
		logger:   logger.Named("evaluation"),
	}
}

// DeclareWinner manually completes a test with the given winner.  Repeating
// the call with the same winner on a completed test is an idempotent no-op;
// a different winner is a conflict.  The winner must belong to the test.
func (e *Evaluator) DeclareWinner(ctx context.Context, testID, variantID common.ID) (*experiment.Test, error) {
	test, err := e.tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !test.HasVariant(variantID) {
		return nil, errors.InvalidParam("winner variant does not belong to test").
			WithDetail(variantID.String())
	}
	if test.Status == experiment.TestStatusCompleted {
		if test.WinnerVariantID != nil && *test.WinnerVariantID == variantID {
			return test, nil
		}
		return nil, errors.New(errors.ErrCodeTestCompleted, "test already completed with a different winner").
			WithDetail(test.ID.String())
	}

	if err := test.Complete(&variantID, experiment.ReasonManual, e.clock.Now()); err != nil {
		return nil, err
	}
	if err := e.tests.Update(ctx, test); err != nil {
		return nil, err
	}
	e.observer.TestCompleted(experiment.ReasonManual)
	e.logger.Info("winner declared manually",
		logging.String("test_id", testID.String()),
		logging.String("winner", variantID.String()))
	return test, nil
}

// EvaluateTest runs one automatic completion check.  It is a no-op for
// tests that are not active, have auto-declare disabled, or have not hit a
// trigger yet.  Races with a concurrent completion resolve to a no-op.
func (e *Evaluator) EvaluateTest(ctx context.Context, testID common.ID) error {
	test, err := e.tests.GetByID(ctx, testID)
	if err != nil {
		return err
	}
	if !test.IsActive() || !test.AutoDeclareWinner {
		return nil
	}

	results, err := e.tracker.GetResults(ctx, testID)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	targetReached := true
	for _, v := range results.Variants {
		if v.SentCount < int64(test.TargetCount) {
			targetReached = false
			break
		}
	}
	durationElapsed := test.Expired(now)
	if !targetReached && !durationElapsed {
		return nil
	}

	winner := results.BestVariantID
	reason := experiment.ReasonTargetReached
	if !targetReached {
		reason = experiment.ReasonDurationElapsed
	}
	if results.InsufficientData {
		winner = nil
		reason = experiment.ReasonInsufficientData
	}

	if err := test.Complete(winner, reason, now); err != nil {
		if errors.IsCode(err, errors.ErrCodeTestCompleted) {
			return nil
		}
		return err
	}
	if err := e.tests.Update(ctx, test); err != nil {
		return err
	}
	e.observer.TestCompleted(reason)
	winnerLabel := "none"
	if winner != nil {
		winnerLabel = winner.String()
	}
	e.logger.Info("test completed automatically",
		logging.String("test_id", testID.String()),
		logging.String("reason", reason),
		logging.String("winner", winnerLabel))
	return nil
}

// CompletionHook adapts the evaluator to the tracker's event-driven check.
// Evaluation errors are logged, never propagated into event recording.
func (e *Evaluator) CompletionHook() tracking.CompletionHook {
	return func(ctx context.Context, testID common.ID) {
		if err := e.EvaluateTest(ctx, testID); err != nil {
			e.logger.Error("event-driven evaluation failed",
				logging.String("test_id", testID.String()),
				logging.Err(err))
		}
	}
}

// EvaluateAll checks every active test once.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	active, err := e.tests.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, test := range active {
		if err := e.EvaluateTest(ctx, test.ID); err != nil {
			e.logger.Error("periodic evaluation failed",
				logging.String("test_id", test.ID.String()),
				logging.Err(err))
		}
	}
	return nil
}

// Run evaluates all active tests on the given interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info("periodic evaluation started", logging.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("periodic evaluation stopped")
			return
		case <-ticker.C:
			_ = e.EvaluateAll(ctx)
		}
	}
}
