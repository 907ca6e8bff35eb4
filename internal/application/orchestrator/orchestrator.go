// Package orchestrator composes assignment, dispatch, and tracking into the
// single entry point the outreach flow uses.
package orchestrator

import (
	"context"

	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// Renderer produces the outbound payload for the chosen variant.  Content
// generation lives outside this core; callers inject whatever renders their
// templates.
type Renderer func(ctx context.Context, variant *experiment.Variant) (string, error)

// DispatchCommand describes one outreach request.
type DispatchCommand struct {
	TestID     common.ID
	ContactID  string
	AccountKey common.AccountKey
	Recipient  string
	Priority   dispatch.Priority
}

// Orchestrator holds its collaborators by explicit injection, constructed
// once at process start.  It registers itself as the queue's completion
// callback so delivery outcomes land in the tracker.
type Orchestrator struct {
	engine  *experiment.Engine
	tracker *tracking.Tracker
	queue   *dispatch.Queue
	logger  logging.Logger
}

// New wires an orchestrator and hooks it into the queue.
func New(engine *experiment.Engine, tracker *tracking.Tracker, queue *dispatch.Queue, logger logging.Logger) *Orchestrator {
	o := &Orchestrator{
		engine:  engine,
		tracker: tracker,
		queue:   queue,
		logger:  logger.Named("orchestrator"),
	}
	queue.SetCompletionCallback(o.onItemResolved)
	return o
}

// DispatchOutreach resolves the contact's variant, renders the payload, and
// queues the message.  A full test returns (nil, nil): the contact is
// skipped, not failed.  Enqueue success means accepted for delivery only;
// the sent or failed event is recorded when the queue resolves the item.
func (o *Orchestrator) DispatchOutreach(ctx context.Context, cmd DispatchCommand, render Renderer) (*dispatch.QueueItem, error) {
	if render == nil {
		return nil, errors.InvalidParam("renderer is required")
	}
	variant, err := o.engine.GetVariant(ctx, cmd.TestID, cmd.ContactID)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		o.logger.Debug("test full, outreach skipped",
			logging.String("test_id", cmd.TestID.String()),
			logging.String("contact_id", cmd.ContactID))
		return nil, nil
	}

	payload, err := render(ctx, variant)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "render outreach payload")
	}

	item, err := o.queue.Enqueue(ctx, dispatch.EnqueueCommand{
		AccountKey: cmd.AccountKey,
		Recipient:  cmd.Recipient,
		Payload:    payload,
		Priority:   cmd.Priority,
		Metadata: dispatch.ItemMetadata{
			TestID:    cmd.TestID,
			VariantID: variant.ID,
			ContactID: cmd.ContactID,
		},
	})
	if err != nil {
		return nil, err
	}
	o.logger.Debug("outreach queued",
		logging.String("item_id", item.ID.String()),
		logging.String("test_id", cmd.TestID.String()),
		logging.String("variant_id", variant.ID.String()))
	return item, nil
}

// onItemResolved records the delivery outcome against the item's test.
// Items without test correlation are plain messages and record nothing.
func (o *Orchestrator) onItemResolved(ctx context.Context, item *dispatch.QueueItem, sendErr error) {
	meta := item.Metadata
	if meta.TestID.IsZero() || meta.VariantID.IsZero() {
		return
	}
	var detail tracking.EventDetail
	if sendErr == nil {
		detail = tracking.SentDetail{}
	} else {
		detail = tracking.FailedDetail{Reason: sendErr.Error()}
	}
	if _, err := o.tracker.RecordEvent(ctx, meta.TestID, meta.VariantID, meta.ContactID, detail); err != nil {
		o.logger.Error("record delivery outcome",
			logging.String("item_id", item.ID.String()),
			logging.String("test_id", meta.TestID.String()),
			logging.Err(err))
	}
}
