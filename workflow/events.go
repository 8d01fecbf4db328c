package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

// Event types pushed to subscribers. The field set is wire-visible:
// progress events carry type, step, percent, message, workflow_id and
// substep (null when absent); completion events add completed=true;
// pause events use type human_review_required with workflow_paused.
const (
	EventTypeProgress       = "progress"
	EventTypeCompleted      = "completed"
	EventTypeError          = "error"
	EventTypeReviewRequired = "human_review_required"
)

// Event is a push notification for one workflow.
type Event struct {
	Type       string  `json:"type"`
	Step       string  `json:"step"`
	Percent    int     `json:"percent"`
	Message    string  `json:"message"`
	WorkflowID string  `json:"workflow_id"`
	Substep    *string `json:"substep"`

	Completed      bool `json:"completed,omitempty"`
	WorkflowPaused bool `json:"workflow_paused,omitempty"`

	// Extra carries event-specific additions (survey_id, scores,
	// error text) flattened into the wire object.
	Extra map[string]any `json:"-"`
}

func newProgressEvent(workflowID, step, substep string, percent int, extra map[string]any) Event {
	evt := Event{
		Type:       EventTypeProgress,
		Step:       step,
		Percent:    percent,
		Message:    StepMessage(step),
		WorkflowID: workflowID,
		Extra:      extra,
	}
	if substep != "" {
		evt.Substep = &substep
	}
	return evt
}

// MarshalJSON flattens Extra into the top-level object. Fixed fields
// win on key collision.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["type"] = e.Type
	out["step"] = e.Step
	out["percent"] = e.Percent
	out["message"] = e.Message
	out["workflow_id"] = e.WorkflowID
	out["substep"] = e.Substep
	if e.Completed {
		out["completed"] = true
	}
	if e.WorkflowPaused {
		out["workflow_paused"] = true
	}
	return json.Marshal(out)
}

// ProgressSubject returns the NATS subject progress events for a
// workflow are published to.
func ProgressSubject(workflowID string) string {
	return fmt.Sprintf("survey.progress.%s", workflowID)
}

// Notifier pushes events to workflow subscribers over NATS. Delivery
// is best effort: publish failures are logged and swallowed, and
// Notify never blocks beyond its context.
type Notifier struct {
	nc     *natsclient.Client
	logger *slog.Logger
}

// NewNotifier creates a notifier. A nil client yields a notifier that
// drops every event, which is useful in tests.
func NewNotifier(nc *natsclient.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{nc: nc, logger: logger}
}

// Notify publishes an event for the workflow. Returns true when the
// publish was handed to NATS, false when there was no client or the
// publish failed. It never returns an error to the caller.
func (n *Notifier) Notify(ctx context.Context, workflowID string, evt Event) bool {
	if n == nil || n.nc == nil {
		return false
	}

	data, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("marshal progress event",
			"workflow_id", workflowID,
			"error", err)
		return false
	}

	// Bound the publish so a slow broker cannot stall the pipeline.
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.nc.Publish(pubCtx, ProgressSubject(workflowID), data); err != nil {
		n.logger.Warn("progress event dropped",
			"workflow_id", workflowID,
			"step", evt.Step,
			"error", err)
		return false
	}
	return true
}
