// Package reviewwatcher provides a component that watches the reviews
// KV bucket and resumes or terminates paused workflows when a human
// reviewer decides on a prompt.
package reviewwatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/surveygen/config"
	surveyorchestrator "github.com/c360studio/surveygen/processor/survey-orchestrator"
	"github.com/c360studio/surveygen/storage"
	"github.com/c360studio/surveygen/workflow"
)

// Component implements the review watcher processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	appConfig *config.Config
	engine    *workflow.Engine

	// Lifecycle management
	running    bool
	startTime  time.Time
	cancelFunc context.CancelFunc
	mu         sync.RWMutex
	wg         sync.WaitGroup

	// Metrics
	reviewsSeen      int64
	resumesTriggered int64
	rejectsTriggered int64
	lastActivity     time.Time
}

// NewComponent creates a new review watcher component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if cfg.ReviewsBucket == "" {
		cfg.ReviewsBucket = defaults.ReviewsBucket
	}
	if cfg.Ports == nil {
		cfg.Ports = defaults.Ports
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "review-watcher",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize loads the application config the engine will run under.
func (c *Component) Initialize() error {
	var appCfg *config.Config
	var err error

	if c.config.ConfigPath != "" {
		appCfg, err = config.LoadFromFile(c.config.ConfigPath)
		if err == nil {
			err = appCfg.Validate()
		}
	} else {
		appCfg, err = config.NewLoader(c.logger).Load()
	}
	if err != nil {
		return fmt.Errorf("load surveygen config: %w", err)
	}
	c.appConfig = appCfg

	c.logger.Debug("Initialized review-watcher",
		"reviews_bucket", c.config.ReviewsBucket)
	return nil
}

// SetEngine injects a pre-wired engine, letting the watcher share the
// orchestrator's registry and breaker instead of building its own.
// Passing nil is a no-op.
func (c *Component) SetEngine(e *workflow.Engine) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = e
}

// Start begins watching for review status changes.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}

	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.running = true
	c.startTime = time.Now()
	engine := c.engine
	c.mu.Unlock()

	if engine == nil {
		js, err := c.natsClient.JetStream()
		if err != nil {
			cancel()
			return fmt.Errorf("get jetstream: %w", err)
		}
		wiring, err := surveyorchestrator.BuildEngine(watchCtx, c.appConfig, c.natsClient, js, c.logger)
		if err != nil {
			cancel()
			return fmt.Errorf("build engine: %w", err)
		}
		c.mu.Lock()
		c.engine = wiring.Engine
		c.mu.Unlock()
	}

	c.logger.Info("Review watcher started",
		"reviews_bucket", c.config.ReviewsBucket)

	go c.watchReviews(watchCtx)

	return nil
}

// watchReviews watches the reviews KV bucket for status changes.
func (c *Component) watchReviews(ctx context.Context) {
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.logger.Error("Failed to get JetStream context", "error", err)
		return
	}

	kv, err := js.KeyValue(ctx, c.config.ReviewsBucket)
	if err != nil {
		c.logger.Error("Failed to get KV bucket", "bucket", c.config.ReviewsBucket, "error", err)
		return
	}

	// UpdatesOnly skips the initial replay: decisions made while the
	// watcher was down are handled by operators re-saving the review.
	watcher, err := kv.Watch(ctx, ">", jetstream.UpdatesOnly())
	if err != nil {
		c.logger.Error("Failed to create KV watcher", "error", err)
		return
	}
	defer watcher.Stop()

	c.logger.Debug("Watching for review updates", "bucket", c.config.ReviewsBucket)

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				continue
			}

			if entry.Operation() == jetstream.KeyValueDelete {
				continue
			}

			c.handleReview(ctx, entry)
		}
	}
}

// handleReview processes a review update entry.
func (c *Component) handleReview(ctx context.Context, entry jetstream.KeyValueEntry) {
	c.mu.Lock()
	c.reviewsSeen++
	c.lastActivity = time.Now()
	c.mu.Unlock()

	var review storage.Review
	if err := json.Unmarshal(entry.Value(), &review); err != nil {
		c.logger.Warn("Failed to parse review", "key", entry.Key(), "error", err)
		return
	}

	c.logger.Debug("Review update",
		"review_id", review.ID,
		"workflow_id", review.WorkflowID,
		"status", review.Status)

	switch review.Status {
	case storage.ReviewStatusApproved:
		c.publishEvent(ctx, "survey.events.review.approved", workflow.ReviewApprovedEvent{
			WorkflowID:   review.WorkflowID,
			SurveyID:     review.SurveyID,
			ReviewID:     review.ID,
			Reviewer:     review.Reviewer,
			EditedPrompt: review.EditedPrompt,
		})
		c.resumeWorkflow(ctx, &review)
	case storage.ReviewStatusRejected:
		c.publishEvent(ctx, "survey.events.review.rejected", workflow.ReviewRejectedEvent{
			WorkflowID: review.WorkflowID,
			SurveyID:   review.SurveyID,
			ReviewID:   review.ID,
			Reviewer:   review.Reviewer,
			Comment:    review.Comment,
		})
		c.rejectWorkflow(ctx, &review)
	}
}

// resumeWorkflow continues a paused run after an approval.
func (c *Component) resumeWorkflow(ctx context.Context, review *storage.Review) {
	if review.WorkflowID == "" {
		c.logger.Warn("Approved review has no workflow id", "review_id", review.ID)
		return
	}

	c.mu.Lock()
	c.resumesTriggered++
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		state, err := c.engine.Resume(ctx, review.WorkflowID)
		switch {
		case errors.Is(err, workflow.ErrWorkflowPaused):
			c.logger.Warn("Resumed workflow paused again",
				"workflow_id", review.WorkflowID)
		case err != nil:
			c.logger.Error("Failed to resume workflow",
				"workflow_id", review.WorkflowID,
				"review_id", review.ID,
				"error", err)
		default:
			c.logger.Info("Workflow resumed to completion",
				"workflow_id", review.WorkflowID,
				"survey_id", state.SurveyID,
				"quality_gate_passed", state.QualityGatePassed)
		}
	}()
}

// rejectWorkflow terminates a paused run after a rejection.
func (c *Component) rejectWorkflow(ctx context.Context, review *storage.Review) {
	if review.WorkflowID == "" {
		c.logger.Warn("Rejected review has no workflow id", "review_id", review.ID)
		return
	}

	c.mu.Lock()
	c.rejectsTriggered++
	c.mu.Unlock()

	reason := "prompt review rejected"
	if review.Comment != "" {
		reason = fmt.Sprintf("prompt review rejected: %s", review.Comment)
	}

	if _, err := c.engine.Reject(ctx, review.WorkflowID, reason); err != nil {
		c.logger.Error("Failed to reject workflow",
			"workflow_id", review.WorkflowID,
			"review_id", review.ID,
			"error", err)
		return
	}

	c.logger.Info("Workflow terminated after review rejection",
		"workflow_id", review.WorkflowID,
		"review_id", review.ID)
}

// publishEvent publishes a review lifecycle event, best effort.
func (c *Component) publishEvent(ctx context.Context, subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to marshal review event", "subject", subject, "error", err)
		return
	}

	if err := c.natsClient.Publish(ctx, subject, data); err != nil {
		c.logger.Warn("Failed to publish review event", "subject", subject, "error", err)
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancelFunc
	c.running = false
	c.cancelFunc = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			c.logger.Warn("Stopped with resumptions still in flight")
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	c.logger.Info("Review watcher stopped",
		"reviews_seen", c.reviewsSeen,
		"resumes_triggered", c.resumesTriggered,
		"rejects_triggered", c.rejectsTriggered)

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "review-watcher",
		Type:        "processor",
		Description: "Watches review decisions and resumes or terminates paused workflows",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "review-updates",
			Direction:   component.DirectionInput,
			Description: "Watch for review status changes",
			Config: component.KVWatchPort{
				Bucket: c.config.ReviewsBucket,
				Keys:   []string{">"},
			},
		},
	}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "review-events",
			Direction:   component.DirectionOutput,
			Description: "Publish review lifecycle events",
			Config: component.NATSPort{
				Subject: "survey.events.review.>",
			},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return watcherSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "stopped"
	if c.running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    c.running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(c.startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.lastActivity,
	}
}
