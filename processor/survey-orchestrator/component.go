// Package surveyorchestrator provides a processor that consumes RFQ
// submissions from JetStream and runs the survey generation pipeline
// for each one.
package surveyorchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/surveygen/config"
	_ "github.com/c360studio/surveygen/llm/providers" // register providers
	"github.com/c360studio/surveygen/workflow"
	"github.com/c360studio/surveygen/workflow/evaluation"
)

// Component implements the survey-orchestrator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	appConfig *config.Config
	engine    *workflow.Engine
	registry  *workflow.Registry
	rules     *evaluation.RuleSet

	// JetStream consumer
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	submissionsProcessed atomic.Int64
	runsCompleted        atomic.Int64
	runsPaused           atomic.Int64
	runsFailed           atomic.Int64
	lastActivityMu       sync.RWMutex
	lastActivity         time.Time
}

// NewComponent creates a new survey-orchestrator processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = defaults.StreamName
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaults.ConsumerName
	}
	if cfg.SubmitSubject == "" {
		cfg.SubmitSubject = defaults.SubmitSubject
	}
	if cfg.Ports == nil {
		cfg.Ports = defaults.Ports
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "survey-orchestrator",
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

	c.logger.Debug("Initialized survey-orchestrator",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"submit_subject", c.config.SubmitSubject)
	return nil
}

// Start wires the pipeline engine and begins consuming submissions.
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

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	wiring, err := BuildEngine(subCtx, c.appConfig, c.natsClient, js, c.logger)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("build engine: %w", err)
	}
	c.engine = wiring.Engine
	c.registry = wiring.Registry
	c.rules = wiring.Rules

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.SubmitSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       180 * time.Second, // Allow time for LLM
		MaxDeliver:    3,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("survey-orchestrator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.SubmitSubject)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes messages from the JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage parses a submission, admits it, and runs the pipeline.
// The message is acked once the run is admitted: a generation run can
// outlive the ack window, and the engine reports its own outcome via
// terminal events rather than redelivery.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message during shutdown", "error", err)
		}
		return
	}

	c.submissionsProcessed.Add(1)
	c.updateLastActivity()

	var baseMsg message.BaseMessage
	if err := json.Unmarshal(msg.Data(), &baseMsg); err != nil {
		c.logger.Error("Failed to parse message", "error", err)
		// Malformed payloads never become parseable; drop them.
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	var submission workflow.SubmissionPayload
	payloadBytes, err := json.Marshal(baseMsg.Payload())
	if err == nil {
		err = json.Unmarshal(payloadBytes, &submission)
	}
	if err == nil {
		err = submission.Validate()
	}
	if err != nil {
		c.logger.Error("Invalid submission payload", "error", err)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	c.logger.Info("Processing RFQ submission",
		"workflow_id", submission.WorkflowID,
		"rfq_id", submission.RFQID,
		"title", submission.Title,
		"enhanced", submission.Enhanced)

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runPipeline(ctx, submission.Request())
	}()
}

// runPipeline executes one generation run and records its outcome.
func (c *Component) runPipeline(ctx context.Context, req workflow.NewRequest) {
	state, err := c.engine.Run(ctx, req)
	c.updateLastActivity()

	switch {
	case errors.Is(err, workflow.ErrWorkflowPaused):
		c.runsPaused.Add(1)
		c.logger.Info("Run paused for review",
			"workflow_id", state.WorkflowID,
			"survey_id", state.SurveyID)
	case err != nil:
		c.runsFailed.Add(1)
		c.logger.Error("Run failed", "error", err)
	default:
		c.runsCompleted.Add(1)
		c.logger.Info("Run completed",
			"workflow_id", state.WorkflowID,
			"survey_id", state.SurveyID,
			"quality_gate_passed", state.QualityGatePassed,
			"overall_score", state.OverallScore)
	}
}

// Engine exposes the wired pipeline engine for sibling components.
func (c *Component) Engine() *workflow.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}

// Stop gracefully stops the component.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for in-flight runs, bounded by the stop timeout.
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			c.logger.Warn("Stopped with runs still in flight")
		}
	}

	c.logger.Info("survey-orchestrator stopped",
		"submissions_processed", c.submissionsProcessed.Load(),
		"runs_completed", c.runsCompleted.Load(),
		"runs_paused", c.runsPaused.Load(),
		"runs_failed", c.runsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "survey-orchestrator",
		Type:        "processor",
		Description: "Consumes RFQ submissions and runs the survey generation pipeline",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return orchestratorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.runsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
