package workflow

import (
	"log/slog"
	"sync"
	"time"
)

// StepRange declares the progress percentage band a step may occupy.
// Ranges in a table never overlap.
type StepRange struct {
	Min int
	Max int
}

// Span returns the width of the range.
func (r StepRange) Span() int { return r.Max - r.Min }

// RangeTable maps step names to their declared progress bands. The
// main generation workflow, the document-parsing sub-workflow and the
// field-extraction sub-workflow each declare their own table.
type RangeTable map[string]StepRange

// Step names for the main generation workflow.
const (
	StepInitializing     = "initializing_workflow"
	StepParsingRFQ       = "parsing_rfq"
	StepRetrieving       = "retrieving_examples"
	StepBuildingContext  = "building_context"
	StepAwaitingReview   = "awaiting_prompt_review"
	StepGenerating       = "generating_questions"
	StepDetectingLabels  = "detecting_labels"
	StepValidation       = "validation_scoring"
	StepEvaluatingPillar = "evaluating_pillars"
	StepFinalizing       = "finalizing"
	StepCompleted        = "completed"
)

// GenerationRanges is the range table for the main RFQ-to-survey run.
var GenerationRanges = RangeTable{
	StepInitializing:     {0, 5},
	StepParsingRFQ:       {5, 8},
	StepRetrieving:       {8, 10},
	StepBuildingContext:  {10, 25},
	StepAwaitingReview:   {25, 35},
	StepGenerating:       {35, 60},
	StepDetectingLabels:  {60, 65},
	StepValidation:       {65, 75},
	StepEvaluatingPillar: {75, 85},
	StepFinalizing:       {85, 95},
	StepCompleted:        {95, 100},
}

// Step names for the enhanced-RFQ sub-workflows.
const (
	StepUploadingDocument  = "uploading_document"
	StepParsingDocument    = "parsing_document"
	StepConvertingContent  = "converting_content"
	StepDocumentReady      = "document_ready"
	StepExtractingFields   = "extracting_fields"
	StepMappingFields      = "mapping_fields"
	StepExtractionComplete = "extraction_complete"
)

// DocumentParseRanges is the range table for the document-parsing
// sub-workflow used by enhanced RFQ submissions.
var DocumentParseRanges = RangeTable{
	StepUploadingDocument: {0, 10},
	StepParsingDocument:   {10, 50},
	StepConvertingContent: {50, 80},
	StepDocumentReady:     {80, 100},
}

// FieldExtractionRanges is the range table for the field-extraction
// sub-workflow that maps parsed document content onto RFQ fields.
var FieldExtractionRanges = RangeTable{
	StepExtractingFields:   {0, 60},
	StepMappingFields:      {60, 90},
	StepExtractionComplete: {90, 100},
}

// stepMessages maps steps to the human-readable text carried on
// progress events.
var stepMessages = map[string]string{
	StepInitializing:      "Setting up your survey workflow",
	StepParsingRFQ:        "Reading your research brief",
	StepRetrieving:        "Finding similar surveys to learn from",
	StepBuildingContext:   "Assembling generation context",
	StepAwaitingReview:    "Waiting for prompt review",
	StepGenerating:        "Drafting survey questions",
	StepDetectingLabels:   "Tagging question types",
	StepValidation:        "Checking survey structure",
	StepEvaluatingPillar:  "Scoring survey quality",
	StepFinalizing:        "Finalizing your survey",
	StepCompleted:         "Survey ready",
	StepUploadingDocument:  "Receiving your document",
	StepParsingDocument:    "Reading your document",
	StepConvertingContent:  "Extracting document content",
	StepDocumentReady:      "Document processed",
	StepExtractingFields:   "Identifying research details",
	StepMappingFields:      "Mapping details to your brief",
	StepExtractionComplete: "Research brief ready",
}

// StepRecord is one entry in a tracker's diagnostic history.
type StepRecord struct {
	Step      string    `json:"step"`
	Substep   string    `json:"substep,omitempty"`
	Percent   int       `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker computes monotonically non-decreasing progress percentages
// for one workflow. It never returns an error: unknown steps degrade
// to a logged no-op, and all results are clamped to the declared range
// and to 100. One tracker exists per workflow id; the engine tears it
// down on terminal, non-paused completion.
type Tracker struct {
	mu sync.Mutex

	workflowID string
	ranges     RangeTable
	logger     *slog.Logger

	currentStep     string
	currentProgress int
	history         []StepRecord
}

// NewTracker creates a tracker for the given workflow using the
// supplied range table.
func NewTracker(workflowID string, ranges RangeTable, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		workflowID: workflowID,
		ranges:     ranges,
		logger:     logger,
	}
}

// StepProgress returns the progress percentage for entering or
// repeating a step. First entry lands at max(range.Min, current); a
// repeat advances by max(2, 10% of the range width), capped at the
// range max. The result never decreases relative to any prior call,
// regardless of step ordering.
func (t *Tracker) StepProgress(step, substep string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.ranges[step]
	if !ok {
		t.logger.Warn("unknown progress step",
			"workflow_id", t.workflowID,
			"step", step)
		return t.currentProgress
	}

	var next int
	if step == t.currentStep {
		inc := r.Span() / 10
		if inc < 2 {
			inc = 2
		}
		next = t.currentProgress + inc
		if next > r.Max {
			next = r.Max
		}
	} else {
		next = r.Min
		if t.currentProgress > next {
			// A later step already pushed us past this step's
			// declared minimum; hold position instead of regressing.
			t.logger.Debug("clamping step progress to current",
				"workflow_id", t.workflowID,
				"step", step,
				"declared_min", r.Min,
				"current", t.currentProgress)
			next = t.currentProgress
		}
	}
	if next > 100 {
		next = 100
	}
	if next < t.currentProgress {
		next = t.currentProgress
	}

	t.currentStep = step
	t.currentProgress = next
	t.record(step, substep, next)
	return next
}

// FinalProgress force-sets progress to the step's declared maximum,
// capped at 100. Used when a step is known to have completed. Calling
// it twice in a row yields the same value.
func (t *Tracker) FinalProgress(step string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.ranges[step]
	if !ok {
		t.logger.Warn("unknown progress step",
			"workflow_id", t.workflowID,
			"step", step)
		return t.currentProgress
	}

	next := r.Max
	if next > 100 {
		next = 100
	}
	if next < t.currentProgress {
		next = t.currentProgress
	}

	t.currentStep = step
	t.currentProgress = next
	t.record(step, "", next)
	return next
}

// Current returns the last computed progress percentage.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentProgress
}

// History returns a copy of the append-only step log.
func (t *Tracker) History() []StepRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepRecord, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) record(step, substep string, percent int) {
	t.history = append(t.history, StepRecord{
		Step:      step,
		Substep:   substep,
		Percent:   percent,
		Timestamp: time.Now().UTC(),
	})
}

// ProgressEvent bundles the current step progress into a wire event.
func (t *Tracker) ProgressEvent(step, substep string, extra map[string]any) Event {
	percent := t.StepProgress(step, substep)
	return newProgressEvent(t.workflowID, step, substep, percent, extra)
}

// CompletionEvent forces the step to its final progress and marks the
// event completed.
func (t *Tracker) CompletionEvent(step string, extra map[string]any) Event {
	percent := t.FinalProgress(step)
	evt := newProgressEvent(t.workflowID, step, "", percent, extra)
	evt.Type = EventTypeCompleted
	evt.Completed = true
	return evt
}

// StepMessage returns the display text for a step, falling back to the
// step name itself.
func StepMessage(step string) string {
	if msg, ok := stepMessages[step]; ok {
		return msg
	}
	return step
}
