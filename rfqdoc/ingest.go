package rfqdoc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/surveygen/storage"
	"github.com/c360studio/surveygen/workflow"
)

// Store is the persistence surface the ingestor needs.
type Store interface {
	CreateRFQ(ctx context.Context, r *storage.RFQ) (string, error)
	GetRFQ(ctx context.Context, id string) (*storage.RFQ, error)
	UpdateRFQ(ctx context.Context, r *storage.RFQ) error
}

// Ingestor runs the enhanced-RFQ document sub-workflows: parse an
// uploaded HTML document into readable content, then extract structured
// research-brief fields from it. Each phase reports progress on its own
// range table so subscribers see two 0-100 passes.
type Ingestor struct {
	converter *Converter
	extractor *Extractor
	store     Store
	notifier  *workflow.Notifier
	logger    *slog.Logger
}

// NewIngestor creates a document ingestor.
func NewIngestor(converter *Converter, extractor *Extractor, store Store, notifier *workflow.Notifier, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		converter: converter,
		extractor: extractor,
		store:     store,
		notifier:  notifier,
		logger:    logger,
	}
}

// Ingest processes an uploaded HTML document and persists the resulting
// enhanced RFQ. When rfqID is empty a new RFQ record is created;
// otherwise the existing record is enriched in place (its input fields
// stay untouched).
func (in *Ingestor) Ingest(ctx context.Context, workflowID, rfqID string, htmlContent []byte, sourceURL string) (*storage.RFQ, error) {
	doc, err := in.parseDocument(ctx, workflowID, htmlContent, sourceURL)
	if err != nil {
		return nil, err
	}

	return in.extractFields(ctx, workflowID, rfqID, doc)
}

// parseDocument runs the document-parsing sub-workflow.
func (in *Ingestor) parseDocument(ctx context.Context, workflowID string, htmlContent []byte, sourceURL string) (*ParseResult, error) {
	tracker := workflow.NewTracker(workflowID, workflow.DocumentParseRanges, in.logger)

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepUploadingDocument, "", map[string]any{
		"document_bytes": len(htmlContent),
	}))

	if len(htmlContent) == 0 {
		return nil, fmt.Errorf("empty document upload")
	}

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepParsingDocument, "", nil))

	doc, err := in.converter.Convert(htmlContent, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepConvertingContent, "", nil))

	if doc.Text == "" {
		return nil, fmt.Errorf("document has no extractable content")
	}

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepDocumentReady, "", map[string]any{
		"title":      doc.Title,
		"text_chars": len(doc.Text),
	}))

	in.logger.Info("document parsed",
		"workflow_id", workflowID,
		"title", doc.Title,
		"text_chars", len(doc.Text))

	return doc, nil
}

// extractFields runs the field-extraction sub-workflow and persists the
// enhanced RFQ.
func (in *Ingestor) extractFields(ctx context.Context, workflowID, rfqID string, doc *ParseResult) (*storage.RFQ, error) {
	tracker := workflow.NewTracker(workflowID, workflow.FieldExtractionRanges, in.logger)

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepExtractingFields, "", nil))

	extracted, err := in.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("extract fields: %w", err)
	}

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepMappingFields, "", map[string]any{
		"field_count": len(extracted.Fields),
	}))

	rfq, err := in.applyFields(ctx, rfqID, doc, extracted)
	if err != nil {
		return nil, err
	}

	in.notify(ctx, workflowID, tracker.ProgressEvent(workflow.StepExtractionComplete, "", map[string]any{
		"rfq_id": rfq.ID,
	}))

	in.logger.Info("fields extracted",
		"workflow_id", workflowID,
		"rfq_id", rfq.ID,
		"field_count", len(extracted.Fields),
		"unmapped_chars", len(extracted.Unmapped))

	return rfq, nil
}

// applyFields writes extracted fields onto a new or existing RFQ
// record. Existing input fields are never overwritten; extraction only
// fills gaps and the Enhanced map.
func (in *Ingestor) applyFields(ctx context.Context, rfqID string, doc *ParseResult, extracted *ExtractedFields) (*storage.RFQ, error) {
	var rfq *storage.RFQ
	if rfqID != "" {
		existing, err := in.store.GetRFQ(ctx, rfqID)
		if err != nil {
			return nil, fmt.Errorf("load rfq %s: %w", rfqID, err)
		}
		rfq = existing
	} else {
		rfq = &storage.RFQ{}
	}

	if rfq.Title == "" {
		if t, ok := extracted.Fields["title"]; ok {
			rfq.Title = t
		} else {
			rfq.Title = doc.Title
		}
	}
	if rfq.Text == "" {
		rfq.Text = doc.Text
	}
	if rfq.Category == "" {
		rfq.Category = extracted.Fields["category"]
	}
	if rfq.Segment == "" {
		rfq.Segment = extracted.Fields["segment"]
	}
	if rfq.Goal == "" {
		rfq.Goal = extracted.Fields["research_goal"]
	}

	if rfq.Enhanced == nil {
		rfq.Enhanced = make(map[string]string, len(extracted.Fields))
	}
	for name, value := range extracted.Fields {
		rfq.Enhanced[name] = value
	}
	rfq.Unmapped = extracted.Unmapped

	if rfqID == "" {
		id, err := in.store.CreateRFQ(ctx, rfq)
		if err != nil {
			return nil, fmt.Errorf("create enhanced rfq: %w", err)
		}
		rfq.ID = id
		return rfq, nil
	}

	if err := in.store.UpdateRFQ(ctx, rfq); err != nil {
		return nil, fmt.Errorf("update enhanced rfq: %w", err)
	}
	return rfq, nil
}

// notify publishes a progress event, tolerating a nil notifier.
func (in *Ingestor) notify(ctx context.Context, workflowID string, evt workflow.Event) {
	if in.notifier == nil {
		return
	}
	in.notifier.Notify(ctx, workflowID, evt)
}
