// Package storage provides entity storage for surveygen using NATS KV.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/surveygen/survey"
)

// Bucket names for each entity type.
const (
	BucketRFQs           = "SURVEYGEN_RFQS"
	BucketSurveys        = "SURVEYGEN_SURVEYS"
	BucketReviews        = "SURVEYGEN_REVIEWS"
	BucketWorkflowStates = "SURVEYGEN_WORKFLOW_STATES"
	BucketAnnotations    = "SURVEYGEN_ANNOTATIONS"
)

// ReviewStatus represents the status of a prompt review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// RFQ represents a request-for-quote entity.
type RFQ struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	Segment  string `json:"segment,omitempty"`
	Goal     string `json:"goal,omitempty"`

	// Enhanced holds structured fields extracted from an uploaded
	// document, keyed by field name. Empty for plain-text RFQs.
	Enhanced map[string]string `json:"enhanced,omitempty"`

	// Unmapped is free-text document content that didn't map into a
	// structured field.
	Unmapped string `json:"unmapped,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredSurvey represents a persisted generated survey.
type StoredSurvey struct {
	ID             string         `json:"id"`
	RFQID          string         `json:"rfq_id"`
	WorkflowID     string         `json:"workflow_id"`
	ParentSurveyID string         `json:"parent_survey_id,omitempty"`
	Document       *survey.Survey `json:"document"`
	Raw            string         `json:"raw,omitempty"`

	QualityGatePassed bool    `json:"quality_gate_passed"`
	OverallScore      float64 `json:"overall_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Review represents a human prompt-review record.
type Review struct {
	ID         string       `json:"id"`
	SurveyID   string       `json:"survey_id"`
	WorkflowID string       `json:"workflow_id"`
	Status     ReviewStatus `json:"status"`

	// Prompt is the generation prompt presented for review.
	Prompt string `json:"prompt,omitempty"`

	// EditedPrompt is an optional human-edited replacement prompt used
	// in place of Prompt when the review is approved.
	EditedPrompt string `json:"edited_prompt,omitempty"`

	Reviewer string `json:"reviewer,omitempty"`
	Comment  string `json:"comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotation represents detected labels for a single survey question,
// keyed by the survey-scoped question key.
type Annotation struct {
	Key        string    `json:"key"` // survey_id.question_id
	SurveyID   string    `json:"survey_id"`
	QuestionID string    `json:"question_id"`
	Labels     []string  `json:"labels"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store provides entity storage operations backed by NATS KV.
type Store struct {
	rfqs        jetstream.KeyValue
	surveys     jetstream.KeyValue
	reviews     jetstream.KeyValue
	states      jetstream.KeyValue
	annotations jetstream.KeyValue
}

// NewStore creates a new Store with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	rfqs, err := getOrCreateBucket(ctx, js, BucketRFQs)
	if err != nil {
		return nil, fmt.Errorf("create rfqs bucket: %w", err)
	}

	surveys, err := getOrCreateBucket(ctx, js, BucketSurveys)
	if err != nil {
		return nil, fmt.Errorf("create surveys bucket: %w", err)
	}

	reviews, err := getOrCreateBucket(ctx, js, BucketReviews)
	if err != nil {
		return nil, fmt.Errorf("create reviews bucket: %w", err)
	}

	states, err := getOrCreateBucket(ctx, js, BucketWorkflowStates)
	if err != nil {
		return nil, fmt.Errorf("create workflow states bucket: %w", err)
	}

	annotations, err := getOrCreateBucket(ctx, js, BucketAnnotations)
	if err != nil {
		return nil, fmt.Errorf("create annotations bucket: %w", err)
	}

	return &Store{
		rfqs:        rfqs,
		surveys:     surveys,
		reviews:     reviews,
		states:      states,
		annotations: annotations,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Surveygen %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// CreateRFQ creates a new RFQ record and returns its ID.
func (s *Store) CreateRFQ(ctx context.Context, r *RFQ) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt

	if err := putJSON(ctx, s.rfqs, r.ID, r); err != nil {
		return "", fmt.Errorf("store rfq: %w", err)
	}
	return r.ID, nil
}

// GetRFQ retrieves an RFQ by ID.
func (s *Store) GetRFQ(ctx context.Context, id string) (*RFQ, error) {
	var r RFQ
	if err := getJSON(ctx, s.rfqs, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRFQ updates an existing RFQ record.
func (s *Store) UpdateRFQ(ctx context.Context, r *RFQ) error {
	r.UpdatedAt = time.Now()
	if err := putJSON(ctx, s.rfqs, r.ID, r); err != nil {
		return fmt.Errorf("update rfq: %w", err)
	}
	return nil
}

// PutSurvey persists a generated survey, creating or replacing the record.
func (s *Store) PutSurvey(ctx context.Context, sv *StoredSurvey) error {
	if sv.ID == "" {
		return fmt.Errorf("survey id is required")
	}
	now := time.Now()
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = now
	}
	sv.UpdatedAt = now

	if err := putJSON(ctx, s.surveys, sv.ID, sv); err != nil {
		return fmt.Errorf("store survey: %w", err)
	}
	return nil
}

// GetSurvey retrieves a stored survey by ID.
func (s *Store) GetSurvey(ctx context.Context, id string) (*StoredSurvey, error) {
	var sv StoredSurvey
	if err := getJSON(ctx, s.surveys, id, &sv); err != nil {
		return nil, err
	}
	return &sv, nil
}

// ListSurveysByParent returns all surveys regenerated from the given parent.
func (s *Store) ListSurveysByParent(ctx context.Context, parentID string) ([]*StoredSurvey, error) {
	keys, err := s.surveys.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list survey keys: %w", err)
	}

	surveys := make([]*StoredSurvey, 0)
	for _, key := range keys {
		entry, err := s.surveys.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var sv StoredSurvey
		if err := json.Unmarshal(entry.Value(), &sv); err != nil {
			continue
		}
		if sv.ParentSurveyID == parentID {
			surveys = append(surveys, &sv)
		}
	}

	return surveys, nil
}

// CreateReview creates a new review record and returns its ID.
func (s *Store) CreateReview(ctx context.Context, r *Review) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = ReviewStatusPending
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt

	if err := putJSON(ctx, s.reviews, r.ID, r); err != nil {
		return "", fmt.Errorf("store review: %w", err)
	}
	return r.ID, nil
}

// GetReview retrieves a review by ID.
func (s *Store) GetReview(ctx context.Context, id string) (*Review, error) {
	var r Review
	if err := getJSON(ctx, s.reviews, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReviewBySurvey returns the most recent review for the given survey,
// or ErrNotFound when none exists.
func (s *Store) GetReviewBySurvey(ctx context.Context, surveyID string) (*Review, error) {
	keys, err := s.reviews.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("list review keys: %w", err)
	}

	var latest *Review
	for _, key := range keys {
		entry, err := s.reviews.Get(ctx, key)
		if err != nil {
			continue
		}
		var r Review
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			continue
		}
		if r.SurveyID != surveyID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = &r
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// UpdateReviewStatus re-fetches the review and applies the status change.
// The write is retried once on failure.
func (s *Store) UpdateReviewStatus(ctx context.Context, id string, status ReviewStatus, reviewer, comment string) error {
	update := func() error {
		r, err := s.GetReview(ctx, id)
		if err != nil {
			return err
		}
		r.Status = status
		r.Reviewer = reviewer
		r.Comment = comment
		r.UpdatedAt = time.Now()
		return putJSON(ctx, s.reviews, r.ID, r)
	}

	if err := update(); err != nil {
		if err == ErrNotFound {
			return err
		}
		// Retry once on write failure
		if err := update(); err != nil {
			return fmt.Errorf("update review status: %w", err)
		}
	}
	return nil
}

// PutWorkflowState persists a workflow state snapshot keyed by workflow ID.
// The state is any JSON-serializable value; the caller owns the schema.
func (s *Store) PutWorkflowState(ctx context.Context, workflowID string, state any) error {
	if err := putJSON(ctx, s.states, workflowID, state); err != nil {
		return fmt.Errorf("store workflow state: %w", err)
	}
	return nil
}

// GetWorkflowState loads a workflow state snapshot into out.
func (s *Store) GetWorkflowState(ctx context.Context, workflowID string, out any) error {
	return getJSON(ctx, s.states, workflowID, out)
}

// DeleteWorkflowState removes a workflow state snapshot. Missing keys are
// not an error.
func (s *Store) DeleteWorkflowState(ctx context.Context, workflowID string) error {
	if err := s.states.Delete(ctx, workflowID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete workflow state: %w", err)
	}
	return nil
}

// UpsertAnnotation merges the detected labels into any existing annotation
// for the same question key. The merge is a union that preserves existing
// label order; the write is retried once on failure.
func (s *Store) UpsertAnnotation(ctx context.Context, surveyID, questionID string, labels []string) error {
	key := survey.QuestionKey(surveyID, questionID)

	upsert := func() error {
		existing := &Annotation{
			Key:        key,
			SurveyID:   surveyID,
			QuestionID: questionID,
		}
		var prior Annotation
		if err := getJSON(ctx, s.annotations, key, &prior); err == nil {
			existing = &prior
		} else if err != ErrNotFound {
			return err
		}

		existing.Labels = survey.MergeLabels(existing.Labels, labels)
		existing.UpdatedAt = time.Now()
		return putJSON(ctx, s.annotations, key, existing)
	}

	if err := upsert(); err != nil {
		// Retry once on write failure
		if err := upsert(); err != nil {
			return fmt.Errorf("upsert annotation: %w", err)
		}
	}
	return nil
}

// GetAnnotation retrieves the annotation for a question key.
func (s *Store) GetAnnotation(ctx context.Context, surveyID, questionID string) (*Annotation, error) {
	var a Annotation
	if err := getJSON(ctx, s.annotations, survey.QuestionKey(surveyID, questionID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnnotationsBySurvey returns all annotations for the given survey.
func (s *Store) ListAnnotationsBySurvey(ctx context.Context, surveyID string) ([]*Annotation, error) {
	keys, err := s.annotations.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list annotation keys: %w", err)
	}

	annotations := make([]*Annotation, 0)
	for _, key := range keys {
		if !strings.HasPrefix(key, surveyID+".") {
			continue
		}
		entry, err := s.annotations.Get(ctx, key)
		if err != nil {
			continue
		}
		var a Annotation
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			continue
		}
		annotations = append(annotations, &a)
	}

	return annotations, nil
}

func putJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return err
	}
	return nil
}

func getJSON(ctx context.Context, kv jetstream.KeyValue, key string, out any) error {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
