package rfqdoc_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/c360studio/surveygen/rfqdoc"
	"github.com/c360studio/surveygen/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRFQStore struct {
	rfqs    map[string]*storage.RFQ
	nextID  int
	updates int
}

func newMemoryRFQStore() *memoryRFQStore {
	return &memoryRFQStore{rfqs: make(map[string]*storage.RFQ)}
}

func (m *memoryRFQStore) CreateRFQ(_ context.Context, r *storage.RFQ) (string, error) {
	m.nextID++
	id := fmt.Sprintf("rfq-%d", m.nextID)
	r.ID = id
	m.rfqs[id] = r
	return id, nil
}

func (m *memoryRFQStore) GetRFQ(_ context.Context, id string) (*storage.RFQ, error) {
	if r, ok := m.rfqs[id]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memoryRFQStore) UpdateRFQ(_ context.Context, r *storage.RFQ) error {
	m.updates++
	m.rfqs[r.ID] = r
	return nil
}

func newIngestor(store rfqdoc.Store, gen rfqdoc.Generator) *rfqdoc.Ingestor {
	return rfqdoc.NewIngestor(rfqdoc.NewConverter(), rfqdoc.NewExtractor(gen), store, nil, nil)
}

func TestIngest_CreatesEnhancedRFQ(t *testing.T) {
	store := newMemoryRFQStore()
	gen := &cannedGenerator{content: `{
		"fields": {
			"title": "Mid-Market Churn Research",
			"research_goal": "Understand first-year cancellations",
			"category": "b2b_saas",
			"timeline": "six weeks"
		},
		"unmapped": "Vendor must sign an NDA."
	}`}

	rfq, err := newIngestor(store, gen).Ingest(context.Background(),
		"wf-1", "", []byte(sampleRFQHTML), "https://example.com/rfq")
	require.NoError(t, err)

	assert.NotEmpty(t, rfq.ID)
	assert.Equal(t, "Mid-Market Churn Research", rfq.Title)
	assert.Equal(t, "b2b_saas", rfq.Category)
	assert.Equal(t, "Understand first-year cancellations", rfq.Goal)
	assert.Contains(t, rfq.Text, "churn")
	assert.Equal(t, "six weeks", rfq.Enhanced["timeline"])
	assert.Equal(t, "Vendor must sign an NDA.", rfq.Unmapped)

	stored, err := store.GetRFQ(context.Background(), rfq.ID)
	require.NoError(t, err)
	assert.Equal(t, rfq.Title, stored.Title)
}

func TestIngest_EnrichesExistingRFQWithoutOverwriting(t *testing.T) {
	store := newMemoryRFQStore()
	store.rfqs["rfq-7"] = &storage.RFQ{
		ID:       "rfq-7",
		Title:    "Original Title",
		Category: "fintech",
	}
	gen := &cannedGenerator{content: `{
		"fields": {
			"title": "Extracted Title",
			"category": "b2b_saas",
			"segment": "mid-market"
		},
		"unmapped": ""
	}`}

	rfq, err := newIngestor(store, gen).Ingest(context.Background(),
		"wf-1", "rfq-7", []byte(sampleRFQHTML), "")
	require.NoError(t, err)

	// Submitted input always wins over extraction; only gaps fill in.
	assert.Equal(t, "Original Title", rfq.Title)
	assert.Equal(t, "fintech", rfq.Category)
	assert.Equal(t, "mid-market", rfq.Segment)

	// The full extraction still lands in the Enhanced map verbatim.
	assert.Equal(t, "Extracted Title", rfq.Enhanced["title"])
	assert.Equal(t, "b2b_saas", rfq.Enhanced["category"])
	assert.Equal(t, 1, store.updates)
}

func TestIngest_TitleFallsBackToDocument(t *testing.T) {
	store := newMemoryRFQStore()
	gen := &cannedGenerator{content: `{"fields": {}, "unmapped": ""}`}

	rfq, err := newIngestor(store, gen).Ingest(context.Background(),
		"wf-1", "", []byte(sampleRFQHTML), "")
	require.NoError(t, err)
	assert.Contains(t, rfq.Title, "Churn Research")
}

func TestIngest_RejectsEmptyUpload(t *testing.T) {
	store := newMemoryRFQStore()
	gen := &cannedGenerator{content: `{"fields": {}, "unmapped": ""}`}

	_, err := newIngestor(store, gen).Ingest(context.Background(), "wf-1", "", nil, "")
	assert.ErrorContains(t, err, "empty document upload")
}

func TestIngest_MissingRFQIsAnError(t *testing.T) {
	store := newMemoryRFQStore()
	gen := &cannedGenerator{content: `{"fields": {}, "unmapped": ""}`}

	_, err := newIngestor(store, gen).Ingest(context.Background(),
		"wf-1", "rfq-missing", []byte(sampleRFQHTML), "")
	assert.ErrorContains(t, err, "load rfq rfq-missing")
}
