package rfqdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/surveygen/llm"
)

// maxDocumentChars caps how much document text is sent for field
// extraction. Longer documents are truncated from the end.
const maxDocumentChars = 24000

// knownFields are the structured research-brief fields the extractor
// maps document content into. Anything else lands in Unmapped.
var knownFields = []string{
	"title",
	"research_goal",
	"category",
	"segment",
	"target_audience",
	"methodology",
	"timeline",
	"budget",
}

// ExtractedFields is the structured form of an uploaded RFQ document.
type ExtractedFields struct {
	Fields   map[string]string `json:"fields"`
	Unmapped string            `json:"unmapped"`
}

// Generator is the completion surface the extractor needs.
type Generator interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Extractor maps document content into structured RFQ fields using an
// LLM call.
type Extractor struct {
	client Generator
}

// NewExtractor creates a field extractor.
func NewExtractor(client Generator) *Extractor {
	return &Extractor{client: client}
}

const extractionSystemPrompt = `You extract structured fields from research request documents.
Respond with a single JSON object and nothing else:
{
  "fields": {"<field_name>": "<value>", ...},
  "unmapped": "<content that fits no field>"
}
Only use field names from the allowed list. Omit fields the document
does not mention. Keep values concise and verbatim where possible.`

// Extract maps document text into structured fields. The model decides
// per-field presence; content that fits no known field is returned as
// unmapped free text.
func (e *Extractor) Extract(ctx context.Context, doc *ParseResult) (*ExtractedFields, error) {
	text := doc.Text
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}

	var sb strings.Builder
	sb.WriteString("Allowed fields: ")
	sb.WriteString(strings.Join(knownFields, ", "))
	sb.WriteString("\n\n")
	if doc.Title != "" {
		sb.WriteString("Document title: ")
		sb.WriteString(doc.Title)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Document:\n")
	sb.WriteString(text)

	temperature := 0.0
	resp, err := e.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("field extraction call: %w", err)
	}

	extracted, err := parseExtraction(resp.Content)
	if err != nil {
		return nil, llm.NewGenerationError("parse extraction response", resp.Content, err)
	}
	return extracted, nil
}

// parseExtraction parses the model's JSON response, tolerating
// surrounding prose by trimming to the outermost object.
func parseExtraction(content string) (*ExtractedFields, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}

	var out ExtractedFields
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("unmarshal extraction response: %w", err)
	}

	// Drop field names outside the allowed set into unmapped text so
	// hallucinated keys don't pollute the structured record.
	cleaned := make(map[string]string, len(out.Fields))
	var extra strings.Builder
	for name, value := range out.Fields {
		if value == "" {
			continue
		}
		if isKnownField(name) {
			cleaned[name] = value
			continue
		}
		fmt.Fprintf(&extra, "%s: %s\n", name, value)
	}
	out.Fields = cleaned
	if extra.Len() > 0 {
		if out.Unmapped != "" {
			out.Unmapped += "\n"
		}
		out.Unmapped += strings.TrimRight(extra.String(), "\n")
	}

	return &out, nil
}

func isKnownField(name string) bool {
	for _, f := range knownFields {
		if f == name {
			return true
		}
	}
	return false
}
