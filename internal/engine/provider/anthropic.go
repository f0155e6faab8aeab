package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/resilience"
	"github.com/scentdex/catalog-cli/pkg/anthropic"
)

const aiSystemPrompt = `You are a fragrance data specialist. Given a fragrance's name, brand, and
currently known attributes, propose values for the requested attributes.

Respond with a single JSON object and nothing else:
{"fields": [{"field": "<attribute>", "value": <value>, "confidence": <0..1>, "notes": "<short basis>"}]}

Rules:
- Only include attributes you were asked for.
- "confidence" reflects how certain you are the value is factually correct
  for this exact fragrance, not how plausible it sounds.
- Note lists (top_notes, middle_notes, base_notes, main_accords) are JSON
  arrays of lowercase strings.
- pricing is an object like {"amount": 120.0, "currency": "USD", "size_ml": 100}.
- Omit attributes you cannot support rather than guessing.`

// AIProvider proposes field values by asking an Anthropic model about the
// fragrance.
type AIProvider struct {
	client anthropic.Client
	model  string
	cost   float64
	retry  resilience.RetryConfig
}

// NewAIProvider creates an AIProvider using the given client and model ID.
func NewAIProvider(client anthropic.Client, modelID string, costPerFetch float64) *AIProvider {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "fetch_candidates")
	return &AIProvider{
		client: client,
		model:  modelID,
		cost:   costPerFetch,
		retry:  retry,
	}
}

func (p *AIProvider) Name() string { return model.SourceAIAnalysis }

func (p *AIProvider) CostPerFetch() float64 { return p.cost }

func (p *AIProvider) FetchCandidates(ctx context.Context, rec *model.FragranceRecord, cfg FetchConfig) ([]Candidate, error) {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = model.TrackedFields
	}

	req := anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: 2048,
		System: []anthropic.SystemBlock{
			{Text: aiSystemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: buildPrompt(rec, fields)},
		},
	}

	resp, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, &SourceUnavailableError{Provider: p.Name(), Err: err}
	}

	resp.Usage.LogCost(p.model, "enhancement")

	candidates, err := parseAIResponse(resp)
	if err != nil {
		return nil, eris.Wrap(err, "ai provider: parse response")
	}

	zap.L().Debug("ai provider returned candidates",
		zap.String("fragrance_id", rec.ID),
		zap.Int("count", len(candidates)),
	)
	return candidates, nil
}

// buildPrompt renders the record and the requested fields as the user message.
func buildPrompt(rec *model.FragranceRecord, fields []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fragrance: %s\nBrand: %s\n", rec.Name, rec.Brand)

	known := make([]string, 0, len(rec.Fields))
	for name, st := range rec.Fields {
		if model.IsEmptyValue(st.Value) {
			continue
		}
		v, _ := json.Marshal(st.Value)
		known = append(known, fmt.Sprintf("  %s: %s", name, v))
	}
	sort.Strings(known)
	if len(known) > 0 {
		b.WriteString("Known attributes:\n")
		b.WriteString(strings.Join(known, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("Requested attributes: ")
	b.WriteString(strings.Join(fields, ", "))
	return b.String()
}

type aiFieldResult struct {
	Field      string  `json:"field"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

type aiResponse struct {
	Fields []aiFieldResult `json:"fields"`
}

func parseAIResponse(resp *anthropic.MessageResponse) ([]Candidate, error) {
	text := cleanJSON(extractText(resp))
	if text == "" {
		return nil, eris.New("empty model response")
	}

	var parsed aiResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, eris.Wrap(err, "unmarshal model response")
	}

	out := make([]Candidate, 0, len(parsed.Fields))
	for _, f := range parsed.Fields {
		out = append(out, Candidate{
			Field:      f.Field,
			Value:      f.Value,
			Confidence: f.Confidence,
			Source:     model.SourceAIAnalysis,
			Notes:      f.Notes,
		})
	}
	return out, nil
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
