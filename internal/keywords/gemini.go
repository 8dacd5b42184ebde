package keywords

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Generator produces a keyword list from trimmed entry text.
type Generator interface {
	Generate(ctx context.Context, entryText string) ([]Keyword, error)
}

// GeminiGenerator implements Generator using Gemini text generation with a
// JSON-schema constrained response.
type GeminiGenerator struct {
	client        *genai.Client
	model         string
	min, max      int
	promptBuilder *PromptBuilder
}

func NewGeminiGenerator(ctx context.Context, apiKey, modelName string, minCount, maxCount int) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if minCount <= 0 {
		minCount = 10
	}
	if maxCount <= 0 {
		maxCount = DefaultMax
	}
	return &GeminiGenerator{
		client:        client,
		model:         modelName,
		min:           minCount,
		max:           maxCount,
		promptBuilder: &PromptBuilder{},
	}, nil
}

func (g *GeminiGenerator) responseSchema() *genai.Schema {
	minItems := int64(g.min)
	maxItems := int64(g.max)
	minWeight := 1.0
	maxWeight := 3.0
	maxLen := int64(80)

	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"keywords"},
		Properties: map[string]*genai.Schema{
			"keywords": {
				Type:     genai.TypeArray,
				MinItems: &minItems,
				MaxItems: &maxItems,
				Items: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"word", "weight"},
					Properties: map[string]*genai.Schema{
						"word":   {Type: genai.TypeString, MaxLength: &maxLen},
						"weight": {Type: genai.TypeInteger, Minimum: &minWeight, Maximum: &maxWeight},
					},
				},
			},
		},
	}
}

// Generate calls the model and validates the response strictly: a keyword list
// of the configured size with weights in {1,2,3}. Anything else is rejected.
func (g *GeminiGenerator) Generate(ctx context.Context, entryText string) ([]Keyword, error) {
	prompt := g.promptBuilder.BuildPrompt(entryText)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   g.responseSchema(),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return nil, fmt.Errorf("keyword generation failed: %w", err)
	}
	text := cleanJSONOutput(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("keyword generation returned an empty response")
	}

	kws, err := ValidateResponse([]byte(text), g.min, g.max)
	if err != nil {
		return nil, err
	}
	return kws, nil
}

// ValidateResponse checks the raw model output against the contract: JSON
// {"keywords": [...]}, each item {word, weight} with a non-empty word and a
// weight in {1,2,3}, count within [min,max] after normalization.
func ValidateResponse(data []byte, minCount, maxCount int) ([]Keyword, error) {
	var out struct {
		Keywords []Keyword `json:"keywords"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("model did not return valid keyword JSON: %w", err)
	}
	for i, kw := range out.Keywords {
		if strings.TrimSpace(kw.Word) == "" {
			return nil, fmt.Errorf("keyword #%d has an empty word", i)
		}
		if kw.Weight < 1 || kw.Weight > 3 {
			return nil, fmt.Errorf("keyword #%d has weight %d, want 1..3", i, kw.Weight)
		}
	}

	kws := Normalize(out.Keywords, maxCount)
	if len(kws) == 0 {
		return nil, fmt.Errorf("model returned no usable keywords")
	}
	if minCount > 0 && len(kws) < minCount {
		return nil, fmt.Errorf("model returned %d keywords, want at least %d", len(kws), minCount)
	}
	return kws, nil
}

func cleanJSONOutput(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}
