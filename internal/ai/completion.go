package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// notFoundToken is the only non-numeric output the model is allowed.
const notFoundToken = "NOT_FOUND"

// strictPriceRe is the full grammar accepted from the completion service:
// an optional currency symbol, then a plain or comma-grouped number with at
// most two decimals. Free text never parses.
var strictPriceRe = regexp.MustCompile(`^[$£€]?\s?(\d{1,3}(?:,\d{3})*|\d+)(\.\d{1,2})?$`)

type Client struct {
	model *genai.GenerativeModel
}

type priceAnswer struct {
	Price string `json:"price"`
	Found bool   `json:"found"`
}

// NewClient returns a nil client when no API key is configured; callers
// treat nil as "completion tier unavailable".
func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelID)
	model.SetTemperature(0) // deterministic output for a deterministic pipeline
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"price": {
				Type:        genai.TypeString,
				Description: "The current purchase price as a bare number, e.g. \"4589.00\". Exactly \"" + notFoundToken + "\" when no single primary price is present.",
			},
			"found": {
				Type:        genai.TypeBoolean,
				Description: "True only when a single primary product price was identified.",
			},
		},
		Required: []string{"price", "found"},
	}

	return &Client{model: model}, nil
}

// ExtractPrice asks the completion service for the primary price in a page
// excerpt. The found flag is false whenever the output fails the strict
// numeric grammar; free-form model text is never trusted.
func (c *Client) ExtractPrice(ctx context.Context, excerpt string) (float64, bool, error) {
	if c == nil || c.model == nil {
		return 0, false, fmt.Errorf("completion client not configured")
	}

	prompt := fmt.Sprintf(`The following is an excerpt of a retail product page.
Identify the current purchase price of the primary product only.
Ignore bundle prices, add-ons, warranties, struck-through "was" prices,
shipping costs, and prices of related products.

Respond with the price as a bare number (no words), or exactly %s if
no primary price is present.

Excerpt:
%s`, notFoundToken, excerpt)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return 0, false, fmt.Errorf("completion generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return 0, false, fmt.Errorf("no response candidates from completion service")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		txt, ok := part.(genai.Text)
		if !ok {
			continue
		}
		jsonStr := strings.TrimSpace(string(txt))
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(jsonStr, "```")

		var answer priceAnswer
		if err := json.Unmarshal([]byte(jsonStr), &answer); err != nil {
			return 0, false, fmt.Errorf("failed to parse completion response: %w", err)
		}
		if !answer.Found {
			return 0, false, nil
		}
		value, ok := ParseStrictPrice(answer.Price)
		if !ok {
			return 0, false, nil
		}
		return value, true, nil
	}

	return 0, false, fmt.Errorf("no text part in completion response")
}

// ParseStrictPrice applies the strict numeric grammar to completion output.
// Anything outside the grammar, including the NOT_FOUND token, is "no
// price".
func ParseStrictPrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, notFoundToken) {
		return 0, false
	}
	m := strictPriceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	number := strings.ReplaceAll(m[1], ",", "") + m[2]
	value, err := strconv.ParseFloat(number, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}
