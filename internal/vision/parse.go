package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// rawPrice accepts either a JSON number or a JSON string so the decoder
// tolerates models that quote their prices ("$1.99") as well as ones that
// emit plain numbers.
type rawPrice string

func (p *rawPrice) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = rawPrice(s)
		return nil
	}
	if string(b) == "null" {
		*p = ""
		return nil
	}
	*p = rawPrice(b)
	return nil
}

// modelReceipt mirrors the JSON shape the prompt asks for, before
// normalization.
type modelReceipt struct {
	StoreName  string      `json:"store_name"`
	Date       string      `json:"date"`
	Total      rawPrice    `json:"total"`
	RawText    string      `json:"raw_text"`
	Confidence *float64    `json:"confidence"`
	Items      []modelItem `json:"items"`
}

type modelItem struct {
	Name       string   `json:"name"`
	Price      rawPrice `json:"price"`
	Quantity   *int     `json:"quantity"`
	LineNumber *int     `json:"line_number"`
	Confidence *float64 `json:"confidence"`
}

// extractJSON pulls the JSON object out of a model response, tolerating
// markdown fences and surrounding prose.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return "", fmt.Errorf("%w: truncated JSON object in response", ErrMalformedOutput)
	}
	return text[start : end+1], nil
}

// decodeModelOutput turns raw model text into a normalized ParsedReceipt.
// Any decoding or number-format problem is reported as ErrMalformedOutput so
// the parser can retry with a corrective prompt.
func decodeModelOutput(text string) (*ParsedReceipt, error) {
	jsonText, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw modelReceipt
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	parsed := &ParsedReceipt{
		StoreName: strings.TrimSpace(raw.StoreName),
		Date:      normalizeDate(raw.Date),
		RawText:   raw.RawText,
	}
	if raw.Confidence != nil {
		parsed.Confidence = *raw.Confidence
	}
	if raw.Total != "" {
		total, err := NormalizePrice(string(raw.Total))
		if err != nil {
			return nil, err
		}
		parsed.Total = total
	}

	parsed.Items = make([]ParsedItem, 0, len(raw.Items))
	for i, it := range raw.Items {
		item := ParsedItem{
			Name:       strings.TrimSpace(it.Name),
			Quantity:   1,
			LineNumber: i + 1,
			Confidence: parsed.Confidence,
		}
		if it.Price != "" {
			price, err := NormalizePrice(string(it.Price))
			if err != nil {
				return nil, err
			}
			item.Price = price
		}
		if it.Quantity != nil && *it.Quantity > 0 {
			item.Quantity = *it.Quantity
		}
		if it.LineNumber != nil && *it.LineNumber > 0 {
			item.LineNumber = *it.LineNumber
		}
		if it.Confidence != nil {
			item.Confidence = *it.Confidence
		}
		parsed.Items = append(parsed.Items, item)
	}

	return parsed, nil
}

// normalizeDate coerces common date formats to YYYY-MM-DD. An unparseable
// date comes back empty so the caller persists nothing rather than a guess.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
