package vision

// ParsedReceipt is the validated result of a vision parse. It is a value
// object: the parser builds it once, the worker consumes it once, nothing
// mutates it in between.
type ParsedReceipt struct {
	StoreName  string       `json:"store_name,omitempty"`
	Date       string       `json:"date,omitempty"` // ISO 8601 (YYYY-MM-DD)
	Total      float64      `json:"total,omitempty"`
	RawText    string       `json:"raw_text"`
	Confidence float64      `json:"confidence" validate:"gte=0,lte=1"`
	Items      []ParsedItem `json:"items" validate:"dive"`
}

// ParsedItem is a single line item, in source order.
type ParsedItem struct {
	Name       string  `json:"name" validate:"required"`
	Price      float64 `json:"price" validate:"gte=0"`
	Quantity   int     `json:"quantity" validate:"gte=1"`
	LineNumber int     `json:"line_number" validate:"gte=1"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}
