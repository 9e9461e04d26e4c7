package receipt

import "time"

// Status tracks a receipt through the processing pipeline. It always agrees
// with the most recent job state for the receipt's id.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Receipt is one uploaded receipt and whatever the pipeline has extracted
// from it so far.
type Receipt struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	StoreName        string    `json:"store_name,omitempty"`
	PurchaseDate     string    `json:"purchase_date,omitempty"` // ISO 8601
	TotalAmount      float64   `json:"total_amount,omitempty"`
	RawText          string    `json:"raw_text,omitempty"`
	OcrConfidence    float64   `json:"ocr_confidence,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
	FailedReason     string    `json:"failed_reason,omitempty"`
	ImageKey         string    `json:"image_key"`
	ContentType      string    `json:"content_type"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Item is one extracted line item. Items are stored in receipt order with a
// 1-based line number.
type Item struct {
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	LineNumber int     `json:"line_number"`
	Confidence float64 `json:"confidence"`
}

// Update is a partial update of extraction results: only non-nil fields are
// written.
type Update struct {
	Status           *Status
	StoreName        *string
	PurchaseDate     *string
	TotalAmount      *float64
	RawText          *string
	OcrConfidence    *float64
	ProcessingTimeMs *int64
	FailedReason     *string
}
