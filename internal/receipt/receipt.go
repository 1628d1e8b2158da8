package receipt

import (
	"time"

	"github.com/8UOU8/ReceiptScannerDK/internal/extraction"
)

// Status of one receipt in the processing pipeline
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Item is one uploaded receipt under management. Once an item leaves the
// Idle/Processing states exactly one of Data or Error is set: a completed
// item never carries a stale error and a failed one never carries stale data.
type Item struct {
	ID          string                  `json:"id"`
	Filename    string                  `json:"filename"`
	ContentType string                  `json:"content_type"`
	Status      Status                  `json:"status"`
	Data        *extraction.ReceiptData `json:"data,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Seq         uint64                  `json:"seq"` // insertion order, assigned on first save
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Settings holds the provider selection and credential used for extraction
// calls. They persist across sessions under fixed database keys; nothing else
// about a session is assumed durable.
type Settings struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}
