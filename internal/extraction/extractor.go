package extraction

import (
	"context"
	"fmt"
)

// ReceiptData contains the structured fields extracted from one Danish receipt
type ReceiptData struct {
	ShopName     string  `json:"shopName"`
	PurchaseDate string  `json:"purchaseDate"` // YYYY-MM-DD
	TotalAmount  float64 `json:"totalAmount"`
	Moms         float64 `json:"moms"`
}

// Provider identifiers accepted by Config.Provider
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Config selects the provider, credential and model for an extraction call.
// It is read at dispatch time, so changing the stored settings mid-batch only
// affects calls not yet dispatched.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string // OpenRouter only; empty means the public endpoint
}

// Extractor defines the interface for receipt field extraction
type Extractor interface {
	// Extract analyzes a receipt image and returns the raw structured fields,
	// coerced but not yet reconciled
	Extract(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the extractor and releases resources
	Close() error
}

// New creates the Extractor selected by cfg
func New(ctx context.Context, cfg Config) (Extractor, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenRouter:
		return NewOpenRouter(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
