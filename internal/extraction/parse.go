package extraction

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDataFormat is returned when a provider response cannot be parsed
// as the expected JSON payload even after markdown fences are stripped
var ErrInvalidDataFormat = errors.New("the provider returned an invalid data format")

const unknownShop = "Unknown Shop"

// parseReceiptJSON parses a provider's text response into ReceiptData.
// The payload may be wrapped in markdown code fences, surrounded by prose, or
// be a one-element array of the expected object. Individual fields are coerced
// defensively and never cause a failure; only an unparseable payload does.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	raw, err := decodeLoose(text)
	if err != nil {
		return nil, err
	}

	// Some models return a single-element array instead of the bare object
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return nil, ErrInvalidDataFormat
		}
		raw = list[0]
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrInvalidDataFormat
	}

	data := &ReceiptData{
		ShopName:     coerceString(obj["shopName"]),
		PurchaseDate: coerceDate(coerceString(obj["purchaseDate"])),
		TotalAmount:  coerceAmount(obj["totalAmount"]),
		Moms:         coerceAmount(obj["moms"]),
	}
	if data.ShopName == "" {
		data.ShopName = unknownShop
	}
	return data, nil
}

// decodeLoose strips markdown fences and tries progressively narrower windows
// until the text decodes as JSON
func decodeLoose(text string) (any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err == nil {
		return raw, nil
	}

	// Window to the outermost object to shed any surrounding prose
	startIdx := strings.IndexAny(text, "{[")
	endIdx := strings.LastIndexAny(text, "}]")
	if startIdx == -1 || endIdx <= startIdx {
		return nil, ErrInvalidDataFormat
	}
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &raw); err != nil {
		return nil, ErrInvalidDataFormat
	}
	return raw, nil
}

func coerceString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// coerceAmount accepts numbers or numeric strings like "12.00"; anything else
// becomes zero. Amounts are non-negative, and ParseFloat accepts "NaN" and
// "Inf" strings that would poison later JSON marshaling, so those collapse to
// zero too.
func coerceAmount(v any) float64 {
	switch t := v.(type) {
	case float64:
		return clampAmount(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return clampAmount(f)
	default:
		return 0
	}
}

func clampAmount(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// coerceDate normalizes a date string to YYYY-MM-DD, trying day-first Danish
// formats before giving up and defaulting to today
func coerceDate(s string) string {
	if s == "" {
		return time.Now().Format("2006-01-02")
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d.Format("2006-01-02")
	}
	formats := []string{
		"02-01-2006",
		"02/01/2006",
		"02.01.2006",
		"2006/01/02",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}
