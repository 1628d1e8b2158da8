// Package reconcile corrects noisy extracted receipt amounts using the fixed
// Danish tax identity: MOMS is 25% of the net amount, so the gross total
// equals MOMS * 5.
package reconcile

import (
	"math"

	"github.com/8UOU8/ReceiptScannerDK/internal/extraction"
)

// Tolerance bands in DKK. consistentTolerance bounds agreement that needs no
// correction, netTolerance detects a total that is really the pre-tax amount,
// and slipTolerance bounds a plausible rounding or OCR slip.
const (
	consistentTolerance = 0.10
	netTolerance        = 1.00
	slipTolerance       = 2.00
)

// Apply enforces totalAmount = moms * 5 on the extracted data, tolerating OCR
// noise without overwriting genuinely different tax scenarios. It is a pure
// function: the input is taken by value and a corrected copy is returned.
//
// The check order matters: the net-amount band is checked before the generic
// slip band because a net-amount match usually also falls inside the slip
// band, and the more specific correction must win.
func Apply(data extraction.ReceiptData) extraction.ReceiptData {
	// With zero VAT the identity is undefined; pass amounts through unchanged
	if data.Moms <= 0 {
		return data
	}

	expectedTotal := data.Moms * 5
	expectedNet := data.Moms * 4

	// Total wholly inferred from VAT
	if data.TotalAmount == 0 {
		data.TotalAmount = round2(expectedTotal)
		return data
	}

	diff := math.Abs(data.TotalAmount - expectedTotal)
	switch {
	case diff <= consistentTolerance:
		// Already consistent
	case math.Abs(data.TotalAmount-expectedNet) < netTolerance:
		// The extracted figure is the pre-tax amount, a common misread
		data.TotalAmount = round2(expectedTotal)
	case diff < slipTolerance:
		// Small unexplained gap: trust the MOMS * 5 arithmetic
		data.TotalAmount = round2(expectedTotal)
	default:
		// Large discrepancy, e.g. a receipt mixing VAT rates: keep the
		// extracted value rather than silently "fixing" it
	}
	return data
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
