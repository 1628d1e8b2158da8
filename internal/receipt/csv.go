package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCompletedReceipts is returned when an export is requested while no
// item has completed processing; callers should surface a notice instead of
// producing an empty file
var ErrNoCompletedReceipts = errors.New("no completed receipts to export")

const csvHeader = "Date (YYYY-MM-DD),Total Amount (DKK),MOMS (DKK),Shop Name"

// GenerateCSV renders all completed items as CSV. The output carries a UTF-8
// byte-order marker so Danish characters in shop names survive spreadsheet
// imports, and shop names are always quoted with internal quotes doubled.
func GenerateCSV(items []*Item) ([]byte, error) {
	completed := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.Status == StatusCompleted && item.Data != nil {
			completed = append(completed, item)
		}
	}
	if len(completed) == 0 {
		return nil, ErrNoCompletedReceipts
	}

	var buf bytes.Buffer
	buf.WriteString("\uFEFF")
	buf.WriteString(csvHeader)
	buf.WriteByte('\n')

	for _, item := range completed {
		d := item.Data
		shop := d.ShopName
		if shop == "" {
			shop = unknownShopName
		}
		fmt.Fprintf(&buf, "%s,%.2f,%.2f,\"%s\"\n",
			d.PurchaseDate,
			d.TotalAmount,
			d.Moms,
			strings.ReplaceAll(shop, `"`, `""`),
		)
	}

	return buf.Bytes(), nil
}
