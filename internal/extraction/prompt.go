package extraction

// receiptScanPrompt is the shared instruction used by all providers. It encodes
// the two Danish domain rules a general-purpose vision model gets wrong on its
// own: day-first date ordering and the fixed 25% MOMS relationship.
const receiptScanPrompt = `Extract the following details from this Danish receipt: Shop Name, Purchase Date, Total Amount, and MOMS (VAT).

CRITICAL DATE EXTRACTION RULE (DANISH CONVENTION):
Danish receipts strictly use the format: DAY MONTH YEAR (DD MM YY or DD MM YYYY).
Example: If the text says "23 12 25", this is the 23rd of December, 2025.
- You MUST return this as "2025-12-23".
- Never interpret the leading number as a year.
- Always assume the order is [Day] [Month] [Year].

MOMS (VAT) RULE:
- In Denmark, MOMS is 25% of the Net Amount.
- Mathematically: Total Amount = MOMS * 5.
- If the explicit Total does not roughly match MOMS * 5, check whether you
  accidentally extracted the Net Amount (MOMS * 4) instead of the Total.
- Prioritize the visually explicit "Total" or "At Betale" line.

Return ONLY valid JSON in this exact format:
{
  "shopName": "Shop Name",
  "purchaseDate": "YYYY-MM-DD",
  "totalAmount": 0.00,
  "moms": 0.00
}

Important:
- The date must be in YYYY-MM-DD format
- The amounts must be numbers (not strings), in DKK
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
