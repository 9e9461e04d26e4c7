package vision

// receiptPrompt is the shared prompt used by all providers.
const receiptPrompt = `You are analyzing a photo of a purchase receipt. Carefully read all text in the image and extract the following information:

1. **Store Name**: The merchant or business name, usually the largest text at the top of the receipt. Examples: "Kroger", "Walmart", "CVS Pharmacy".

2. **Date**: The transaction or purchase date. Convert it to ISO 8601 format (YYYY-MM-DD).

3. **Total**: The final total or amount due, usually at the bottom, labeled "TOTAL", "Amount Due" or similar.

4. **Line Items**: Every purchased item in the order it appears on the receipt, top to bottom. For each item extract its name, its price and its quantity (1 if not printed).

5. **Raw Text**: The full text of the receipt as printed, line by line.

Return ONLY valid JSON in this exact format:
{
  "store_name": "Store Name",
  "date": "YYYY-MM-DD",
  "total": 0.00,
  "raw_text": "full receipt text",
  "confidence": 0.0,
  "items": [
    {"name": "Item Name", "price": 0.00, "quantity": 1, "confidence": 0.0}
  ]
}

Important:
- Keep items in the exact order they appear on the receipt
- confidence is your certainty for the extraction, between 0.0 and 1.0
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// correctivePrompt is sent when the first response fails validation. It
// repeats the schema with the concrete validation error so the model can
// repair its output.
const correctivePrompt = `Your previous answer was not valid. Problem: %s

Look at the receipt image again and respond ONLY with JSON matching exactly this schema, nothing else:
{
  "store_name": "Store Name",
  "date": "YYYY-MM-DD",
  "total": 0.00,
  "raw_text": "full receipt text",
  "confidence": 0.0,
  "items": [
    {"name": "Item Name", "price": 0.00, "quantity": 1, "confidence": 0.0}
  ]
}
All prices must be plain decimal numbers. Do not use markdown code blocks.`
