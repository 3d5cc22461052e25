package scanning

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when image bytes cannot be decoded
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrEndpointUnreachable covers connection failures, timeouts and cancellation
	ErrEndpointUnreachable = errors.New("extraction endpoint unreachable")
)

// maxErrorBody bounds how much of a failed response body is kept for diagnostics
const maxErrorBody = 2048

// EndpointError is returned when the model endpoint answers with a non-success status
type EndpointError struct {
	StatusCode int
	Body       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("extraction endpoint error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether a retry might succeed
func (e *EndpointError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func newEndpointError(status int, body []byte) *EndpointError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &EndpointError{StatusCode: status, Body: string(body)}
}

func unreachable(err error) error {
	return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
}

// RawImage is an image as received from the calling surface
type RawImage struct {
	Data     []byte
	MIMEType string
}

// ExtractionRequest is everything sent to the model for one receipt
type ExtractionRequest struct {
	Image  RawImage
	Prompt string
	Model  string
}

// NewExtractionRequest builds a request with the shared receipt prompt
func NewExtractionRequest(image RawImage, model string) ExtractionRequest {
	return ExtractionRequest{Image: image, Prompt: ReceiptPrompt, Model: model}
}

// ExtractionResponse is the raw, untrusted text produced by the model
type ExtractionResponse struct {
	Text string
}

// Extractor submits a receipt image to a model endpoint. Implementations make
// exactly one attempt per call; see Retrying for retry policy.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (ExtractionResponse, error)
	// Close releases resources held by the client
	Close() error
}

// ReceiptPrompt is the shared instruction sent with every receipt image
const ReceiptPrompt = `You are analyzing a photo of a purchase receipt. Receipts are often Japanese. Carefully read all text in the image and extract:

1. **Store**: the merchant or store name, usually the largest text or logo at the top. Payment methods (PayPay, QUICPay, VISA, etc.) are not store names. Drop branch suffixes such as "店" or "支店".

2. **Date**: the transaction date in YYYY-MM-DD format.

3. **Items**: every purchased line item with its description and the amount charged for it. Skip subtotal, tax, change, cash tendered and point balance lines.

4. **Total**: the final amount paid, usually labeled 合計, TOTAL, ご請求額 or Amount Due. Exclude tax-exclusive subtotals, discounts and point balances.

5. **Currency**: the ISO 4217 code (for example JPY or USD).

Return ONLY valid JSON in this exact format:
{
  "store": "Store Name",
  "date": "YYYY-MM-DD",
  "currency": "JPY",
  "items": [
    {"description": "Item name", "amount": 0}
  ],
  "total": 0
}

Important:
- Amounts must be numbers without currency symbols or thousands separators
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
