package validation

// ReserveItem is a single line item of a checkout submission. The same
// (product, variant) pair may appear more than once; quantities are merged
// by the reservation core.
type ReserveItem struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// ReserveRequest is the payload for POST /checkout/reserve.
type ReserveRequest struct {
	OrderID string        `json:"order_id,omitempty"`                   // caller's order reference, echoed in logs
	Items   []ReserveItem `json:"items" validate:"required,min=1,dive"` // at least one item
}

// ReleaseRequest is the payload for POST /checkout/release (cancellations
// and compensation). Shape-identical to a reserve submission.
type ReleaseRequest struct {
	OrderID string        `json:"order_id,omitempty"`
	Items   []ReserveItem `json:"items" validate:"required,min=1,dive"`
}
