package stock

import (
	"fmt"
	"strings"
)

// Failure reasons surfaced per grouped line item.
const (
	ReasonInvalidRequest     = "InvalidRequest"     // caller bug, never attempted
	ReasonProductNotFound    = "ProductNotFound"    // catalog document missing
	ReasonVariantNotFound    = "VariantNotFound"    // variant missing within product
	ReasonInsufficientStock  = "InsufficientStock"  // requested > available
	ReasonTransactionAborted = "TransactionAborted" // transient contention, retry the call
)

// LineItem is one entry of an order: a variant and the quantity purchased.
// Multiple line items may reference the same (product, variant) pair; their
// quantities are additive.
type LineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Failure describes why one grouped line item could not be satisfied.
// Available is only meaningful for InsufficientStock.
type Failure struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Reason    string `json:"reason"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available,omitempty"`
}

// ReservationError aggregates every failed grouped line item of one Reserve
// or Release call. Per-product transactions that committed before a sibling
// failed are NOT rolled back here; the caller owns compensation.
type ReservationError struct {
	Failures []Failure
}

func (e *ReservationError) Error() string {
	if len(e.Failures) == 0 {
		return "reservation failed"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", f.ProductID, f.VariantID, f.Reason))
	}
	return "reservation failed: " + strings.Join(parts, "; ")
}

// Retryable reports whether every failure is transient contention, in which
// case re-running the whole call with the same line items is safe.
func (e *ReservationError) Retryable() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if f.Reason != ReasonTransactionAborted {
			return false
		}
	}
	return true
}

// failedProducts returns the set of product ids with at least one failure.
func (e *ReservationError) failedProducts() map[string]bool {
	set := make(map[string]bool, len(e.Failures))
	for _, f := range e.Failures {
		set[f.ProductID] = true
	}
	return set
}

// CommittedItems returns the grouped line items whose product transactions
// committed in a partially failed call — the ones a compensating Release
// must undo. Returns nil when the error is nil (nothing to compensate: the
// whole call succeeded and the order proceeds).
func CommittedItems(items []LineItem, resErr *ReservationError) []LineItem {
	if resErr == nil {
		return nil
	}
	failed := resErr.failedProducts()
	var committed []LineItem
	for _, g := range groupLineItems(items) {
		if failed[g.ProductID] {
			continue
		}
		for _, w := range g.Variants {
			committed = append(committed, LineItem{ProductID: g.ProductID, VariantID: w.VariantID, Quantity: w.Quantity})
		}
	}
	return committed
}
