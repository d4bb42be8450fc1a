package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// mergedQuantityCap bounds the summed quantity per (product, variant) after
// duplicate line items are merged. Anything above this is a caller bug, not
// a plausible cart.
const mergedQuantityCap = math.MaxInt32

// New returns a configured validator with struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// duplicate (product, variant) line items are legal and additive; the
	// merged total still has to stay sane
	v.RegisterStructValidation(reserveStructValidation, ReserveRequest{})
	v.RegisterStructValidation(releaseStructValidation, ReleaseRequest{})

	return v
}

func reserveStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(ReserveRequest)
	validateMergedQuantities(sl, req.Items)
}

func releaseStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(ReleaseRequest)
	validateMergedQuantities(sl, req.Items)
}

func validateMergedQuantities(sl validatorv10.StructLevel, items []ReserveItem) {
	totals := map[[2]string]int64{}
	for _, it := range items {
		k := [2]string{it.ProductID, it.VariantID}
		totals[k] += int64(it.Quantity)
		if totals[k] > mergedQuantityCap {
			sl.ReportError(items, "items", "Items", "merged_quantity_cap",
				fmt.Sprintf("merged quantity for %s/%s exceeds cap", it.ProductID, it.VariantID))
			return
		}
	}
}
