package stock

// variantRequest is the merged quantity wanted from one variant.
type variantRequest struct {
	VariantID string
	Quantity  int
}

// productRequest is everything one Reserve call wants from one product,
// applied in a single transaction.
type productRequest struct {
	ProductID string
	Variants  []variantRequest
}

// groupLineItems merges line items by (product, variant), summing quantities.
// Grouping happens before any transaction is opened: two separate decrements
// against the same variant would waste optimistic retries and, read naively,
// risk a lost update. After grouping, each distinct product is exactly one
// read-modify-write.
//
// Order of first appearance is preserved so failures come back in a stable
// order.
func groupLineItems(items []LineItem) []productRequest {
	productIdx := map[string]int{}
	variantIdx := map[string]map[string]int{}
	var groups []productRequest

	for _, it := range items {
		pi, ok := productIdx[it.ProductID]
		if !ok {
			pi = len(groups)
			productIdx[it.ProductID] = pi
			variantIdx[it.ProductID] = map[string]int{}
			groups = append(groups, productRequest{ProductID: it.ProductID})
		}
		vIdx := variantIdx[it.ProductID]
		if vi, ok := vIdx[it.VariantID]; ok {
			groups[pi].Variants[vi].Quantity += it.Quantity
			continue
		}
		vIdx[it.VariantID] = len(groups[pi].Variants)
		groups[pi].Variants = append(groups[pi].Variants, variantRequest{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return groups
}
