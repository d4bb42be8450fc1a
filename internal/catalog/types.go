package catalog

import "time"

// Variant is one purchasable configuration of a product. Stock is the count
// of sellable units and never goes below zero in a committed document.
type Variant struct {
	VariantID string  `dynamodbav:"variant_id" json:"variant_id"`
	Name      string  `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Price     float64 `dynamodbav:"price,omitempty" json:"price,omitempty"`
	Stock     int     `dynamodbav:"stock" json:"stock"`
}

// Product is the document stored in the products table. Version backs the
// optimistic concurrency check in Store.RunTransaction; every committed write
// bumps it by one.
type Product struct {
	ProductID string    `dynamodbav:"product_id" json:"product_id"` // PK
	Name      string    `dynamodbav:"name,omitempty" json:"name,omitempty"`
	SellerID  string    `dynamodbav:"seller_id,omitempty" json:"seller_id,omitempty"`
	Variants  []Variant `dynamodbav:"variants" json:"variants"`
	Version   int64     `dynamodbav:"version" json:"version"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Variant returns a pointer to the variant with the given id, or nil if the
// product has no such variant. The pointer aliases the receiver's slice, so
// mutations through it are visible on the product.
func (p *Product) Variant(variantID string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].VariantID == variantID {
			return &p.Variants[i]
		}
	}
	return nil
}

// clone deep-copies the product so each transaction attempt gets a fresh
// working copy and the body stays re-runnable.
func (p *Product) clone() *Product {
	cp := *p
	cp.Variants = make([]Variant, len(p.Variants))
	copy(cp.Variants, p.Variants)
	return &cp
}
