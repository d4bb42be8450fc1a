package stock

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shopcore/go-stock-reservation/internal/catalog"
)

// Catalog is the slice of the product store the reservation core needs: an
// atomic, internally retried read-modify-write per product document. The
// body handed to RunTransaction must be safe to re-run on every optimistic
// retry attempt.
type Catalog interface {
	RunTransaction(ctx context.Context, productID string, body func(*catalog.Product) error) error
}

// errApplyFailed aborts a transaction whose body found business failures
// (insufficient stock, unknown variant) so nothing is written.
var errApplyFailed = errors.New("apply failed")

// Service reserves and releases per-variant stock. It is stateless between
// calls; the product document is the unit of mutual exclusion and the
// catalog's transaction supplies all isolation.
//
// Reserve has decrement semantics, not set semantics: calling it twice with
// the same line items decrements twice. Double-submit deduplication belongs
// to the caller (the checkout handler keys submissions by Idempotency-Key).
type Service struct {
	catalog Catalog
	logger  zerolog.Logger
}

// NewService returns a reservation service backed by the given catalog.
func NewService(c Catalog, logger zerolog.Logger) *Service {
	return &Service{catalog: c, logger: logger}
}

// Reserve atomically verifies and decrements stock for every line item, or
// reports every grouped item that could not be satisfied via a
// *ReservationError.
//
// Line items are first merged by (product, variant); each distinct product
// is then one transaction, all-or-nothing for the variants it covers.
// Transactions for different products are independent and run concurrently;
// ones that committed are not rolled back when a sibling fails — use
// CommittedItems plus Release to compensate.
func (s *Service) Reserve(ctx context.Context, items []LineItem) error {
	if fs := validateItems(items); len(fs) > 0 {
		return &ReservationError{Failures: fs}
	}

	groups := groupLineItems(items)
	failures := s.fanOut(ctx, groups, s.reserveBody)
	if len(failures) > 0 {
		for _, f := range failures {
			s.logger.Warn().
				Str("product_id", f.ProductID).
				Str("variant_id", f.VariantID).
				Str("reason", f.Reason).
				Int("requested", f.Requested).
				Int("available", f.Available).
				Msg("line item not reserved")
		}
		return &ReservationError{Failures: failures}
	}

	s.logger.Info().Int("products", len(groups)).Int("line_items", len(items)).Msg("stock reserved")
	return nil
}

// Release is the compensating inverse of Reserve: it adds the merged
// quantities back onto each variant. Used for order cancellation and for
// undoing the committed part of a partially failed Reserve.
func (s *Service) Release(ctx context.Context, items []LineItem) error {
	if fs := validateItems(items); len(fs) > 0 {
		return &ReservationError{Failures: fs}
	}

	groups := groupLineItems(items)
	failures := s.fanOut(ctx, groups, s.releaseBody)
	if len(failures) > 0 {
		return &ReservationError{Failures: failures}
	}

	s.logger.Info().Int("products", len(groups)).Msg("stock released")
	return nil
}

// validateItems fails fast on caller bugs. Nothing is attempted when any
// item is malformed.
func validateItems(items []LineItem) []Failure {
	if len(items) == 0 {
		return []Failure{{Reason: ReasonInvalidRequest}}
	}
	var fs []Failure
	for _, it := range items {
		if it.ProductID == "" || it.VariantID == "" || it.Quantity < 1 {
			fs = append(fs, Failure{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Reason:    ReasonInvalidRequest,
				Requested: it.Quantity,
			})
		}
	}
	return fs
}

// fanOut runs one transaction per product group concurrently and collects
// failures in a deterministic order.
func (s *Service) fanOut(ctx context.Context, groups []productRequest, body func(productRequest) func(*catalog.Product) []Failure) []Failure {
	var (
		mu  sync.Mutex
		all []Failure
		wg  sync.WaitGroup
	)
	for _, g := range groups {
		wg.Add(1)
		go func(req productRequest) {
			defer wg.Done()
			if fs := s.transactProduct(ctx, req, body(req)); len(fs) > 0 {
				mu.Lock()
				all = append(all, fs...)
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ProductID != all[j].ProductID {
			return all[i].ProductID < all[j].ProductID
		}
		return all[i].VariantID < all[j].VariantID
	})
	return all
}

// transactProduct wraps one product group in a catalog transaction and maps
// store-level errors onto per-item failures. The body is re-entrant: it
// returns a fresh failure slice on every optimistic retry attempt.
func (s *Service) transactProduct(ctx context.Context, req productRequest, body func(*catalog.Product) []Failure) []Failure {
	var failures []Failure
	err := s.catalog.RunTransaction(ctx, req.ProductID, func(p *catalog.Product) error {
		failures = body(p)
		if len(failures) > 0 {
			return errApplyFailed
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errApplyFailed):
		return failures
	case errors.Is(err, catalog.ErrProductNotFound):
		return failAll(req, ReasonProductNotFound)
	case errors.Is(err, catalog.ErrTransactionAborted):
		return failAll(req, ReasonTransactionAborted)
	default:
		// infra error; surfaced as retryable since re-running Reserve is safe
		s.logger.Error().Err(err).Str("product_id", req.ProductID).Msg("stock transaction failed")
		return failAll(req, ReasonTransactionAborted)
	}
}

// reserveBody checks and decrements every wanted variant of one product.
// All-or-nothing within the product: if any variant fails, no stock on the
// product is touched.
func (s *Service) reserveBody(req productRequest) func(*catalog.Product) []Failure {
	return func(p *catalog.Product) []Failure {
		var fs []Failure
		for _, want := range req.Variants {
			v := p.Variant(want.VariantID)
			if v == nil {
				fs = append(fs, Failure{
					ProductID: req.ProductID,
					VariantID: want.VariantID,
					Reason:    ReasonVariantNotFound,
					Requested: want.Quantity,
				})
				continue
			}
			if v.Stock < want.Quantity {
				fs = append(fs, Failure{
					ProductID: req.ProductID,
					VariantID: want.VariantID,
					Reason:    ReasonInsufficientStock,
					Requested: want.Quantity,
					Available: v.Stock,
				})
			}
		}
		if len(fs) > 0 {
			return fs
		}
		for _, want := range req.Variants {
			p.Variant(want.VariantID).Stock -= want.Quantity
		}
		return nil
	}
}

// releaseBody adds merged quantities back. A variant that no longer exists
// fails the product group; the document is left untouched in that case.
func (s *Service) releaseBody(req productRequest) func(*catalog.Product) []Failure {
	return func(p *catalog.Product) []Failure {
		var fs []Failure
		for _, want := range req.Variants {
			if p.Variant(want.VariantID) == nil {
				fs = append(fs, Failure{
					ProductID: req.ProductID,
					VariantID: want.VariantID,
					Reason:    ReasonVariantNotFound,
					Requested: want.Quantity,
				})
			}
		}
		if len(fs) > 0 {
			return fs
		}
		for _, want := range req.Variants {
			p.Variant(want.VariantID).Stock += want.Quantity
		}
		return nil
	}
}

func failAll(req productRequest, reason string) []Failure {
	fs := make([]Failure, 0, len(req.Variants))
	for _, want := range req.Variants {
		fs = append(fs, Failure{
			ProductID: req.ProductID,
			VariantID: want.VariantID,
			Reason:    reason,
			Requested: want.Quantity,
		})
	}
	return fs
}
