package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shopcore/go-stock-reservation/internal/aws"
	"github.com/shopcore/go-stock-reservation/internal/catalog"
	"github.com/shopcore/go-stock-reservation/internal/idempotency"
	"github.com/shopcore/go-stock-reservation/internal/stock"
	"github.com/shopcore/go-stock-reservation/internal/validation"
)

// HandlerConfig groups dependencies for the checkout routes.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI
	ProductsTable    string
	IdempotencyTable string
	ReleaseQueueURL  string
	MetricsNamespace string
	TTLWindow        time.Duration
	Logger           zerolog.Logger
}

// releasePayload is the message enqueued for the compensation worker when a
// reserve call partially committed.
type releasePayload struct {
	OrderID        string           `json:"order_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	Items          []stock.LineItem `json:"items"`
}

// RegisterCheckoutRoutes registers the reserve/release/product routes.
func RegisterCheckoutRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	catalogStore := catalog.NewStore(cfg.DynamoDBClient, cfg.ProductsTable)
	svc := stock.NewService(catalogStore, cfg.Logger)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.ReleaseQueueURL)

	var metrics *aws.MetricsPublisher
	if cfg.CloudWatchClient != nil {
		metrics = aws.NewMetricsPublisher(cfg.CloudWatchClient, cfg.MetricsNamespace)
	}
	countOutcome := func(c *gin.Context, outcome string) {
		if metrics == nil {
			return
		}
		if err := metrics.CountOutcome(c.Request.Context(), outcome, 1); err != nil {
			cfg.Logger.Warn().Err(err).Msg("failed to publish metric")
		}
	}

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := catalogStore.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog_read_failed", "detail": err.Error()})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.POST("/checkout/reserve", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.ReserveRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		reservationID := uuid.NewString()

		created, err := idempStore.CreateIfNotExists(ctx, idempKey, reservationID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return
		}
		if !created {
			replayIdempotentResponse(c, idempStore, idempKey)
			return
		}

		items := toLineItems(req.Items)
		err = svc.Reserve(ctx, items)
		if err == nil {
			countOutcome(c, "Reserved")
			body, _ := json.Marshal(gin.H{"reservation_id": reservationID, "status": "RESERVED"})
			_ = idempStore.MarkDone(ctx, idempKey, string(body), http.StatusOK)
			c.JSON(http.StatusOK, gin.H{"reservation_id": reservationID, "status": "RESERVED"})
			return
		}

		var re *stock.ReservationError
		if !errors.As(err, &re) {
			_ = idempStore.MarkFailed(ctx, idempKey, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reservation_failed", "detail": err.Error()})
			return
		}

		if invalidOnly(re) {
			_ = idempStore.MarkFailed(ctx, idempKey, "invalid_request")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "failures": re.Failures})
			return
		}

		if re.Retryable() {
			// transient contention; client retries the whole call with the
			// same line items
			countOutcome(c, "TransactionAborted")
			_ = idempStore.MarkFailed(ctx, idempKey, "transaction_aborted")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reservation_aborted", "retryable": true})
			return
		}

		// some product transactions may have committed before a sibling
		// failed; enqueue the compensating release for the committed part
		if committed := stock.CommittedItems(items, re); len(committed) > 0 {
			payload, _ := json.Marshal(releasePayload{
				OrderID:        req.OrderID,
				IdempotencyKey: idempKey,
				Items:          committed,
			})
			attrs := map[string]string{
				"idempotency_key": idempKey,
				"correlation_id":  c.GetHeader("X-Request-Id"),
			}
			if err := publisher.SendReleaseMessage(ctx, string(payload), attrs); err != nil {
				cfg.Logger.Error().Err(err).
					Str("idempotency_key", idempKey).
					Msg("failed to enqueue compensating release")
			}
		}

		countOutcome(c, "ReservationFailed")
		body, _ := json.Marshal(gin.H{"error": "reservation_failed", "failures": re.Failures})
		_ = idempStore.MarkDone(ctx, idempKey, string(body), http.StatusConflict)
		c.JSON(http.StatusConflict, gin.H{"error": "reservation_failed", "failures": re.Failures})
	})

	r.POST("/checkout/release", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.ReleaseRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		err := svc.Release(ctx, toLineItems(req.Items))
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"status": "RELEASED"})
			return
		}

		var re *stock.ReservationError
		if !errors.As(err, &re) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "release_failed", "detail": err.Error()})
			return
		}
		if re.Retryable() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "release_aborted", "retryable": true})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "release_failed", "failures": re.Failures})
	})
}

// replayIdempotentResponse serves a duplicate submission from the stored
// idempotency record.
func replayIdempotentResponse(c *gin.Context, idempStore *idempotency.Store, key string) {
	rec, err := idempStore.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_record_missing"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"reservation_id": rec.ReservationID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "reservation_id": rec.ReservationID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "reservation_id": rec.ReservationID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func toLineItems(items []validation.ReserveItem) []stock.LineItem {
	out := make([]stock.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, stock.LineItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return out
}

func invalidOnly(re *stock.ReservationError) bool {
	if len(re.Failures) == 0 {
		return false
	}
	for _, f := range re.Failures {
		if f.Reason != stock.ReasonInvalidRequest {
			return false
		}
	}
	return true
}
