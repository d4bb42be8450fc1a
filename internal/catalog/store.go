package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/shopcore/go-stock-reservation/internal/aws"
)

// ErrTransactionAborted indicates the optimistic commit lost to concurrent
// writers on every attempt in the retry budget. Safe for the caller to retry
// the whole operation.
var ErrTransactionAborted = errors.New("transaction aborted: conflict retry budget exhausted")

// ErrProductNotFound indicates the product document does not exist.
var ErrProductNotFound = errors.New("product not found")

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 20 * time.Millisecond
)

// Store encapsulates operations on the products table.
//
// RunTransaction is the unit of mutual exclusion for stock updates: one
// product document, read-modify-write, committed with a conditional PutItem
// on the document version and retried with a fresh read on conflict.
type Store struct {
	client      aws.DynamoDBAPI
	tableName   string
	maxAttempts int
	backoff     time.Duration
	nowFunc     func() time.Time
}

// NewStore creates a product Store bound to a table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:      client,
		tableName:   tableName,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		nowFunc:     time.Now,
	}
}

// Get fetches a product document. Returns (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put writes a product document unconditionally (seller/admin seed path).
// Documents always carry a version >= 1 so the transactional path can rely
// on the attribute being present.
func (s *Store) Put(ctx context.Context, p *Product) error {
	if p.Version == 0 {
		p.Version = 1
	}
	p.UpdatedAt = s.nowFunc()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// RunTransaction executes body as an atomic read-modify-write against one
// product document.
//
// Each attempt reads a fresh snapshot, runs body against a deep copy, and
// commits with a PutItem conditioned on the version read. If a concurrent
// writer committed in between, the condition fails and the whole
// read-body-write cycle re-runs; body must therefore be a pure function of
// the snapshot it is handed — no side effects besides mutating its argument.
//
// An error returned by body aborts the transaction immediately (no write, no
// retry) and is propagated verbatim. When the retry budget is exhausted,
// RunTransaction returns ErrTransactionAborted. A missing document returns
// ErrProductNotFound.
func (s *Store) RunTransaction(ctx context.Context, productID string, body func(*Product) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		cur, err := s.Get(ctx, productID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrProductNotFound
		}

		next := cur.clone()
		if err := body(next); err != nil {
			return err
		}

		next.Version = cur.Version + 1
		next.UpdatedAt = s.nowFunc()

		item, err := attributevalue.MarshalMap(next)
		if err != nil {
			return fmt.Errorf("marshal product: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:                &s.tableName,
			Item:                     item,
			ConditionExpression:      awsString("#v = :expected"),
			ExpressionAttributeNames: map[string]string{"#v": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cur.Version)},
			},
		})
		if err == nil {
			return nil
		}
		if !isConditionalCheckFailed(err) {
			return fmt.Errorf("commit product %s: %w", productID, err)
		}

		// lost the race; back off briefly before re-reading
		if attempt+1 < s.maxAttempts {
			if err := sleep(ctx, s.backoff*time.Duration(attempt+1)); err != nil {
				return err
			}
		}
	}
	return ErrTransactionAborted
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func awsString(s string) *string { return &s }
