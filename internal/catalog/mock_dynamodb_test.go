package catalog

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory stand-in for the products table. It
// implements just enough of GetItem/PutItem to exercise the store, including
// the "#v = :expected" version condition so optimistic conflicts are real.
type mockDynamo struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue

	// failPuts forces the next N conditional puts to fail as if a concurrent
	// writer had bumped the version in between.
	failPuts int
	putCalls int
	getCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	keyAttr, ok := params.Key["product_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing product_id key")
	}
	item, ok := m.table[keyAttr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	pkAttr, ok := params.Item["product_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing product_id in item")
	}
	pk := pkAttr.Value

	if params.ConditionExpression != nil && *params.ConditionExpression == "#v = :expected" {
		if m.failPuts > 0 {
			m.failPuts--
			return nil, &types.ConditionalCheckFailedException{}
		}
		existing, ok := m.table[pk]
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
		expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		current, ok := existing["version"].(*types.AttributeValueMemberN)
		if !ok || current.Value != expected {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	m.table[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("UpdateItem not supported by mock")
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("TransactWriteItems not supported by mock")
}

// version reads the stored version of a product directly from the mock table.
func (m *mockDynamo) version(productID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table[productID]
	if !ok {
		return 0
	}
	n, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}
