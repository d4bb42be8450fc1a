package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsPublisher emits reservation outcome counters to CloudWatch.
// Failures to publish are returned to the caller, which logs and moves on:
// metrics must never fail a checkout.
type MetricsPublisher struct {
	CW        CloudWatchAPI
	Namespace string
	nowFunc   func() time.Time
}

// NewMetricsPublisher returns a publisher bound to a CloudWatch namespace.
func NewMetricsPublisher(cw CloudWatchAPI, namespace string) *MetricsPublisher {
	return &MetricsPublisher{
		CW:        cw,
		Namespace: namespace,
		nowFunc:   time.Now,
	}
}

// CountOutcome increments the named reservation outcome metric
// (e.g. "Reserved", "InsufficientStock", "TransactionAborted").
func (m *MetricsPublisher) CountOutcome(ctx context.Context, outcome string, n float64) error {
	now := m.nowFunc()
	_, err := m.CW.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString("ReservationOutcome"),
				Timestamp:  &now,
				Value:      &n,
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: awsString("Outcome"), Value: &outcome},
				},
			},
		},
	})
	return err
}
