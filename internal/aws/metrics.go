package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names emitted by the checkout flow.
const (
	MetricSignatureMismatch = "SignatureMismatch"
	MetricGatewayError      = "GatewayError"
	MetricOrderFinalized    = "OrderFinalized"
	MetricCartClearFailed   = "CartClearFailed"
)

// Metrics publishes counters to CloudWatch under a single namespace.
// A nil *Metrics is valid and drops everything.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

// NewMetrics returns a Metrics bound to namespace.
func NewMetrics(cw CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		CloudWatch: cw,
		Namespace:  namespace,
		nowFunc:    time.Now,
	}
}

// Count records value occurrences of name.
func (m *Metrics) Count(ctx context.Context, name string, value float64) error {
	if m == nil || m.CloudWatch == nil {
		return nil
	}
	ts := m.nowFunc()
	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &ts,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}
	return nil
}
