// Package analyzer turns OTLP weight metrics into telemetry records.
package analyzer

import (
	"fmt"
	"time"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// WeightMetricName is the metric whose data points are weight readings.
const WeightMetricName = "animal.weight"

// Result holds the readings extracted from one export request.
type Result struct {
	Records []models.TelemetryRecord

	// Rejected counts weight data points that could not become records
	Rejected int64

	// FirstError describes the first rejection, for PartialSuccess
	FirstError string
}

func (r *Result) reject(err error) {
	r.Rejected++
	if r.FirstError == "" {
		r.FirstError = err.Error()
	}
}

// MetricsAnalyzer extracts weight readings from OTLP metrics.
type MetricsAnalyzer struct {
	metricName string
}

// NewMetricsAnalyzer creates a new metrics analyzer.
func NewMetricsAnalyzer() *MetricsAnalyzer {
	return &MetricsAnalyzer{metricName: WeightMetricName}
}

// Analyze extracts readings from an OTLP metrics export request. Metrics
// other than the weight metric are ignored.
func (a *MetricsAnalyzer) Analyze(req *colmetricspb.ExportMetricsServiceRequest) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	result := &Result{}

	for _, resourceMetrics := range req.ResourceMetrics {
		resourceAttrs := extractAttributes(resourceMetrics.GetResource().GetAttributes())

		for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
			for _, metric := range scopeMetrics.Metrics {
				if metric.GetName() != a.metricName {
					continue
				}
				a.analyzeMetric(metric, resourceAttrs, result)
			}
		}
	}

	return result, nil
}

// analyzeMetric converts the number data points of one weight metric.
func (a *MetricsAnalyzer) analyzeMetric(metric *metricspb.Metric, resourceAttrs map[string]string, result *Result) {
	var points []*metricspb.NumberDataPoint

	switch data := metric.Data.(type) {
	case *metricspb.Metric_Gauge:
		points = data.Gauge.GetDataPoints()
	case *metricspb.Metric_Sum:
		points = data.Sum.GetDataPoints()
	default:
		result.reject(fmt.Errorf("%s: unsupported metric type %s", metric.GetName(), metricType(metric)))
		return
	}

	for _, dp := range points {
		rec, err := toRecord(dp, resourceAttrs)
		if err != nil {
			result.reject(err)
			continue
		}
		result.Records = append(result.Records, rec)
	}
}

func toRecord(dp *metricspb.NumberDataPoint, resourceAttrs map[string]string) (models.TelemetryRecord, error) {
	if dp.GetTimeUnixNano() == 0 {
		return models.TelemetryRecord{}, fmt.Errorf("%w: data point has no timestamp", models.ErrValidation)
	}

	var weight float64
	switch v := dp.Value.(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		weight = v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		weight = float64(v.AsInt)
	default:
		return models.TelemetryRecord{}, fmt.Errorf("%w: data point has no value", models.ErrValidation)
	}

	pointAttrs := extractAttributes(dp.GetAttributes())
	rec := models.TelemetryRecord{
		Timestamp:    time.Unix(0, int64(dp.GetTimeUnixNano())).UTC().Format(time.RFC3339Nano),
		DeviceID:     deviceID(pointAttrs, resourceAttrs),
		SourceUnit:   lookup(AttrSourceUnit, pointAttrs, resourceAttrs),
		AnimalID:     lookup(AttrAnimalID, pointAttrs, resourceAttrs),
		AnimalWeight: weight,
	}
	if err := rec.Validate(); err != nil {
		return models.TelemetryRecord{}, err
	}
	return rec, nil
}

// metricType returns the metric type as a string.
func metricType(metric *metricspb.Metric) string {
	switch metric.Data.(type) {
	case *metricspb.Metric_Gauge:
		return "Gauge"
	case *metricspb.Metric_Sum:
		return "Sum"
	case *metricspb.Metric_Histogram:
		return "Histogram"
	case *metricspb.Metric_ExponentialHistogram:
		return "ExponentialHistogram"
	case *metricspb.Metric_Summary:
		return "Summary"
	default:
		return "Unknown"
	}
}
