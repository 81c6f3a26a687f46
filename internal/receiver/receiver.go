// Package receiver implements OTLP HTTP and gRPC endpoints that accept
// weight readings as metrics.
package receiver

import (
	"context"
	"fmt"
	"log/slog"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"

	"github.com/fidde/herd_weight_dashboard/internal/analyzer"
	"github.com/fidde/herd_weight_dashboard/internal/metrics"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Sink stores accepted readings.
type Sink interface {
	AppendBatch(ctx context.Context, recs []models.TelemetryRecord) ([]models.TelemetryRecord, error)
}

// ingester is shared by the HTTP and gRPC receivers.
type ingester struct {
	sink            Sink
	metricsAnalyzer *analyzer.MetricsAnalyzer
	logger          *slog.Logger
}

func newIngester(sink Sink, logger *slog.Logger) *ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &ingester{
		sink:            sink,
		metricsAnalyzer: analyzer.NewMetricsAnalyzer(),
		logger:          logger,
	}
}

// export analyzes and stores one request. Invalid data points are
// reported in PartialSuccess; a storage failure is returned as an error.
func (in *ingester) export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	result, err := in.metricsAnalyzer.Analyze(req)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze metrics: %w", err)
	}

	if len(result.Records) > 0 {
		if _, err := in.sink.AppendBatch(ctx, result.Records); err != nil {
			metrics.IngestedReadings.WithLabelValues("otlp", "failed").Add(float64(len(result.Records)))
			return nil, fmt.Errorf("storing readings: %w", err)
		}
		metrics.IngestedReadings.WithLabelValues("otlp", "accepted").Add(float64(len(result.Records)))
	}

	resp := &colmetricspb.ExportMetricsServiceResponse{}
	if result.Rejected > 0 {
		metrics.IngestedReadings.WithLabelValues("otlp", "rejected").Add(float64(result.Rejected))
		in.logger.Warn("rejected weight data points",
			"count", result.Rejected,
			"error", result.FirstError,
		)
		resp.PartialSuccess = &colmetricspb.ExportMetricsPartialSuccess{
			RejectedDataPoints: result.Rejected,
			ErrorMessage:       result.FirstError,
		}
	}

	in.logger.Debug("ingested readings", "accepted", len(result.Records), "rejected", result.Rejected)
	return resp, nil
}
