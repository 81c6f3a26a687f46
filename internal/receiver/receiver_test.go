package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/fidde/herd_weight_dashboard/internal/analyzer"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type fakeSink struct {
	mu      sync.Mutex
	records []models.TelemetryRecord
	err     error
}

func (f *fakeSink) AppendBatch(ctx context.Context, recs []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.records = append(f.records, recs...)
	return recs, nil
}

func (f *fakeSink) stored() []models.TelemetryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TelemetryRecord(nil), f.records...)
}

func str(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

// weightRequest builds one valid and one invalid (no animal.id) reading.
func weightRequest() *colmetricspb.ExportMetricsServiceRequest {
	ts := uint64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{str("device.id", "DEV-001")}},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Metrics: []*metricspb.Metric{{
					Name: analyzer.WeightMetricName,
					Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: []*metricspb.NumberDataPoint{
						{TimeUnixNano: ts, Value: &metricspb.NumberDataPoint_AsDouble{AsDouble: 42.5}, Attributes: []*commonpb.KeyValue{str("animal.id", "ANI-0001")}},
						{TimeUnixNano: ts, Value: &metricspb.NumberDataPoint_AsDouble{AsDouble: 10}},
					}}},
				}},
			}},
		}},
	}
}

func TestHTTPProtobuf(t *testing.T) {
	sink := &fakeSink{}
	srv := httptest.NewServer(NewHTTPReceiver("", sink, nil).Handler())
	defer srv.Close()

	body, err := proto.Marshal(weightRequest())
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/v1/metrics", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	var out colmetricspb.ExportMetricsServiceResponse
	if err := proto.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("response is not protobuf: %v", err)
	}
	if out.GetPartialSuccess().GetRejectedDataPoints() != 1 {
		t.Errorf("expected 1 rejected point, got %v", out.GetPartialSuccess())
	}

	stored := sink.stored()
	if len(stored) != 1 || stored[0].AnimalID != "ANI-0001" || stored[0].DeviceID != "DEV-001" {
		t.Errorf("unexpected stored records %+v", stored)
	}
}

func TestHTTPJSONGzip(t *testing.T) {
	sink := &fakeSink{}
	srv := httptest.NewServer(NewHTTPReceiver("", sink, nil).Handler())
	defer srv.Close()

	payload, err := protojson.Marshal(weightRequest())
	if err != nil {
		t.Fatal(err)
	}
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write(payload)
	gz.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/metrics", &compressed)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON response, got %s", ct)
	}
	if len(sink.stored()) != 1 {
		t.Errorf("expected 1 stored record, got %d", len(sink.stored()))
	}
}

func TestHTTPErrors(t *testing.T) {
	sink := &fakeSink{err: errors.Join(models.ErrStorage, errors.New("disk full"))}
	srv := httptest.NewServer(NewHTTPReceiver("", sink, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/metrics", "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", resp.StatusCode)
	}

	body, _ := proto.Marshal(weightRequest())
	resp, err = http.Post(srv.URL+"/v1/metrics", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("storage failure: expected 503, got %d", resp.StatusCode)
	}
}

func dialBuf(t *testing.T, sink Sink) colmetricspb.MetricsServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	r := NewGRPCReceiver("", sink, nil)
	go r.Serve(lis)
	t.Cleanup(func() { r.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return colmetricspb.NewMetricsServiceClient(conn)
}

func TestGRPCExport(t *testing.T) {
	sink := &fakeSink{}
	client := dialBuf(t, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Export(ctx, weightRequest())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if resp.GetPartialSuccess().GetRejectedDataPoints() != 1 {
		t.Errorf("expected 1 rejected point, got %v", resp.GetPartialSuccess())
	}
	if len(sink.stored()) != 1 {
		t.Errorf("expected 1 stored record, got %d", len(sink.stored()))
	}
}

func TestGRPCStorageFailure(t *testing.T) {
	client := dialBuf(t, &fakeSink{err: models.ErrStorage})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Export(ctx, weightRequest())
	if status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
}
