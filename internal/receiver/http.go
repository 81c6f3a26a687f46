package receiver

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const maxBodyBytes = 16 << 20

// HTTPReceiver handles OTLP HTTP requests.
type HTTPReceiver struct {
	ingester *ingester
	server   *http.Server
}

// NewHTTPReceiver creates a new HTTP receiver.
func NewHTTPReceiver(addr string, sink Sink, logger *slog.Logger) *HTTPReceiver {
	r := &HTTPReceiver{
		ingester: newIngester(sink, logger),
	}

	r.server = &http.Server{
		Addr:    addr,
		Handler: r.Handler(),
	}

	return r
}

// Handler returns the receiver's routes.
func (r *HTTPReceiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/metrics", r.handleMetrics)
	mux.HandleFunc("/health", r.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *HTTPReceiver) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// handleMetrics handles OTLP metrics export requests.
func (r *HTTPReceiver) handleMetrics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer req.Body.Close()

	// Handle compression
	var reader io.Reader = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to decompress: %v", err), http.StatusBadRequest)
			return
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	asJSON := isJSON(req.Header.Get("Content-Type"))

	var exportReq colmetricspb.ExportMetricsServiceRequest
	if asJSON {
		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if err := unmarshaler.Unmarshal(body, &exportReq); err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
			return
		}
	} else if err := proto.Unmarshal(body, &exportReq); err != nil {
		// Some clients send JSON without a content type
		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if jsonErr := unmarshaler.Unmarshal(body, &exportReq); jsonErr != nil {
			http.Error(w, fmt.Sprintf("Failed to parse request: protobuf error: %v, json error: %v", err, jsonErr), http.StatusBadRequest)
			return
		}
		asJSON = true
	}

	resp, err := r.ingester.export(req.Context(), &exportReq)
	if err != nil {
		r.ingester.logger.Error("metrics export failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	r.writeResponse(w, resp, asJSON)
}

// handleHealth handles health check requests.
func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status":"ok"}`)
}

// writeResponse encodes resp in the request's encoding.
func (r *HTTPReceiver) writeResponse(w http.ResponseWriter, resp proto.Message, asJSON bool) {
	var (
		data        []byte
		err         error
		contentType = "application/x-protobuf"
	)
	if asJSON {
		data, err = protojson.Marshal(resp)
		contentType = "application/json"
	} else {
		data, err = proto.Marshal(resp)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
}
