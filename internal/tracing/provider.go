package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	rdxtracing "github.com/gxo-labs/rdx/pkg/rdx/v1/tracing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	defaultGRPCEndpoint = "localhost:4317"
	defaultHTTPEndpoint = "localhost:4318"
	defaultServiceName  = "rdx"
)

// OtelTracerProvider implements rdxtracing.TracerProvider with either the
// OpenTelemetry SDK or the official NoOp provider.
type OtelTracerProvider struct {
	provider    trace.TracerProvider
	exporter    sdktrace.SpanExporter
	sdkProvider *sdktrace.TracerProvider
	// out receives the informational lines printed while configuring and
	// shutting down. Tracing is set up before any logger exists.
	out io.Writer
}

// NewNoOpProvider creates a TracerProvider that records nothing. Stores use
// it when no provider is supplied.
func NewNoOpProvider() (*OtelTracerProvider, error) {
	return &OtelTracerProvider{
		provider: trace.NewNoopTracerProvider(),
		out:      io.Discard,
	}, nil
}

// NewProviderFromEnv builds a provider from the standard OTEL_* environment
// variables. It falls back to NoOp when OTEL_SDK_DISABLED=true, when the
// protocol has no default endpoint, or when the exporter cannot be created.
// The global OpenTelemetry provider is left untouched.
func NewProviderFromEnv(ctx context.Context) (*OtelTracerProvider, error) {
	out := io.Writer(os.Stderr)
	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		fmt.Fprintln(out, "Info: OpenTelemetry tracing disabled via OTEL_SDK_DISABLED.")
		return NewNoOpProvider()
	}

	// Describe this process so spans can be attributed in the backend.
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName())),
		resource.WithProcess(), resource.WithOS(), resource.WithHost(),
	)
	if err != nil {
		fmt.Fprintf(out, "Warning: Failed to create OTel resource: %v. Using default.\n", err)
		// Spans are still useful without host details.
		res = resource.Default()
	}

	exporter, err := newExporter(ctx, out)
	if err != nil {
		fmt.Fprintf(out, "Warning: Failed to create OTLP exporter from environment: %v. Using NoOp tracer.\n", err)
		return NewNoOpProvider()
	}
	// No endpoint configured for a protocol without a default.
	if exporter == nil {
		return NewNoOpProvider()
	}

	// Honour the caller's sampling decision; sample every root span.
	sdkTP := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return &OtelTracerProvider{
		provider:    sdkTP,
		exporter:    exporter,
		sdkProvider: sdkTP,
		out:         out,
	}, nil
}

// exporterSettings are the OTLP options shared by both protocols.
type exporterSettings struct {
	protocol    string
	endpoint    string
	headers     map[string]string
	timeout     time.Duration
	compression string
	insecure    bool
}

// settingsFromEnv reads the OTEL_EXPORTER_OTLP_* variables. The protocol
// defaults to grpc as in the OpenTelemetry SDKs.
func settingsFromEnv() exporterSettings {
	protocol := strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	if protocol == "" {
		protocol = "grpc"
	}
	return exporterSettings{
		protocol:    protocol,
		endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		headers:     parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		timeout:     parseTimeout(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT"), 10*time.Second),
		compression: strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_COMPRESSION")),
		insecure:    isInsecure(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), os.Getenv("OTEL_EXPORTER_OTLP_TRACES_INSECURE")),
	}
}

// newExporter returns nil, nil when no endpoint can be determined.
func newExporter(ctx context.Context, out io.Writer) (sdktrace.SpanExporter, error) {
	cfg := settingsFromEnv()

	switch cfg.protocol {
	case "grpc":
		if cfg.endpoint == "" {
			cfg.endpoint = defaultGRPCEndpoint
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.endpoint),
			otlptracegrpc.WithHeaders(cfg.headers),
			otlptracegrpc.WithTimeout(cfg.timeout),
		}
		if cfg.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
		if cfg.compression == "gzip" {
			opts = append(opts, otlptracegrpc.WithCompressor(gzip.Name))
		}
		fmt.Fprintf(out, "Info: Configuring OTLP gRPC exporter (endpoint: %s, insecure: %t)\n", cfg.endpoint, cfg.insecure)
		return otlptracegrpc.New(ctx, opts...)

	case "http", "http/protobuf":
		if cfg.endpoint == "" {
			cfg.endpoint = defaultHTTPEndpoint
		}
		path := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if path == "" {
			path = "/v1/traces"
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.endpoint),
			otlptracehttp.WithURLPath(path),
			otlptracehttp.WithHeaders(cfg.headers),
			otlptracehttp.WithTimeout(cfg.timeout),
		}
		if cfg.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if cfg.compression == "gzip" {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		fmt.Fprintf(out, "Info: Configuring OTLP HTTP exporter (endpoint: %s%s, insecure: %t)\n", cfg.endpoint, path, cfg.insecure)
		return otlptracehttp.New(ctx, opts...)

	default:
		if cfg.endpoint == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", cfg.protocol)
	}
}

// GetTracer returns a named tracer from the wrapped provider.
func (p *OtelTracerProvider) GetTracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p.provider == nil {
		return trace.NewNoopTracerProvider().Tracer(name, opts...)
	}
	return p.provider.Tracer(name, opts...)
}

// Shutdown flushes buffered spans and stops the exporter. It returns the
// first error encountered and is a no-op for NoOp providers.
func (p *OtelTracerProvider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.sdkProvider != nil {
		if err := p.sdkProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(p.out, "Error shutting down OTel tracer provider: %v\n", err)
			firstErr = err
		}
	}
	if p.exporter != nil {
		if err := p.exporter.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsEffectivelyNoOp reports whether spans from this provider are discarded.
func (p *OtelTracerProvider) IsEffectivelyNoOp() bool {
	return p.sdkProvider == nil
}

func serviceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return defaultServiceName
}

// parseHeaders converts "k1=v1,k2=v2" into a map. Pairs without a key are ignored.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	if raw == "" {
		return headers
	}
	// Values may themselves contain '='; only the first one splits.
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}

// parseTimeout accepts integer milliseconds (the OTLP convention) or a Go
// duration string. Negative or unparsable values yield def.
func parseTimeout(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	// Plain integers are milliseconds.
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	return def
}

// isInsecure reports whether any of the given variable values is "true".
// The generic and the traces-specific variable are both honoured.
func isInsecure(flags ...string) bool {
	for _, flag := range flags {
		if strings.EqualFold(strings.TrimSpace(flag), "true") {
			return true
		}
	}
	return false
}

var _ rdxtracing.TracerProvider = (*OtelTracerProvider)(nil)
