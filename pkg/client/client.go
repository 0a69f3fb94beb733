// Package client implements REST and gRPC clients for the pi service with
// optional OpenTelemetry metrics and traces.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// The default maximum timeout that will be applied to requests.
	DefaultMaxTimeout = 10 * time.Second
	// The default name to use when registering OpenTelemetry components.
	DefaultOpenTelemetryClientName = "pkg.client"
	// The full method name of the PiService GetPi RPC.
	GetPiFullMethod = "/machin.v1.PiService/GetPi"
)

var (
	// The service responded with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// The service response did not contain the expansion of pi.
	ErrMissingField = errors.New("response is missing field")
)

// Response holds the decoded reply of the pi service.
type Response struct {
	Digits        int
	Guard         bool
	Pi            string
	Approximation string
	Identity      string
}

type MachinClient struct {
	// The logr.Logger instance to use.
	logger logr.Logger
	// The client maximum timeout/deadline to use when making requests.
	maxTimeout time.Duration
	// The base transport to wrap with OpenTelemetry instrumentation.
	transport http.RoundTripper
	// The prefix to use for metrics.
	prefix string
	// The instrumented HTTP client.
	client *http.Client
	// A counter for the number of connection errors.
	connectionErrors metric.Int64Counter
	// A counter for the number of response errors.
	responseErrors metric.Int64Counter
	// A histogram for request durations.
	durationMs metric.Int64Histogram
}

// Defines a function signature for MachinClient options.
type MachinClientOption func(*MachinClient)

// Create a new MachinClient with optional settings.
func NewMachinClient(options ...MachinClientOption) (*MachinClient, error) {
	client := &MachinClient{
		logger:     logr.Discard(),
		maxTimeout: DefaultMaxTimeout,
		transport:  http.DefaultTransport,
		prefix:     DefaultOpenTelemetryClientName,
	}
	for _, option := range options {
		option(client)
	}
	client.client = &http.Client{
		Transport: otelhttp.NewTransport(client.transport),
		Timeout:   client.maxTimeout,
	}
	meter := otel.Meter(DefaultOpenTelemetryClientName)
	var err error
	client.connectionErrors, err = meter.Int64Counter(
		client.telemetryName("connection_errors"),
		metric.WithDescription("The count of connection errors seen by client"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating connectionErrors Counter: %w", err)
	}
	client.responseErrors, err = meter.Int64Counter(
		client.telemetryName("response_errors"),
		metric.WithDescription("The count of error responses received by client"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating responseErrors Counter: %w", err)
	}
	client.durationMs, err = meter.Int64Histogram(
		client.telemetryName("request_duration_ms"),
		metric.WithUnit("ms"),
		metric.WithDescription("The duration (ms) of requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating durationMs Histogram: %w", err)
	}
	return client, nil
}

// Use the supplied logr.logger.
func WithLogger(logger logr.Logger) MachinClientOption {
	return func(c *MachinClient) {
		c.logger = logger
	}
}

// Set the maximum timeout for client requests.
func WithMaxTimeout(maxTimeout time.Duration) MachinClientOption {
	return func(c *MachinClient) {
		c.maxTimeout = maxTimeout
	}
}

// Use the supplied transport for requests, e.g. one configured for TLS.
func WithTransport(transport http.RoundTripper) MachinClientOption {
	return func(c *MachinClient) {
		if transport != nil {
			c.transport = transport
		}
	}
}

// Set the prefix to use for OpenTelemetry metrics.
func WithPrefix(prefix string) MachinClientOption {
	return func(c *MachinClient) {
		c.prefix = prefix
	}
}

// Generates a name for the metric or span.
func (c *MachinClient) telemetryName(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

// Builds the request URL; an endpoint without a scheme is assumed to be http.
func piURL(endpoint string, digits int, guard bool) string {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	url := strings.TrimSuffix(endpoint, "/") + "/api/v1/pi/" + strconv.Itoa(digits)
	if guard {
		url += "?guard=true"
	}
	return url
}

// Request the expansion of pi to digits decimal digits from the service at
// endpoint.
//
//nolint:funlen // OTEL options make this function appear longer than expected.
func (c *MachinClient) FetchPi(ctx context.Context, endpoint string, digits int, guard bool) (*Response, error) {
	logger := c.logger.V(1).WithValues("endpoint", endpoint, "digits", digits, "guard", guard)
	logger.Info("Starting connection to service")
	attributes := []attribute.KeyValue{
		attribute.String(c.telemetryName("endpoint"), endpoint),
		attribute.Int(c.telemetryName("digits"), digits),
	}
	ctx, span := otel.Tracer(DefaultOpenTelemetryClientName).Start(ctx, DefaultOpenTelemetryClientName+"/FetchPi")
	defer span.End()
	span.SetAttributes(attributes...)
	ctx, cancel := context.WithTimeout(ctx, c.maxTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, piURL(endpoint, digits, guard), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	startTimestamp := time.Now()
	span.AddEvent("Calling GetPi")
	response, err := c.client.Do(request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		c.connectionErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		return nil, fmt.Errorf("failure calling GetPi: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	duration := time.Since(startTimestamp)
	if err == nil && response.StatusCode != http.StatusOK {
		err = fmt.Errorf("%s: %w: %s", response.Status, ErrUnexpectedStatus, strings.TrimSpace(string(body)))
	}
	var payload structpb.Struct
	if err == nil {
		err = protojson.Unmarshal(body, &payload)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		attributes = append(attributes, attribute.Bool(c.telemetryName("success"), false))
		c.responseErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		c.durationMs.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attributes...))
		return nil, fmt.Errorf("failure reading GetPi response: %w", err)
	}
	attributes = append(attributes, attribute.Bool(c.telemetryName("success"), true))
	c.durationMs.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attributes...))
	result, err := decodeResponse(&payload)
	if err != nil {
		return nil, err
	}
	logger.Info("Response from remote", "identity", result.Identity, "length", len(result.Pi))
	return result, nil
}

// Converts the payload shared by the REST and gRPC services to a Response.
func decodeResponse(payload *structpb.Struct) (*Response, error) {
	pi, ok := payload.GetFields()["pi"]
	if !ok {
		return nil, fmt.Errorf("pi: %w", ErrMissingField)
	}
	return &Response{
		Digits:        int(payload.Fields["digits"].GetNumberValue()),
		Guard:         payload.Fields["guard"].GetBoolValue(),
		Pi:            pi.GetStringValue(),
		Approximation: payload.Fields["approximation"].GetStringValue(),
		Identity:      payload.Fields["metadata"].GetStructValue().GetFields()["identity"].GetStringValue(),
	}, nil
}

// Returns the gRPC DialOptions that add OpenTelemetry instrumentation to
// connections used with FetchPiGRPC.
func (c *MachinClient) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Request the expansion of pi to digits decimal digits through the gRPC
// PiService on conn.
func (c *MachinClient) FetchPiGRPC(ctx context.Context, conn grpc.ClientConnInterface, digits int, guard bool) (*Response, error) {
	logger := c.logger.V(1).WithValues("digits", digits, "guard", guard)
	logger.Info("Calling gRPC service")
	attributes := []attribute.KeyValue{
		attribute.Int(c.telemetryName("digits"), digits),
	}
	ctx, span := otel.Tracer(DefaultOpenTelemetryClientName).Start(ctx, DefaultOpenTelemetryClientName+"/FetchPiGRPC")
	defer span.End()
	span.SetAttributes(attributes...)
	ctx, cancel := context.WithTimeout(ctx, c.maxTimeout)
	defer cancel()
	in, err := structpb.NewStruct(map[string]interface{}{
		"digits": digits,
		"guard":  guard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	out := new(structpb.Struct)
	startTimestamp := time.Now()
	err = conn.Invoke(ctx, GetPiFullMethod, in, out)
	duration := time.Since(startTimestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		attributes = append(attributes, attribute.Bool(c.telemetryName("success"), false))
		c.responseErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		c.durationMs.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attributes...))
		return nil, fmt.Errorf("failure calling GetPi: %w", err)
	}
	attributes = append(attributes, attribute.Bool(c.telemetryName("success"), true))
	c.durationMs.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attributes...))
	result, err := decodeResponse(out)
	if err != nil {
		return nil, err
	}
	logger.Info("Response from remote", "identity", result.Identity, "length", len(result.Pi))
	return result, nil
}
