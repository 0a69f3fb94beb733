// Package server implements gRPC and REST services that return the decimal
// expansion of pi to a requested number of digits, with an optional cache and
// OpenTelemetry metrics and traces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	machin "github.com/memes/machin"
	cachepkg "github.com/memes/machin/pkg/cache"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// The default name to use when using OpenTelemetry components.
	OpenTelemetryPackageIdentifier = "pkg.server"
	// The default limit on the number of digits a request may ask for.
	DefaultMaxDigits = 100_000
	// Route that returns the expansion of pi.
	PiPath = "/api/v1/pi/{digits}"
	// Route that reports the serving status.
	HealthPath = "/healthz"
	// Suffix added to the cache key of expansions that include guard digits.
	guardKeySuffix = ":guard"
)

type MachinServer struct {
	// The logr.Logger implementation to use
	logger logr.Logger
	// An optional cache implementation
	cache cachepkg.Cache
	// The instance specific metadata that will be returned in responses
	identity    string
	tags        []string
	annotations map[string]string
	// Requests for more digits than this are rejected
	maxDigits int
	// A histogram for calculation durations
	calculationMs metric.Int64Histogram
	// A counter for the number of errors returned by cache
	cacheErrors metric.Int64Counter
	// A counter for cache hits
	cacheHits metric.Int64Counter
	// A counter for cache misses
	cacheMisses metric.Int64Counter
	// A set of gRPC ServerOptions to use
	serverOptions []grpc.ServerOption
}

// Defines the function signature for MachinServer options.
type MachinServerOption func(*MachinServer)

// Create a new MachinServer and apply any options.
func NewMachinServer(options ...MachinServerOption) (*MachinServer, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	server := &MachinServer{
		logger:      logr.Discard(),
		cache:       cachepkg.NewNoopCache(),
		identity:    hostname,
		tags:        []string{},
		annotations: map[string]string{},
		maxDigits:   DefaultMaxDigits,
	}
	server.serverOptions = []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
	for _, option := range options {
		option(server)
	}
	meter := otel.Meter(OpenTelemetryPackageIdentifier)
	server.calculationMs, err = meter.Int64Histogram(
		OpenTelemetryPackageIdentifier+".calc_duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("The duration (ms) of calculations"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating calculationMs Histogram: %w", err)
	}
	server.cacheErrors, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".cache_errors",
		metric.WithDescription("The count of error responses from cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheErrors Counter: %w", err)
	}
	server.cacheHits, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".cache_hits",
		metric.WithDescription("The count of cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheHits Counter: %w", err)
	}
	server.cacheMisses, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".cache_misses",
		metric.WithDescription("The count of cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheMisses Counter: %w", err)
	}
	return server, nil
}

// Use the supplied logger for the server and machin packages.
func WithLogger(logger logr.Logger) MachinServerOption {
	return func(s *MachinServer) {
		s.logger = logger
		machin.SetLogger(logger)
	}
}

// Use the Cache implementation to store expansions and avoid recalculating a
// digit count that has already been served.
func WithCache(cache cachepkg.Cache) MachinServerOption {
	return func(s *MachinServer) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// Add the string tags to the server's metadata.
func WithTags(tags []string) MachinServerOption {
	return func(s *MachinServer) {
		if tags != nil {
			s.tags = append(s.tags, tags...)
		}
	}
}

// Add the key-value annotations to the server's metadata.
func WithAnnotations(annotations map[string]string) MachinServerOption {
	return func(s *MachinServer) {
		for k, v := range annotations {
			s.annotations[k] = v
		}
	}
}

// Reject requests for more than maxDigits digits; values outside
// [1, machin.MaxDigits] are ignored.
func WithMaxDigits(maxDigits int) MachinServerOption {
	return func(s *MachinServer) {
		if maxDigits > 0 && maxDigits <= machin.MaxDigits {
			s.maxDigits = maxDigits
		}
	}
}

// Set the TransportCredentials to use for the gRPC listener.
func WithGRPCServerTransportCredentials(serverCredentials credentials.TransportCredentials) MachinServerOption {
	return func(s *MachinServer) {
		if serverCredentials != nil {
			s.serverOptions = append(s.serverOptions, grpc.Creds(serverCredentials))
		}
	}
}

// Converts an error from the machin package, or from a cancelled context, to
// a gRPC status error.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, machin.ErrInvalidDigitCount):
		return status.Error(codes.InvalidArgument, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	case errors.Is(err, machin.ErrTooManyDigits):
		return status.Error(codes.OutOfRange, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err() //nolint:wrapcheck // Errors returned should be gRPC statuses
	default:
		return status.Error(codes.Internal, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
}

// Returns pi with digits decimal digits after the point. When guard is false
// every digit is confirmed against the error bound of the calculation; when
// guard is true the raw expansion is returned, guard digits included.
//
//nolint:funlen // OTEL options make this function appear longer than expected.
func (s *MachinServer) GetPi(ctx context.Context, digits int, guard bool) (string, error) {
	logger := s.logger.WithValues("digits", digits, "guard", guard)
	logger.Info("GetPi: enter")
	key := strconv.FormatInt(int64(digits), 16)
	if guard {
		key += guardKeySuffix
	}
	attributes := []attribute.KeyValue{
		attribute.Int(OpenTelemetryPackageIdentifier+".digits", digits),
		attribute.Bool(OpenTelemetryPackageIdentifier+".guard", guard),
		attribute.String(OpenTelemetryPackageIdentifier+".cacheKey", key),
	}
	ctx, span := otel.Tracer(OpenTelemetryPackageIdentifier).Start(ctx, OpenTelemetryPackageIdentifier+"/GetPi")
	defer span.End()
	span.SetAttributes(attributes...)
	if digits < 1 {
		err := fmt.Errorf("%d digits: %w", digits, machin.ErrInvalidDigitCount)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", statusFromError(err)
	}
	if digits > s.maxDigits {
		err := fmt.Errorf("%d digits exceeds limit of %d: %w", digits, s.maxDigits, machin.ErrTooManyDigits)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", statusFromError(err)
	}
	span.AddEvent("Checking cache")
	result, err := s.cache.GetValue(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.cacheErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		return "", status.Error(codes.Internal, fmt.Sprintf("cache %T GetValue method returned an error: %v", s.cache, err)) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
	if result != "" {
		attributes := append(attributes, attribute.Bool(OpenTelemetryPackageIdentifier+".cache_hit", true))
		span.SetAttributes(attributes...)
		s.cacheHits.Add(ctx, 1, metric.WithAttributes(attributes...))
		logger.Info("GetPi: exit", "cached", true)
		return result, nil
	}
	attributes = append(attributes, attribute.Bool(OpenTelemetryPackageIdentifier+".cache_hit", false))
	span.SetAttributes(attributes...)
	span.AddEvent("Calculating digits")
	s.cacheMisses.Add(ctx, 1, metric.WithAttributes(attributes...))
	ts := time.Now()
	var stats machin.Stats
	if guard {
		var value machin.Value
		value, stats, err = machin.PiContext(ctx, digits)
		result = value.String()
	} else {
		result, stats, err = machin.PiCertain(ctx, digits)
	}
	s.calculationMs.Record(ctx, time.Since(ts).Milliseconds(), metric.WithAttributes(attributes...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", statusFromError(err)
	}
	span.SetAttributes(
		attribute.Int(OpenTelemetryPackageIdentifier+".precision", stats.Precision),
		attribute.Int(OpenTelemetryPackageIdentifier+".iterations5", stats.Iterations5),
		attribute.Int(OpenTelemetryPackageIdentifier+".iterations239", stats.Iterations239),
	)
	if err = s.cache.SetValue(ctx, key, result); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.cacheErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		return "", status.Error(codes.Internal, fmt.Sprintf("cache %T SetValue method returned an error: %v", s.cache, err)) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
	logger.Info("GetPi: exit", "cached", false, "precision", stats.Precision)
	return result, nil
}

// Returns the instance metadata as structpb compatible values.
func (s *MachinServer) metadata() map[string]interface{} {
	tags := make([]interface{}, 0, len(s.tags))
	for _, tag := range s.tags {
		tags = append(tags, tag)
	}
	annotations := make(map[string]interface{}, len(s.annotations))
	for k, v := range s.annotations {
		annotations[k] = v
	}
	return map[string]interface{}{
		"identity":    s.identity,
		"tags":        tags,
		"annotations": annotations,
	}
}

// Returns the response payload shared by the REST and gRPC services. The
// approximation field holds the leading digits of the result as a decimal
// number for callers that do not need the full expansion.
func (s *MachinServer) payload(digits int, guard bool, result string) (map[string]interface{}, error) {
	approximation, err := machin.Approximate(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
	return map[string]interface{}{
		"digits":        digits,
		"guard":         guard,
		"pi":            result,
		"approximation": approximation.String(),
		"metadata":      s.metadata(),
	}, nil
}

// Marshal the payload with the outbound marshaler registered for the request.
func (s *MachinServer) writeResponse(mux *runtime.ServeMux, w http.ResponseWriter, r *http.Request, payload map[string]interface{}) {
	_, outbound := runtime.MarshalerForRequest(mux, r)
	response, err := structpb.NewStruct(payload)
	if err != nil {
		runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.Internal, err.Error()))
		return
	}
	data, err := outbound.Marshal(response)
	if err != nil {
		runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.Internal, err.Error()))
		return
	}
	w.Header().Set("Content-Type", outbound.ContentType(response))
	if _, err := w.Write(data); err != nil {
		s.logger.Error(err, "Writing response raised an error; continuing")
	}
}

// Create a new REST handler that serves the pi expansion and health routes.
func (s *MachinServer) NewRestHandler() (http.Handler, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONPb{
			MarshalOptions: protojson.MarshalOptions{
				EmitUnpopulated: true,
			},
			UnmarshalOptions: protojson.UnmarshalOptions{
				DiscardUnknown: true,
			},
		}),
	)
	if err := mux.HandlePath(http.MethodGet, PiPath,
		func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
			_, outbound := runtime.MarshalerForRequest(mux, r)
			digits, err := strconv.Atoi(pathParams["digits"])
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.InvalidArgument, fmt.Sprintf("digits must be an integer: %v", err)))
				return
			}
			guard, err := parseGuard(r.URL.Query().Get("guard"))
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.InvalidArgument, fmt.Sprintf("guard must be a boolean: %v", err)))
				return
			}
			result, err := s.GetPi(r.Context(), digits, guard)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
				return
			}
			payload, err := s.payload(digits, guard, result)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
				return
			}
			s.writeResponse(mux, w, r, payload)
		},
	); err != nil {
		return nil, fmt.Errorf("failed to register %s handler: %w", PiPath, err)
	}
	if err := mux.HandlePath(http.MethodGet, HealthPath,
		func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			s.writeResponse(mux, w, r, map[string]interface{}{
				"status": grpc_health_v1.HealthCheckResponse_SERVING.String(),
			})
		},
	); err != nil {
		return nil, fmt.Errorf("failed to register %s handler: %w", HealthPath, err)
	}
	return otelhttp.NewHandler(mux,
		OpenTelemetryPackageIdentifier+"/RestHandler",
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
	), nil
}

// An empty guard query parameter means false.
func parseGuard(value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	guard, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("failed to parse %q: %w", value, err)
	}
	return guard, nil
}
