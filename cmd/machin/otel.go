package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	gcpdetectors "go.opentelemetry.io/contrib/detectors/gcp"
	hostinstrumentation "go.opentelemetry.io/contrib/instrumentation/host"
	runtimeinstrumentation "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
)

const (
	metricReportingPeriod = 30 * time.Second
	compressor            = "gzip"
)

type shutdownFunction func(context.Context) error

func noopShutdownFunction(_ context.Context) error {
	return nil
}

// Create a new OpenTelemetry resource to describe the source of metrics and
// traces. A partial resource, e.g. when GCP metadata is unreachable, is logged
// and used as-is.
func newTelemetryResource(ctx context.Context, name string) *resource.Resource {
	logger := logger.V(1).WithValues("name", name)
	logger.Info("Creating new OpenTelemetry resource descriptor")
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceNamespaceKey.String(PackageName),
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
			semconv.ServiceInstanceIDKey.String(uuid.NewString()),
		),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcessPID(),
		resource.WithProcessExecutableName(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		// GCP attributes override the base service attributes when present.
		resource.WithDetectors(gcpdetectors.NewDetector()),
	)
	if err != nil {
		logger.Error(err, "Error raised while creating telemetry resource; continuing")
	}
	if res == nil {
		res = resource.Default()
	}
	logger.V(1).Info("OpenTelemetry resource created", "resource", res)
	return res
}

// Initializes a periodic reader that will send OpenTelemetry metrics to the
// target provided, returning a shutdown function.
func initMetrics(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource) (shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target)
	logger.V(1).Info("Creating OpenTelemetry metric handlers")
	if target == "" {
		logger.V(0).Info("OpenTelemetry endpoint is not set; no metrics will be sent to collector")
		return noopShutdownFunction, nil
	}
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(target),
		otlpmetricgrpc.WithCompressor(compressor),
		otlpmetricgrpc.WithTLSCredentials(creds),
	)
	if err != nil {
		return noopShutdownFunction, fmt.Errorf("failed to create new metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricReportingPeriod))),
	)
	shutdown := func(ctx context.Context) error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("error during OpenTelemetry meter provider shutdown: %w", err)
		}
		return nil
	}
	if err = runtimeinstrumentation.Start(runtimeinstrumentation.WithMeterProvider(provider)); err != nil {
		return shutdown, fmt.Errorf("failed to start runtime metrics: %w", err)
	}
	if err = hostinstrumentation.Start(hostinstrumentation.WithMeterProvider(provider)); err != nil {
		return shutdown, fmt.Errorf("failed to start host metrics: %w", err)
	}
	otel.SetMeterProvider(provider)
	logger.V(1).Info("OpenTelemetry metric handlers created and started")
	return shutdown, nil
}

// Initializes a pipeline handler that will send OpenTelemetry spans to the target
// provided, returning a shutdown function.
func initTrace(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource, sampler sdktrace.Sampler) (shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target, "sampler", sampler.Description())
	logger.V(1).Info("Creating new OpenTelemetry trace exporter")
	if target == "" {
		logger.V(0).Info("OpenTelemetry endpoint is not set; no traces will be sent to collector")
		return noopShutdownFunction, nil
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithCompressor(compressor),
		otlptracegrpc.WithTLSCredentials(creds),
	))
	if err != nil {
		return noopShutdownFunction, fmt.Errorf("failed to create new trace exporter: %w", err)
	}
	// NOTE: provider.Shutdown will shutdown every registered span processor
	// and exporter.
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(provider)
	logger.V(1).Info("OpenTelemetry trace handlers created and started")
	return func(ctx context.Context) error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("error during OpenTelemetry trace provider shutdown: %w", err)
		}
		return nil
	}, nil
}

// Initializes OpenTelemetry metric and trace processing and deliver to a
// collector target, returning a function that can be called to shutdown the
// background pipeline processes.
func initTelemetry(ctx context.Context, name string) (func(context.Context), error) {
	otel.SetLogger(logger)
	target := viper.GetString(OpenTelemetryTargetFlagName)
	insecure := viper.GetBool(OpenTelemetryInsecureFlagName)
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(viper.GetFloat64(OpenTelemetrySamplingRatioFlagName)))
	logger := logger.V(1).WithValues("name", name, "target", target, "insecure", insecure, "sampler", sampler.Description())
	logger.Info("Initializing OpenTelemetry")
	res := newTelemetryResource(ctx, name)

	var creds credentials.TransportCredentials
	if insecure {
		creds = grpcinsecure.NewCredentials()
	} else {
		tlsConfig, err := newClientTLSConfig()
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	shutdownMetrics, err := initMetrics(ctx, target, creds, res)
	if err != nil {
		_ = shutdownMetrics(ctx)
		return nil, err
	}
	shutdownTraces, err := initTrace(ctx, target, creds, res, sampler)
	if err != nil {
		_ = shutdownMetrics(ctx)
		return nil, err
	}
	logger.Info("OpenTelemetry initialization complete, returning shutdown function")
	return func(ctx context.Context) {
		if err := shutdownTraces(ctx); err != nil {
			logger.Error(err, "Error raised while shutting down tracing; continuing")
		}
		if err := shutdownMetrics(ctx); err != nil {
			logger.Error(err, "Error raised while shutting down metrics; continuing")
		}
	}, nil
}
