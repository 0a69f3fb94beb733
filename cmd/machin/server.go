package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memes/machin/pkg/cache"
	"github.com/memes/machin/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	ServerServiceName         = "server"
	AddressFlagName           = "address"
	GRPCAddressFlagName       = "grpc-address"
	RedisTargetFlagName       = "redis-target"
	RedisPrefixFlagName       = "redis-prefix"
	RedisExpirationFlagName   = "redis-expiration"
	LabelFlagName             = "label"
	TagFlagName               = "tag"
	MaxDigitsFlagName         = "max-digits"
	RequireClientCertFlagName = "require-client-cert"
	DefaultRESTListenAddress  = ":8080"
	DefaultGRPCListenAddress  = ":9090"
	DefaultRedisPrefix        = "machin:"
	readHeaderTimeout         = 10 * time.Second
	shutdownTimeout           = 60 * time.Second
)

// Implements the server sub-command.
func NewServerCmd() *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   ServerServiceName,
		Short: "Run REST and gRPC services to return the decimal digits of pi",
		Long: `Launches REST and gRPC services that will calculate pi to the number of decimal digits requested.

An optional Redis DB can be used to cache the calculated expansions. TLS is used when a certificate and key are provided, otherwise the REST service accepts HTTP/1.1 and cleartext HTTP/2. The gRPC service registers health and reflection services and is disabled when its address is empty. Metrics and traces will be sent to an OpenTelemetry collection endpoint, if specified.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd,
				AddressFlagName,
				GRPCAddressFlagName,
				RequireClientCertFlagName,
				RedisTargetFlagName,
				RedisPrefixFlagName,
				RedisExpirationFlagName,
				LabelFlagName,
				TagFlagName,
				MaxDigitsFlagName,
			)
		},
		RunE: serverMain,
	}
	serverCmd.PersistentFlags().StringP(AddressFlagName, "a", DefaultRESTListenAddress, "Address to listen for REST requests")
	serverCmd.PersistentFlags().String(GRPCAddressFlagName, DefaultGRPCListenAddress, "Address to listen for gRPC PiService requests; empty disables gRPC")
	serverCmd.PersistentFlags().Bool(RequireClientCertFlagName, false, "Reject TLS clients that do not present a certificate signed by a --"+CACertFlagName+" authority")
	serverCmd.PersistentFlags().String(RedisTargetFlagName, "", "An optional Redis endpoint to use as a cache")
	serverCmd.PersistentFlags().String(RedisPrefixFlagName, DefaultRedisPrefix, "The prefix to add to Redis keys")
	serverCmd.PersistentFlags().Duration(RedisExpirationFlagName, 0, "An optional expiration for cached values")
	serverCmd.PersistentFlags().StringToStringP(LabelFlagName, "l", nil, "An optional label key=value to add to response metadata; can be repeated")
	serverCmd.PersistentFlags().StringArrayP(TagFlagName, "t", nil, "An optional tag to add to response metadata; can be repeated")
	serverCmd.PersistentFlags().Int(MaxDigitsFlagName, server.DefaultMaxDigits, "The maximum number of digits a request may ask for")
	return serverCmd
}

// Server sub-command entrypoint. This function will launch the REST service,
// and the gRPC service if an address is set, then wait for a termination
// signal.
//
//nolint:funlen // Listener supervision makes this function appear longer than expected.
func serverMain(cmd *cobra.Command, _ []string) error {
	address := viper.GetString(AddressFlagName)
	grpcAddress := viper.GetString(GRPCAddressFlagName)
	redisTarget := viper.GetString(RedisTargetFlagName)
	labels := viper.GetStringMapString(LabelFlagName)
	tags := viper.GetStringSlice(TagFlagName)
	logger := logger.WithValues(AddressFlagName, address, GRPCAddressFlagName, grpcAddress, RedisTargetFlagName, redisTarget, LabelFlagName, labels, TagFlagName, tags)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.V(0).Info("Preparing telemetry")
	telemetryShutdown, err := initTelemetry(ctx, ServerServiceName)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		telemetryShutdown(ctx)
	}()

	logger.V(0).Info("Preparing service")
	options := []server.MachinServerOption{
		server.WithLogger(logger),
		server.WithAnnotations(labels),
		server.WithTags(tags),
		server.WithMaxDigits(viper.GetInt(MaxDigitsFlagName)),
	}
	if redisTarget != "" {
		options = append(options, server.WithCache(cache.NewRedisCache(ctx, redisTarget,
			cache.WithKeyPrefix(viper.GetString(RedisPrefixFlagName)),
			cache.WithExpiration(viper.GetDuration(RedisExpirationFlagName)),
		)))
	}
	tlsConfig, err := newServerTLSConfig()
	if err != nil {
		return err
	}
	useTLS := tlsConfig != nil
	if useTLS {
		options = append(options, server.WithGRPCServerTransportCredentials(credentials.NewTLS(tlsConfig)))
	}
	machinServer, err := server.NewMachinServer(options...)
	if err != nil {
		return fmt.Errorf("failed to create new server: %w", err)
	}
	handler, err := machinServer.NewRestHandler()
	if err != nil {
		return fmt.Errorf("failed to create new REST handler: %w", err)
	}
	restServer := &http.Server{
		Addr:              address,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	if useTLS {
		restServer.TLSConfig = tlsConfig
		restServer.Handler = handler
	} else {
		restServer.Handler = h2c.NewHandler(handler, &http2.Server{})
	}

	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if grpcAddress != "" {
		grpcListener, err = net.Listen("tcp", grpcAddress)
		if err != nil {
			return fmt.Errorf("failed to start gRPC listener: %w", err)
		}
		grpcServer = machinServer.NewGrpcServer()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.V(0).Info("Starting REST service", "tls", useTLS)
		var err error
		if useTLS {
			err = restServer.ListenAndServeTLS("", "")
		} else {
			err = restServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("REST listener returned an error: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			logger.V(0).Info("Starting gRPC service", "tls", useTLS)
			if err := grpcServer.Serve(grpcListener); err != nil {
				return fmt.Errorf("gRPC server returned an error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if grpcServer != nil {
			logger.V(0).Info("Shutting down gRPC service")
			grpcServer.GracefulStop()
		}
		logger.V(0).Info("Shutting down REST service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := restServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown REST service cleanly: %w", err)
		}
		return nil
	})
	return g.Wait() //nolint:wrapcheck // Errors are wrapped by the group functions
}
