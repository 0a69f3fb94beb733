package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	machin "github.com/memes/machin"
	"github.com/memes/machin/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
)

const (
	ClientServiceName  = "client"
	MaxTimeoutFlagName = "max-timeout"
	InsecureFlagName   = "insecure"
	GRPCFlagName       = "grpc"
	PlaintextFlagName  = "plaintext"
	DefaultMaxTimeout  = 10 * time.Second
)

// The services returned different expansions for the same request.
var errInconsistentResults = errors.New("services returned different results")

// Implements the client sub-command which requests the expansion of pi from
// one or more services and confirms they agree.
func NewClientCmd() *cobra.Command {
	clientCmd := &cobra.Command{
		Use:   ClientServiceName + " target [target]",
		Short: "Request the decimal digits of pi from one or more services",
		Long: `Launches a client that will request pi from every target concurrently.

Targets are REST endpoint URLs, or gRPC host:port addresses when --grpc is set. The result is written once all targets respond with the same digits. At least one target endpoint must be provided. Metrics and traces will be sent to an OpenTelemetry collection endpoint, if specified.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd, DigitsFlagName, GuardFlagName, LayoutFlagName, MaxTimeoutFlagName, InsecureFlagName, GRPCFlagName, PlaintextFlagName)
		},
		RunE: clientMain,
	}
	clientCmd.PersistentFlags().IntP(DigitsFlagName, "d", DefaultDigitCount, "The number of decimal digits of pi to request")
	clientCmd.PersistentFlags().Bool(GuardFlagName, false, "Request the guard digits of the calculation")
	clientCmd.PersistentFlags().Bool(LayoutFlagName, false, "Write the digits in blocks of ten, fifty to a line")
	clientCmd.PersistentFlags().DurationP(MaxTimeoutFlagName, "m", DefaultMaxTimeout, "The maximum timeout for a request")
	clientCmd.PersistentFlags().Bool(InsecureFlagName, false, "Disable TLS verification of the targets")
	clientCmd.PersistentFlags().Bool(GRPCFlagName, false, "Treat targets as gRPC PiService addresses")
	clientCmd.PersistentFlags().Bool(PlaintextFlagName, false, "Connect to gRPC targets without TLS")
	return clientCmd
}

// Builds an HTTP transport that presents the configured client certificate
// and verifies targets against the configured CA certificates.
func newClientTransport() (*http.Transport, error) {
	tlsConfig, err := newClientTLSConfig()
	if err != nil {
		return nil, err
	}
	tlsConfig.InsecureSkipVerify = viper.GetBool(InsecureFlagName) //nolint:gosec // Explicitly requested by flag
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
	}
	transport = transport.Clone()
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

// Returns a fetch function that dials the gRPC target, makes a single GetPi
// request and closes the connection.
func newGRPCFetcher(machinClient *client.MachinClient, tlsConfig *tls.Config) func(context.Context, string, int, bool) (*client.Response, error) {
	creds := grpcinsecure.NewCredentials()
	if !viper.GetBool(PlaintextFlagName) {
		creds = credentials.NewTLS(tlsConfig)
	}
	options := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, machinClient.DialOptions()...)
	return func(ctx context.Context, target string, digits int, guard bool) (*client.Response, error) {
		conn, err := grpc.DialContext(ctx, target, options...)
		if err != nil {
			return nil, fmt.Errorf("failed to dial gRPC target %s: %w", target, err)
		}
		defer conn.Close()
		return machinClient.FetchPiGRPC(ctx, conn, digits, guard) //nolint:wrapcheck // Client errors are already wrapped
	}
}

// Client sub-command entrypoint. Every endpoint is queried concurrently and the
// result is written only if all of them agree.
func clientMain(cmd *cobra.Command, endpoints []string) error {
	digits := viper.GetInt(DigitsFlagName)
	guard := viper.GetBool(GuardFlagName)
	logger := logger.WithValues(DigitsFlagName, digits, GuardFlagName, guard, "endpoints", endpoints)
	ctx := cmd.Context()
	logger.V(0).Info("Preparing telemetry")
	telemetryShutdown, err := initTelemetry(ctx, ClientServiceName)
	if err != nil {
		return err
	}
	defer telemetryShutdown(ctx)
	transport, err := newClientTransport()
	if err != nil {
		return err
	}
	logger.V(0).Info("Building client")
	machinClient, err := client.NewMachinClient(
		client.WithLogger(logger),
		client.WithMaxTimeout(viper.GetDuration(MaxTimeoutFlagName)),
		client.WithTransport(transport),
		client.WithPrefix(ClientServiceName),
	)
	if err != nil {
		return fmt.Errorf("failed to create new client: %w", err)
	}
	fetch := machinClient.FetchPi
	if viper.GetBool(GRPCFlagName) {
		fetch = newGRPCFetcher(machinClient, transport.TLSClientConfig)
	}
	results := make([]string, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			response, err := fetch(gctx, endpoint, digits, guard)
			if err != nil {
				return fmt.Errorf("error fetching from %s: %w", endpoint, err)
			}
			results[i] = response.Pi
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck // Errors are wrapped by the group functions
	}
	for i, result := range results[1:] {
		if result != results[0] {
			return fmt.Errorf("%s and %s: %w", endpoints[0], endpoints[i+1], errInconsistentResults)
		}
	}
	if viper.GetBool(LayoutFlagName) {
		if err := machin.Layout(cmd.OutOrStdout(), results[0]); err != nil {
			return fmt.Errorf("failure writing result: %w", err)
		}
		return nil
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), results[0]); err != nil {
		return fmt.Errorf("failure writing result: %w", err)
	}
	return nil
}
