package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

var (
	// A CA file did not contain any usable PEM certificates.
	errFailedToAppendCACert = errors.New("failed to append CA cert to CA pool")
	// Client certificates cannot be required without a CA to verify them.
	errClientCAsRequired = errors.New("a CA certificate is required to verify client certificates")
)

// Returns a pool containing the system certificates and every PEM certificate
// found in the listed files, or nil if no files are listed.
func newCACertPool(cacerts []string) (*x509.CertPool, error) {
	if len(cacerts) == 0 {
		return nil, nil
	}
	logger.V(1).Info("Building certificate pool", CACertFlagName, cacerts)
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system certificate pool: %w", err)
	}
	for _, cacert := range cacerts {
		pem, err := os.ReadFile(cacert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate %s: %w", cacert, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to process CA cert %s: %w", cacert, errFailedToAppendCACert)
		}
	}
	return pool, nil
}

// Chooses how the services treat client certificates. Without a CA pool no
// certificate is requested; with one, a certificate is verified when offered
// and must be offered when required is set.
func clientAuthType(clientCAs *x509.CertPool, required bool) (tls.ClientAuthType, error) {
	switch {
	case clientCAs == nil && required:
		return tls.NoClientCert, errClientCAsRequired
	case clientCAs == nil:
		return tls.NoClientCert, nil
	case required:
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.VerifyClientCertIfGiven, nil
	}
}

// Adds the certificate and key pair to the configuration when both are named.
func withKeyPair(config *tls.Config, certFile, keyFile string) error {
	if certFile == "" || keyFile == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate %s and key %s: %w", certFile, keyFile, err)
	}
	config.Certificates = []tls.Certificate{cert}
	return nil
}

// Builds the TLS configuration shared by the REST and gRPC listeners. A nil
// configuration is returned when no certificate and key are set, and the
// services fall back to cleartext.
func newServerTLSConfig() (*tls.Config, error) {
	certFile := viper.GetString(TLSCertFlagName)
	keyFile := viper.GetString(TLSKeyFlagName)
	required := viper.GetBool(RequireClientCertFlagName)
	if certFile == "" || keyFile == "" {
		if required {
			return nil, fmt.Errorf("--%s needs a server certificate and key: %w", RequireClientCertFlagName, errClientCAsRequired)
		}
		return nil, nil
	}
	clientCAs, err := newCACertPool(viper.GetStringSlice(CACertFlagName))
	if err != nil {
		return nil, err
	}
	clientAuth, err := clientAuthType(clientCAs, required)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientCAs:  clientCAs,
		ClientAuth: clientAuth,
	}
	if err := withKeyPair(config, certFile, keyFile); err != nil {
		return nil, err
	}
	logger.V(1).Info("Prepared server TLS configuration", TLSCertFlagName, certFile, "clientAuth", clientAuth.String())
	return config, nil
}

// Builds the TLS configuration for outbound connections to pi services and the
// OpenTelemetry collector. Remote certificates are verified against the
// configured CA files, or the system pool when none are given, and the
// configured key pair is presented for mutual TLS.
func newClientTLSConfig() (*tls.Config, error) {
	rootCAs, err := newCACertPool(viper.GetStringSlice(CACertFlagName))
	if err != nil {
		return nil, err
	}
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs,
	}
	if err := withKeyPair(config, viper.GetString(TLSCertFlagName), viper.GetString(TLSKeyFlagName)); err != nil {
		return nil, err
	}
	return config, nil
}
