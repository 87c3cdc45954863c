// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package tcp

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Configuration describes the configuration of a TCP listener input.
type Configuration struct {
	// Listen is the address to listen to.
	Listen string `validate:"required,listen"`
	// ReadTimeout bounds each wait for a connection or for data.
	// It is the polling period of the ingestion loop when idle.
	ReadTimeout time.Duration `validate:"min=10ms"`
	// CAFile is the certificate authority used to authenticate the
	// metering process. Empty disables TLS.
	CAFile string
	// CertFile is the server certificate. Required with CAFile.
	CertFile string
	// KeyFile is the server key. Required with CAFile.
	KeyFile string
}

// DefaultConfiguration describes the default configuration of a TCP
// listener input.
func DefaultConfiguration() Configuration {
	return Configuration{
		Listen:      ":4739",
		ReadTimeout: time.Second,
	}
}

// tlsConfig builds the TLS server configuration, or nil when TLS is
// disabled.
func (configuration Configuration) tlsConfig() (*tls.Config, error) {
	if configuration.CAFile == "" {
		return nil, nil
	}
	if configuration.CertFile == "" || configuration.KeyFile == "" {
		return nil, fmt.Errorf("TLS requires both a certificate and a key")
	}
	cert, err := tls.LoadX509KeyPair(configuration.CertFile, configuration.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load server certificate: %w", err)
	}
	caPEM, err := os.ReadFile(configuration.CAFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificate found in %q", configuration.CAFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}
