package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
)

// Build turns TLS settings into a client tls.Config. Scope prefixes error
// messages with the config path of the settings, e.g. "server.redis".
func Build(settings *config.TLS, scope string) (*tls.Config, error) {
	if settings == nil {
		return nil, nil
	}

	result := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: settings.InsecureSkipVerify,
	}

	pool, err := loadCertPool(settings.CACertFile, scope)
	if err != nil {
		return nil, err
	}
	result.RootCAs = pool

	certificate, err := loadClientPair(settings.ClientCertFile, settings.ClientKeyFile, scope)
	if err != nil {
		return nil, err
	}
	if certificate != nil {
		result.Certificates = []tls.Certificate{*certificate}
	}

	return result, nil
}

func loadCertPool(path string, scope string) (*x509.CertPool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.NewValidationError(fmt.Sprintf("%s.tls.ca-cert-file could not be read", scope), err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, faults.NewValidationError(fmt.Sprintf("%s.tls.ca-cert-file is not valid PEM", scope), nil)
	}
	return pool, nil
}

func loadClientPair(certFile string, keyFile string, scope string) (*tls.Certificate, error) {
	certFile = strings.TrimSpace(certFile)
	keyFile = strings.TrimSpace(keyFile)
	switch {
	case certFile == "" && keyFile == "":
		return nil, nil
	case certFile == "" || keyFile == "":
		return nil, faults.NewValidationError(
			fmt.Sprintf("%s.tls requires both client-cert-file and client-key-file", scope),
			nil,
		)
	}

	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, faults.NewValidationError(fmt.Sprintf("%s.tls client certificate pair is invalid", scope), err)
	}
	return &certificate, nil
}
