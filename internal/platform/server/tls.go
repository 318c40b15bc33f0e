package server

import (
	"crypto/tls"
	"fmt"
)

// newTLSConfig 載入 HTTPS 憑證
func newTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("cert_path and key_path are required when use_https is enabled")
	}

	serverCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12, // 最低 TLS 1.2
	}, nil
}
