// Package secure loads client TLS material for the sensor's outbound mTLS
// connections to NATS and ClickHouse.
package secure

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"
)

// TLSConfig describes the certificate/key/CA triple for one outbound
// connection.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// LoadClientTLSConfig builds a *tls.Config for mutual TLS from the given
// file paths. CAFile is optional; when empty the system root pool is used.
func LoadClientTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("secure: load client keypair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("secure: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("secure: no certificates parsed from %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if warnIfExpiringSoon(cert, 30*24*time.Hour) {
		log.Printf("secure: certificate %s expires within 30 days", cfg.CertFile)
	}

	return tlsCfg, nil
}

func warnIfExpiringSoon(cert tls.Certificate, within time.Duration) bool {
	if len(cert.Certificate) == 0 {
		return false
	}
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return false
		}
		leaf = parsed
	}
	return time.Until(leaf.NotAfter) < within
}
