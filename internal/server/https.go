package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/config"
)

// EnsureHTTPSCertificates checks if the HTTPS certificate and key files exist.
// If neither does, it generates a self-signed pair at the configured paths.
// Having only one of the two is an error.
func EnsureHTTPSCertificates(cfg *config.Config) (certFile string, keyFile string, err error) {
	certExists, err := fileExists(cfg.HTTPSCertFile)
	if err != nil {
		return "", "", err
	}
	keyExists, err := fileExists(cfg.HTTPSKeyFile)
	if err != nil {
		return "", "", err
	}

	switch {
	case !certExists && !keyExists:
		if err := generateSelfSignedCert(cfg.HTTPSCertFile, cfg.HTTPSKeyFile, cfg.CommonName); err != nil {
			return "", "", fmt.Errorf("server: failed to generate self-signed certificate: %w", err)
		}
		logger().Info("generated self-signed HTTPS certificate", zap.String("cert_file", cfg.HTTPSCertFile), zap.String("key_file", cfg.HTTPSKeyFile))
	case !certExists:
		return "", "", fmt.Errorf("server: key file exists but cert file does not")
	case !keyExists:
		return "", "", fmt.Errorf("server: cert file exists but key file does not")
	default:
		logger().Info("found existing HTTPS certificate and key", zap.String("cert_file", cfg.HTTPSCertFile), zap.String("key_file", cfg.HTTPSKeyFile))
	}
	return cfg.HTTPSCertFile, cfg.HTTPSKeyFile, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("server: stat %s: %w", path, err)
	}
}

// generateSelfSignedCert writes a P-256 certificate and PKCS#8 key valid for
// a year. It covers commonName, localhost and the loopback addresses.
func generateSelfSignedCert(certFile, keyFile, commonName string) error {
	certPEM, keyPEM, err := selfSignedPair(commonName, time.Now())
	if err != nil {
		return err
	}
	for _, dir := range []string{filepath.Dir(certFile), filepath.Dir(keyFile)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("server: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("server: write key: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("server: write certificate: %w", err)
	}
	return nil
}

func selfSignedPair(commonName string, now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("server: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("server: generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"Credit Portal"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, host := range []string{commonName, "localhost"} {
		if ip := net.ParseIP(host); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else if host != "" && !slices.Contains(tmpl.DNSNames, host) {
			tmpl.DNSNames = append(tmpl.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("server: sign certificate: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("server: encode key: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return certPEM, keyPEM, nil
}
