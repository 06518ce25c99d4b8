package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
)

const (
	serverCertFile = "server.crt"
	serverKeyFile  = "server.key"
)

// GenerateServerCertPair creates a self-signed ECDSA P-256 TLS server
// certificate valid for hosts, which may be DNS names or IP addresses.
func GenerateServerCertPair(hosts []string) (certPEM, keyPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: "shellbridge",
		},
		NotBefore:             now,
		NotAfter:              now.Add(2 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	certPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}

	keyPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyDER,
	})

	return string(certPEMBytes), string(keyPEMBytes), nil
}

// LoadOrGenerateServerCert returns the API server certificate stored in dir,
// generating and persisting one on first use. The key file is stored
// encrypted when a secret key is configured.
func LoadOrGenerateServerCert(dir string) (*tls.Certificate, error) {
	certPath := filepath.Join(dir, serverCertFile)
	keyPath := filepath.Join(dir, serverKeyFile)

	if certPEM, err := os.ReadFile(certPath); err == nil {
		if stored, err := os.ReadFile(keyPath); err == nil {
			keyPEM, err := Decrypt(string(stored))
			if err == nil {
				parsed, err := tls.X509KeyPair(certPEM, []byte(keyPEM))
				if err == nil {
					return &parsed, nil
				}
			}
		}
	}

	certPEM, keyPEM, err := GenerateServerCertPair([]string{"localhost", "127.0.0.1", "::1"})
	if err != nil {
		return nil, fmt.Errorf("generate server cert: %w", err)
	}

	stored := keyPEM
	if config.Cfg.SecretKey != "" {
		if stored, err = Encrypt(keyPEM); err != nil {
			return nil, fmt.Errorf("encrypt server key: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.WriteFile(certPath, []byte(certPEM), 0o644); err != nil {
		return nil, fmt.Errorf("save server cert: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(stored), 0o600); err != nil {
		return nil, fmt.Errorf("save server key: %w", err)
	}

	parsed, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse server cert: %w", err)
	}
	return &parsed, nil
}
