package util

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

	"github.com/rs/zerolog/log"
)

const (
	gatewayCertName = "gateway.crt"
	gatewayKeyName  = "gateway.key"
	// certRenewBefore regenerates a stored certificate this long before it expires.
	certRenewBefore = 7 * 24 * time.Hour
)

// EnsureGatewayCert returns the gateway's self-signed key pair under
// dir/tls, generating it when missing, unreadable or about to expire.
// hosts become the certificate's subject alternative names.
func EnsureGatewayCert(dir string, hosts []string) (certFile, keyFile string, err error) {
	tlsDir := filepath.Join(dir, "tls")
	certFile = filepath.Join(tlsDir, gatewayCertName)
	keyFile = filepath.Join(tlsDir, gatewayKeyName)

	if FileExists(certFile) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("cert", certFile).Msg("stored gateway certificate unreadable, regenerating")
		case cert.Leaf != nil && time.Until(cert.Leaf.NotAfter) > certRenewBefore:
			return certFile, keyFile, nil
		}
	}

	if err := EnsureDir(tlsDir); err != nil {
		return "", "", err
	}
	if err := GenerateSelfSignedCert(certFile, keyFile, hosts...); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}

// GenerateSelfSignedCert writes a one-year P-256 certificate and its key.
// Hosts that parse as IPs become IP SANs, the rest DNS SANs; localhost is
// always included.
func GenerateSelfSignedCert(certFile, keyFile string, hosts ...string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"rconnect"},
			CommonName:   "rconnect-gateway",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if h == "" || h == "localhost" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			if !ip.IsUnspecified() {
				template.IPAddresses = append(template.IPAddresses, ip)
			}
			continue
		}
		template.DNSNames = append(template.DNSNames, h)
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0644); err != nil {
		return fmt.Errorf("failed to write cert file: %w", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	log.Info().
		Str("cert", certFile).
		Strs("hosts", template.DNSNames).
		Time("expires", template.NotAfter).
		Msg("self-signed gateway certificate generated")
	return nil
}
