// Package certs generates the self-signed ECDSA P-256 certificate a beam
// host presents on its QUIC endpoint, and builds the pinned TLS configs both
// peers use. There is no CA: the viewer authenticates the host by SHA-256
// certificate fingerprint, exchanged out of band alongside the address.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"time"
)

// defaultValidity covers a streaming session generously; hosts generate a
// fresh certificate per run, so long-lived certs buy nothing.
const defaultValidity = 7 * 24 * time.Hour

// CertInfo holds a host certificate and its SHA-256 fingerprint. The
// fingerprint is what the viewer pins.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the fingerprint in the form the host prints for
// the viewer to pass along with the dial address.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a fresh self-signed host certificate valid for the given
// duration; zero or negative selects the default.
func Generate(validity time.Duration) (*CertInfo, error) {
	if validity <= 0 {
		validity = defaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute) // slight backdate for clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "beam-host"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(certDER),
		NotAfter:    template.NotAfter,
	}, nil
}

// ServerTLS builds the host-side TLS config.
func ServerTLS(cert *CertInfo) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLS builds the viewer-side TLS config pinned to the host's
// certificate fingerprint (base64 SHA-256). An empty pin trusts the first
// certificate seen; callers should warn loudly when they take that path.
func ClientTLS(expectedFingerprint string) (*tls.Config, error) {
	var pin []byte
	if expectedFingerprint != "" {
		var err error
		pin, err = base64.StdEncoding.DecodeString(expectedFingerprint)
		if err != nil {
			return nil, fmt.Errorf("decode fingerprint pin: %w", err)
		}
		if len(pin) != sha256.Size {
			return nil, fmt.Errorf("fingerprint pin is %d bytes, want %d", len(pin), sha256.Size)
		}
	}

	return &tls.Config{
		// Self-signed certs can never chain to a root; verification is the
		// fingerprint comparison below instead.
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("host presented no certificate")
			}
			if pin == nil {
				return nil
			}
			got := sha256.Sum256(rawCerts[0])
			if subtle.ConstantTimeCompare(got[:], pin) != 1 {
				return fmt.Errorf("host certificate fingerprint mismatch")
			}
			return nil
		},
	}, nil
}
