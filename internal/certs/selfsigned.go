// Package certs provides the TLS material for QUIC streams: short-lived
// self-signed ECDSA P-256 certificates for the test server and
// fingerprint pinning for the client, which has no CA to verify against.
package certs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

const maxValidity = 14 * 24 * time.Hour

// ALPN is the application protocol negotiated on chunk streams.
const ALPN = "rfbview-chunks"

var (
	ErrBadFingerprint   = errors.New("certs: fingerprint must be 32 bytes of hex or base64")
	ErrFingerprintMatch = errors.New("certs: peer certificate does not match pinned fingerprint")
)

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// FingerprintHex returns the SHA-256 fingerprint as colon-separated hex.
func (c *CertInfo) FingerprintHex() string {
	return FormatHex(c.Fingerprint)
}

// ServerConfig returns a TLS config serving the certificate over ALPN.
func (c *CertInfo) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// Generate creates a self-signed ECDSA P-256 certificate for localhost and
// any extra hosts, valid for the given duration (at most 14 days).
func Generate(validity time.Duration, hosts ...string) (*CertInfo, error) {
	if validity > maxValidity || validity <= 0 {
		validity = maxValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute) // clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "rfbview"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
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

// ParseFingerprint accepts a SHA-256 fingerprint as hex (optionally
// colon-separated) or standard base64.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	s = strings.TrimSpace(s)

	clean := strings.ReplaceAll(s, ":", "")
	if b, err := hex.DecodeString(clean); err == nil && len(b) == len(fp) {
		copy(fp[:], b)
		return fp, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == len(fp) {
		copy(fp[:], b)
		return fp, nil
	}
	return fp, fmt.Errorf("%w: %q", ErrBadFingerprint, s)
}

// FormatHex renders a fingerprint as upper-case colon-separated hex.
func FormatHex(fp [32]byte) string {
	parts := make([]string, len(fp))
	for i, b := range fp {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// PinnedClientConfig returns a client TLS config that accepts exactly the
// leaf certificate with the given fingerprint, whatever its issuer.
func PinnedClientConfig(fp [32]byte) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, // replaced by the pin check below
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrFingerprintMatch
			}
			got := sha256.Sum256(rawCerts[0])
			if !bytes.Equal(got[:], fp[:]) {
				return fmt.Errorf("%w: got %s", ErrFingerprintMatch, FormatHex(got))
			}
			return nil
		},
	}
}
