package smtpd

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
	"time"
)

// selfSignedCertValidity is deliberately short: this certificate exists
// so STARTTLS/implicit-TLS has something to present when the embedder
// hasn't supplied a real one, not to be a long-lived credential.
const selfSignedCertValidity = 24 * time.Hour

// GenerateSelfSignedCert builds an ECDSA P-256 self-signed certificate
// for hostname, valid for selfSignedCertValidity. It exists so TLSConfig
// can be populated for local testing without an operator-supplied
// certificate; production deployments should set TLSCertFile/TLSKeyFile
// via NewTLSConfig instead.
func GenerateSelfSignedCert(hostname string) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("smtpd: generating private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"gosmtpd"},
			CommonName:   hostname,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(selfSignedCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("smtpd: creating certificate: %w", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("smtpd: marshalling private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("smtpd: building key pair: %w", err)
	}
	return cert, nil
}

// NewTLSConfig builds a *tls.Config whose GetCertificate loads certFile/
// keyFile when both are set, falling back to a freshly generated
// self-signed certificate for the requested SNI name (or hostname, if
// the client sent none) otherwise.
func NewTLSConfig(certFile, keyFile, hostname string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = hostname
			}
			if certFile != "" && keyFile != "" {
				if cert, err := tls.LoadX509KeyPair(certFile, keyFile); err == nil {
					return &cert, nil
				}
			}
			cert, err := GenerateSelfSignedCert(name)
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	}
}
