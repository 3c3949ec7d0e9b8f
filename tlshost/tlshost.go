// Package tlshost resolves a TLS certificate by SNI across the virtual
// hosts sharing one listening port, the way multiple domains share a single
// Caddy listener keyed by ClientHelloInfo.ServerName.
package tlshost

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch is returned when no certificate satisfies a ClientHello and no
// fallback certificate was registered either.
var ErrNoMatch = errors.New("tlshost: no certificate for server name")

// Resolver keys certificates by lowercased domain name and answers
// tls.Config.GetCertificate callbacks, supporting "*.example.com"
// wildcard entries the same way a plain hostname lookup does, with labels
// replaced one at a time until a match or the registry is exhausted.
type Resolver struct {
	certs map[string]*tls.Certificate
}

// NewResolver builds an empty Resolver; use Add to register each virtual
// host's certificate.
func NewResolver() *Resolver {
	return &Resolver{certs: make(map[string]*tls.Certificate)}
}

// Add loads a PEM certificate/key pair from disk and registers it under
// domain (lowercased).
func (r *Resolver) Add(domain, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("tlshost: loading cert for %s: %w", domain, err)
	}
	r.certs[strings.ToLower(domain)] = &cert
	return nil
}

// GetCertificate implements tls.Config.GetCertificate. It first tries an
// exact, lowercased ServerName match, then tries progressively more general
// wildcard candidates (replacing leading labels with "*"), then falls back
// to any single registered certificate if exactly one was registered.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(hello.ServerName)

	if cert, ok := r.certs[name]; ok {
		return cert, nil
	}

	labels := strings.Split(name, ".")
	for i := range labels {
		labels[i] = "*"
		candidate := strings.Join(labels, ".")
		if cert, ok := r.certs[candidate]; ok {
			return cert, nil
		}
	}

	if len(r.certs) == 1 {
		for _, cert := range r.certs {
			return cert, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoMatch, hello.ServerName)
}

// Len reports how many certificates are registered.
func (r *Resolver) Len() int { return len(r.certs) }
