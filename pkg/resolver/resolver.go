package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/storage"
)

// CertResolver serves TLS certificates by SNI. Per-fqdn overrides win
// over the default wildcard certificate; updates are atomic swaps safe
// to run while handshakes are in progress.
type CertResolver struct {
	mu          sync.RWMutex
	byFQDN      map[string]*tls.Certificate
	defaultCert *tls.Certificate
}

// NewCertResolver creates an empty resolver.
func NewCertResolver() *CertResolver {
	return &CertResolver{byFQDN: make(map[string]*tls.Certificate)}
}

// ServePEM installs or replaces the certificate served for one fqdn.
func (r *CertResolver) ServePEM(fqdn string, chainPEM, keyPEM []byte) error {
	cert, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("failed to load certificate for %s: %w", fqdn, err)
	}

	r.mu.Lock()
	r.byFQDN[strings.ToLower(fqdn)] = &cert
	r.mu.Unlock()

	log.WithComponent("resolver").Info().Str("fqdn", fqdn).Msg("Serving certificate")
	return nil
}

// ServeDefault installs or replaces the wildcard default certificate.
func (r *CertResolver) ServeDefault(chainPEM, keyPEM []byte) error {
	cert, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("failed to load default certificate: %w", err)
	}

	r.mu.Lock()
	r.defaultCert = &cert
	r.mu.Unlock()

	log.WithComponent("resolver").Info().Msg("Serving default certificate")
	return nil
}

// Forget drops the per-fqdn binding, falling back to the default.
func (r *CertResolver) Forget(fqdn string) {
	r.mu.Lock()
	delete(r.byFQDN, strings.ToLower(fqdn))
	r.mu.Unlock()
}

// GetCertificate is the tls.Config callback dispatching on SNI.
func (r *CertResolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(strings.TrimSuffix(hello.ServerName, "."))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if cert, ok := r.byFQDN[name]; ok {
		return cert, nil
	}
	if r.defaultCert != nil {
		return r.defaultCert, nil
	}
	return nil, fmt.Errorf("no certificate for %q", hello.ServerName)
}

// TLSConfig returns a server config dispatching through the resolver.
func (r *CertResolver) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// Warm loads every stored custom domain certificate into the resolver.
// Unparseable rows are logged and skipped so one bad domain cannot keep
// the proxy from starting.
func (r *CertResolver) Warm(ctx context.Context, store storage.CustomDomainStore) error {
	domains, err := store.AllCustomDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list custom domains: %w", err)
	}

	loaded := 0
	for _, d := range domains {
		if d.Certificate == "" || d.PrivateKey == "" {
			continue
		}
		if err := r.ServePEM(d.FQDN, []byte(d.Certificate), []byte(d.PrivateKey)); err != nil {
			log.WithComponent("resolver").Warn().Err(err).
				Str("fqdn", d.FQDN).
				Msg("Skipping unparseable stored certificate")
			continue
		}
		loaded++
	}

	log.WithComponent("resolver").Info().Int("certificates", loaded).Msg("Certificate resolver warmed")
	return nil
}
