package proxy

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/hangarlabs/hangar/pkg/acme"
	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/storage"
)

const challengePrefix = "/.well-known/acme-challenge/"

// Bouncer is the plaintext port 80 handler. It answers ACME HTTP-01
// challenges from the shared challenge map, redirects known hosts to
// https, and rejects everything else.
type Bouncer struct {
	challenges *acme.ChallengeMap
	domains    storage.CustomDomainStore
	proxyFQDN  string
}

// NewBouncer creates the bouncer for the given wildcard domain.
func NewBouncer(challenges *acme.ChallengeMap, domains storage.CustomDomainStore, proxyFQDN string) *Bouncer {
	return &Bouncer{challenges: challenges, domains: domains, proxyFQDN: proxyFQDN}
}

func (b *Bouncer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, challengePrefix) {
		token := strings.TrimPrefix(r.URL.Path, challengePrefix)
		keyAuth, ok := b.challenges.KeyAuth(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(keyAuth))
		return
	}

	host := stripPort(r.Host)
	if !b.knownHost(r.Context(), host) {
		log.WithComponent("bouncer").Debug().Str("host", host).Msg("Rejected unknown host")
		http.NotFound(w, r)
		return
	}

	target := "https://" + host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (b *Bouncer) knownHost(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}
	if host == b.proxyFQDN || strings.HasSuffix(host, "."+b.proxyFQDN) {
		return true
	}
	_, err := b.domains.FindCustomDomain(ctx, host)
	return err == nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
