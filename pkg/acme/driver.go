package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

// DefaultDirectoryURL is the production Let's Encrypt directory.
const DefaultDirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"

// AccountCreds is the persisted shape of an ACME account: email, the
// account private key, and the registration returned by the directory.
type AccountCreds struct {
	Email        string                 `json:"email"`
	KeyPEM       string                 `json:"key_pem"`
	DirectoryURL string                 `json:"directory_url"`
	Registration *registration.Resource `json:"registration"`
}

// legoUser adapts stored credentials to the lego user interface.
type legoUser struct {
	creds *AccountCreds
	key   crypto.PrivateKey
}

func (u *legoUser) GetEmail() string                        { return u.creds.Email }
func (u *legoUser) GetRegistration() *registration.Resource { return u.creds.Registration }
func (u *legoUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// Certificate is issued PEM material ready to persist and serve.
type Certificate struct {
	ChainPEM []byte
	KeyPEM   []byte
}

// Renewal is the outcome of a renewal decision.
type Renewal struct {
	Renewed       bool
	DaysRemaining int
	Certificate   *Certificate
}

// Driver issues and renews certificates through an ACME directory using
// the HTTP-01 challenge served by the bouncer proxy.
type Driver struct {
	accounts   storage.AcmeAccountStore
	challenges *ChallengeMap
}

// NewDriver creates an ACME driver sharing the given challenge map with
// the bouncer.
func NewDriver(accounts storage.AcmeAccountStore, challenges *ChallengeMap) *Driver {
	return &Driver{accounts: accounts, challenges: challenges}
}

// CreateAccount registers a new ACME account and persists its
// credentials keyed by email. The returned JSON blob is what Issue and
// RenewIfNeeded expect back.
func (d *Driver) CreateAccount(ctx context.Context, email, directoryURL string) (string, error) {
	if directoryURL == "" {
		directoryURL = DefaultDirectoryURL
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate account key: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal account key: %w", err)
	}

	creds := &AccountCreds{
		Email:        email,
		KeyPEM:       string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})),
		DirectoryURL: directoryURL,
	}

	client, err := d.newClient(creds, key)
	if err != nil {
		return "", err
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return "", fmt.Errorf("failed to register account %s: %w", email, err)
	}
	creds.Registration = reg

	blob, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to serialize account credentials: %w", err)
	}
	if err := d.accounts.SaveAcmeAccount(ctx, email, string(blob)); err != nil {
		return "", fmt.Errorf("failed to persist account credentials: %w", err)
	}

	log.WithComponent("acme").Info().
		Str("email", email).
		Str("directory", directoryURL).
		Msg("ACME account registered")
	return string(blob), nil
}

// Issue obtains a certificate for the fqdn using the given account
// credentials. The HTTP-01 token is published on the shared challenge
// map for the duration of the order.
func (d *Driver) Issue(ctx context.Context, fqdn, credentials string) (*Certificate, error) {
	creds, key, err := parseCreds(credentials)
	if err != nil {
		return nil, err
	}

	client, err := d.newClient(creds, key)
	if err != nil {
		return nil, err
	}
	if err := client.Challenge.SetHTTP01Provider(d.challenges); err != nil {
		return nil, fmt.Errorf("failed to set challenge provider: %w", err)
	}

	log.WithComponent("acme").Info().Str("fqdn", fqdn).Msg("Requesting certificate")

	obtained, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{fqdn},
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain certificate for %s: %w", fqdn, err)
	}

	notAfter, err := certNotAfter(obtained.Certificate)
	if err != nil {
		return nil, err
	}

	metrics.CertificatesIssued.Inc()
	log.WithComponent("acme").Info().
		Str("fqdn", fqdn).
		Time("not_after", notAfter).
		Msg("Certificate obtained")

	return &Certificate{ChainPEM: obtained.Certificate, KeyPEM: obtained.PrivateKey}, nil
}

// RenewIfNeeded re-issues the domain's certificate when it is inside
// the renewal window, and reports days remaining otherwise. A chain
// with no parseable expiry always renews.
func (d *Driver) RenewIfNeeded(ctx context.Context, domain *types.CustomDomain) (*Renewal, error) {
	renew, days := NeedsRenewal([]byte(domain.Certificate), time.Now())
	if !renew {
		metrics.CertificateRenewals.WithLabelValues("skipped").Inc()
		log.WithComponent("acme").Info().
			Str("fqdn", domain.FQDN).
			Int("days_remaining", days).
			Msg("Certificate renewal skipped")
		return &Renewal{Renewed: false, DaysRemaining: days}, nil
	}

	cert, err := d.Issue(ctx, domain.FQDN, domain.AccountCreds)
	if err != nil {
		metrics.CertificateRenewals.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.CertificateRenewals.WithLabelValues("renewed").Inc()
	return &Renewal{Renewed: true, Certificate: cert}, nil
}

// FindAccount loads previously persisted credentials for an email.
func (d *Driver) FindAccount(ctx context.Context, email string) (string, error) {
	return d.accounts.FindAcmeAccount(ctx, email)
}

// NeedsRenewal reports whether the PEM chain expires within the renewal
// threshold, along with whole days remaining. Unparseable chains renew.
func NeedsRenewal(chainPEM []byte, now time.Time) (bool, int) {
	notAfter, err := certNotAfter(chainPEM)
	if err != nil {
		return true, 0
	}
	remaining := notAfter.Sub(now)
	if remaining <= types.RenewalThreshold {
		return true, 0
	}
	return false, int(remaining.Hours() / 24)
}

func (d *Driver) newClient(creds *AccountCreds, key *ecdsa.PrivateKey) (*lego.Client, error) {
	cfg := lego.NewConfig(&legoUser{creds: creds, key: key})
	cfg.CADirURL = creds.DirectoryURL
	cfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create acme client: %w", err)
	}
	return client, nil
}

func parseCreds(credentials string) (*AccountCreds, *ecdsa.PrivateKey, error) {
	var creds AccountCreds
	if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
		return nil, nil, fmt.Errorf("failed to parse account credentials: %w", err)
	}
	block, _ := pem.Decode([]byte(creds.KeyPEM))
	if block == nil {
		return nil, nil, fmt.Errorf("account credentials carry no private key")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse account key: %w", err)
	}
	return &creds, key, nil
}

// certNotAfter extracts the leaf expiry from a PEM chain.
func certNotAfter(chainPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert.NotAfter, nil
}
