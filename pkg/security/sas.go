package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// DefaultTokenTTL is the lifetime of signatures computed on demand.
const DefaultTokenTTL = 20 * time.Minute

// SharedAccessSignatureTokenProvider either signs tokens with a shared key or
// hands out a pre-computed signature unchanged.
type SharedAccessSignatureTokenProvider struct {
	keyName   string
	key       string
	signature string
	ttl       time.Duration
	clock     func() time.Time
}

// SASOption configures a SharedAccessSignatureTokenProvider.
type SASOption func(*SharedAccessSignatureTokenProvider)

// WithClock replaces time.Now as the source of signature expiry.
func WithClock(clock func() time.Time) SASOption {
	return func(p *SharedAccessSignatureTokenProvider) {
		p.clock = clock
	}
}

// WithTokenTTL sets the lifetime of computed signatures.
func WithTokenTTL(ttl time.Duration) SASOption {
	return func(p *SharedAccessSignatureTokenProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// NewSharedAccessSignatureTokenProvider creates a provider that signs with keyName/key.
func NewSharedAccessSignatureTokenProvider(keyName, key string, opts ...SASOption) *SharedAccessSignatureTokenProvider {
	p := &SharedAccessSignatureTokenProvider{
		keyName: keyName,
		key:     key,
		ttl:     DefaultTokenTTL,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewSharedAccessSignatureTokenProviderFromSignature creates a passthrough provider.
func NewSharedAccessSignatureTokenProviderFromSignature(signature string, opts ...SASOption) *SharedAccessSignatureTokenProvider {
	p := NewSharedAccessSignatureTokenProvider("", "", opts...)
	p.signature = signature
	return p
}

// KeyName returns the shared access key name, empty in signature mode.
func (p *SharedAccessSignatureTokenProvider) KeyName() string { return p.keyName }

// SharedAccessKey returns the shared key, empty in signature mode.
func (p *SharedAccessSignatureTokenProvider) SharedAccessKey() string { return p.key }

// SharedAccessSignature returns the pre-computed signature, empty in key mode.
func (p *SharedAccessSignatureTokenProvider) SharedAccessSignature() string { return p.signature }

// GetToken implements TokenProvider.
func (p *SharedAccessSignatureTokenProvider) GetToken(_ context.Context, audience string) (*Token, error) {
	if p.signature != "" {
		return &Token{Type: TokenTypeSAS, Value: p.signature, Expiry: signatureExpiry(p.signature)}, nil
	}
	if p.keyName == "" || p.key == "" {
		return nil, errors.NewValidationError("shared access key name and key are required")
	}
	now := p.clock()
	return &Token{
		Type:   TokenTypeSAS,
		Value:  GetSharedAccessSignature(p.keyName, p.key, audience, p.ttl, now),
		Expiry: time.Unix(expiryEpoch(now, p.ttl), 0).UTC(),
	}, nil
}

// GetSharedAccessSignature computes
// `SharedAccessSignature sr=<resource>&sig=<signature>&se=<expiry>&skn=<keyName>`
// where signature = base64(HMAC-SHA256(key, urlencode(resource) + "\n" + expiry)).
// The result depends only on its arguments.
func GetSharedAccessSignature(keyName, key, resource string, ttl time.Duration, now time.Time) string {
	expiry := strconv.FormatInt(expiryEpoch(now, ttl), 10)
	encodedResource := url.QueryEscape(resource)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(encodedResource + "\n" + expiry))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		encodedResource,
		url.QueryEscape(sig),
		url.QueryEscape(expiry),
		url.QueryEscape(keyName))
}

// GetPublisherSharedAccessSignature signs the publisher-scoped resource
// http://<host>/<entityPath>/Publishers/<publisher>.
func GetPublisherSharedAccessSignature(endpoint *url.URL, entityPath, publisher, keyName, key string, ttl time.Duration, now time.Time) string {
	resource := fmt.Sprintf("http://%s/%s/Publishers/%s", endpoint.Host, entityPath, publisher)
	return GetSharedAccessSignature(keyName, key, resource, ttl, now)
}

func expiryEpoch(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).Unix()
}

// signatureExpiry reads the se= field of a signature; zero when absent.
func signatureExpiry(signature string) time.Time {
	body := strings.TrimPrefix(signature, "SharedAccessSignature ")
	values, err := url.ParseQuery(body)
	if err != nil {
		return time.Time{}
	}
	se, err := strconv.ParseInt(values.Get("se"), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(se, 0).UTC()
}
