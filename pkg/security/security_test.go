package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	stderrors "errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-sblite/pkg/errors"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGetSharedAccessSignature_Format(t *testing.T) {
	token := GetSharedAccessSignature("RootManageSharedAccessKey", "secret", "amqp://ns/q1", time.Hour, fixedNow)

	expiry := "1709298000" // fixedNow + 1h
	resource := url.QueryEscape("amqp://ns/q1")
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(resource + "\n" + expiry))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	expected := "SharedAccessSignature sr=" + resource +
		"&sig=" + url.QueryEscape(sig) +
		"&se=" + expiry +
		"&skn=RootManageSharedAccessKey"
	assert.Equal(t, expected, token)
}

func TestGetSharedAccessSignature_Deterministic(t *testing.T) {
	a := GetSharedAccessSignature("k", "v", "amqp://ns/q1", DefaultTokenTTL, fixedNow)
	b := GetSharedAccessSignature("k", "v", "amqp://ns/q1", DefaultTokenTTL, fixedNow)
	c := GetSharedAccessSignature("k", "v", "amqp://ns/q2", DefaultTokenTTL, fixedNow)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSASProvider_KeyMode(t *testing.T) {
	p := NewSharedAccessSignatureTokenProvider("k", "v", WithClock(func() time.Time { return fixedNow }))

	tok, err := p.GetToken(context.Background(), "amqp://ns/q1")
	require.NoError(t, err)
	assert.Equal(t, TokenTypeSAS, tok.Type)
	assert.Equal(t, GetSharedAccessSignature("k", "v", "amqp://ns/q1", DefaultTokenTTL, fixedNow), tok.Value)
	assert.Equal(t, fixedNow.Add(DefaultTokenTTL), tok.Expiry)
	assert.Equal(t, "k", p.KeyName())
	assert.Equal(t, "v", p.SharedAccessKey())
	assert.Empty(t, p.SharedAccessSignature())
}

func TestSASProvider_CustomTTL(t *testing.T) {
	p := NewSharedAccessSignatureTokenProvider("k", "v",
		WithClock(func() time.Time { return fixedNow }),
		WithTokenTTL(5*time.Minute))

	tok, err := p.GetToken(context.Background(), "amqp://ns/q1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(5*time.Minute), tok.Expiry)
	assert.True(t, strings.Contains(tok.Value, "se=1709294700"))
}

func TestSASProvider_SignatureMode(t *testing.T) {
	sig := "SharedAccessSignature sr=amqp%3A%2F%2Fns%2Fhub&sig=abc%3D&se=1709298000&skn=send"
	p := NewSharedAccessSignatureTokenProviderFromSignature(sig)

	tok, err := p.GetToken(context.Background(), "amqp://ns/other")
	require.NoError(t, err)
	assert.Equal(t, sig, tok.Value)
	assert.Equal(t, TokenTypeSAS, tok.Type)
	assert.Equal(t, time.Unix(1709298000, 0).UTC(), tok.Expiry)
	assert.Equal(t, sig, p.SharedAccessSignature())
}

func TestSASProvider_MissingKey(t *testing.T) {
	p := NewSharedAccessSignatureTokenProvider("k", "")

	_, err := p.GetToken(context.Background(), "amqp://ns/q1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorCodeValidation))
}

func TestGetPublisherSharedAccessSignature(t *testing.T) {
	endpoint, _ := url.Parse("sb://ns.servicebus.windows.net/")
	got := GetPublisherSharedAccessSignature(endpoint, "hub", "device-1", "send", "key", time.Hour, fixedNow)
	want := GetSharedAccessSignature("send", "key", "http://ns.servicebus.windows.net/hub/Publishers/device-1", time.Hour, fixedNow)
	assert.Equal(t, want, got)
}

func signedJWT(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestJWTTokenProvider(t *testing.T) {
	exp := fixedNow.Add(time.Hour)
	raw := signedJWT(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp), Subject: "app"})

	p, err := NewJWTTokenProvider(raw)
	require.NoError(t, err)

	tok, err := p.GetToken(context.Background(), "amqp://ns/q1")
	require.NoError(t, err)
	assert.Equal(t, TokenTypeJWT, tok.Type)
	assert.Equal(t, raw, tok.Value)
	assert.Equal(t, exp, tok.Expiry)
}

func TestParseTokenExpiry_Errors(t *testing.T) {
	_, err := ParseTokenExpiry("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = ParseTokenExpiry(strings.Repeat("a", MaxTokenSize+1))
	assert.ErrorIs(t, err, ErrTokenTooLarge)

	noExp := signedJWT(t, jwt.RegisteredClaims{Subject: "app"})
	_, err = ParseTokenExpiry(noExp)
	assert.ErrorIs(t, err, ErrMissingExpiry)

	_, err = NewJWTTokenProvider("garbage")
	assert.True(t, errors.HasCode(err, errors.ErrorCodeValidation))
}

type fakeCredential struct {
	scopes []string
	token  azcore.AccessToken
	err    error
}

func (f *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.scopes = opts.Scopes
	return f.token, f.err
}

func TestAzureADTokenProvider(t *testing.T) {
	cred := &fakeCredential{token: azcore.AccessToken{Token: "aad-token", ExpiresOn: fixedNow}}
	p := NewAzureADTokenProvider(cred)

	tok, err := p.GetToken(context.Background(), "amqp://ns/q1")
	require.NoError(t, err)
	assert.Equal(t, []string{ServiceBusScope}, cred.scopes)
	assert.Equal(t, TokenTypeJWT, tok.Type)
	assert.Equal(t, "aad-token", tok.Value)
	assert.Equal(t, fixedNow, tok.Expiry)

	cred.err = stderrors.New("no identity")
	_, err = p.GetToken(context.Background(), "amqp://ns/q1")
	assert.ErrorContains(t, err, "no identity")
}
