package connstr

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-sblite/pkg/errors"
)

func TestParse_KeyBased(t *testing.T) {
	b, err := Parse("Endpoint=amqp://ns;SharedAccessKeyName=k;SharedAccessKey=v;EntityPath=q1")
	require.NoError(t, err)

	assert.Equal(t, "ns", b.Endpoint.Host)
	assert.Equal(t, "amqp", b.Endpoint.Scheme)
	assert.Equal(t, "k", b.SharedAccessKeyName)
	assert.Equal(t, "v", b.SharedAccessKey)
	assert.Equal(t, "q1", b.EntityPath)
	assert.Empty(t, b.SharedAccessSignature)
	assert.Equal(t, TransportAmqp, b.TransportType)
}

func TestParse_CaseInsensitiveKeysAndSignature(t *testing.T) {
	b, err := Parse("endpoint=sb://hub.servicebus.windows.net/;sharedaccesssignature=SharedAccessSignature sr=x&sig=y&se=1&skn=k;publisher=dev1;entitypath=hub")
	require.NoError(t, err)

	assert.Equal(t, "hub.servicebus.windows.net", b.Endpoint.Host)
	assert.Equal(t, "SharedAccessSignature sr=x&sig=y&se=1&skn=k", b.SharedAccessSignature)
	assert.Equal(t, "dev1", b.Publisher)
	assert.Equal(t, "hub", b.EntityPath)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("SharedAccessKeyName=k;SharedAccessKey=v")
	assert.True(t, errors.HasCode(err, errors.ErrorCodeValidation))

	_, err = Parse("Endpoint=not a url")
	assert.True(t, errors.HasCode(err, errors.ErrorCodeValidation))
}

func TestString_RoundTrip(t *testing.T) {
	original := "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=abc=;EntityPath=orders;TransportType=Amqp"
	b, err := Parse(original)
	require.NoError(t, err)
	assert.Equal(t, original, b.String())
}

func TestCreateUsingSharedAccessSignature(t *testing.T) {
	endpoint, _ := url.Parse("sb://ns.servicebus.windows.net/")
	s := CreateUsingSharedAccessSignature(endpoint, "hub", "device-7", "SharedAccessSignature sr=a&sig=b&se=1&skn=send")

	assert.Equal(t,
		"Endpoint=sb://ns.servicebus.windows.net/;SharedAccessSignature=SharedAccessSignature sr=a&sig=b&se=1&skn=send;EntityPath=hub;Publisher=device-7;TransportType=Amqp",
		s)

	b, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, "device-7", b.Publisher)
}

func TestTokenProvider_SignatureWins(t *testing.T) {
	b, err := Parse("Endpoint=sb://ns/;SharedAccessKeyName=k;SharedAccessKey=v;SharedAccessSignature=SharedAccessSignature sr=a&sig=b&se=1&skn=k")
	require.NoError(t, err)

	p := b.TokenProvider()
	assert.Equal(t, "SharedAccessSignature sr=a&sig=b&se=1&skn=k", p.SharedAccessSignature())

	b.SharedAccessSignature = ""
	p = b.TokenProvider()
	assert.Empty(t, p.SharedAccessSignature())
	assert.Equal(t, "k", p.KeyName())
	assert.Equal(t, "v", p.SharedAccessKey())
}
