// Package connstr parses and renders Service Bus / Event Hubs connection strings.
package connstr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/security"
)

const (
	keyEndpoint              = "Endpoint"
	keySharedAccessKeyName   = "SharedAccessKeyName"
	keySharedAccessKey       = "SharedAccessKey"
	keySharedAccessSignature = "SharedAccessSignature"
	keyEntityPath            = "EntityPath"
	keyPublisher             = "Publisher"
	keyTransportType         = "TransportType"

	// TransportAmqp is the only transport this client speaks.
	TransportAmqp = "Amqp"
)

var pairPattern = regexp.MustCompile(`([^=;]+)=([^;]+)`)

// ConnectionStringBuilder holds the fields of a connection string.
type ConnectionStringBuilder struct {
	Endpoint              *url.URL
	SharedAccessKeyName   string
	SharedAccessKey       string
	SharedAccessSignature string
	EntityPath            string
	Publisher             string
	TransportType         string
}

// Parse reads a `Key=Value;Key=Value` connection string. Keys match case-insensitively.
func Parse(connectionString string) (*ConnectionStringBuilder, error) {
	params := make(map[string]string)
	for _, match := range pairPattern.FindAllStringSubmatch(connectionString, -1) {
		params[strings.ToLower(strings.TrimSpace(match[1]))] = strings.TrimSpace(match[2])
	}

	rawEndpoint, ok := params[strings.ToLower(keyEndpoint)]
	if !ok {
		return nil, errors.NewValidationError("connection string is missing Endpoint")
	}
	endpoint, err := url.Parse(rawEndpoint)
	if err != nil || endpoint.Host == "" {
		return nil, errors.NewAppErrorWithErr(errors.ErrorCodeValidation,
			fmt.Sprintf("connection string has an invalid Endpoint %q", rawEndpoint), err)
	}

	return &ConnectionStringBuilder{
		Endpoint:              endpoint,
		SharedAccessKeyName:   params[strings.ToLower(keySharedAccessKeyName)],
		SharedAccessKey:       params[strings.ToLower(keySharedAccessKey)],
		SharedAccessSignature: params[strings.ToLower(keySharedAccessSignature)],
		EntityPath:            params[strings.ToLower(keyEntityPath)],
		Publisher:             params[strings.ToLower(keyPublisher)],
		TransportType:         TransportAmqp,
	}, nil
}

// String renders the connection string. TransportType is always emitted last.
func (b *ConnectionStringBuilder) String() string {
	parts := make([]string, 0, 7)
	if b.Endpoint != nil {
		parts = append(parts, keyEndpoint+"="+b.Endpoint.String())
	}
	appendIfSet := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}
	appendIfSet(keySharedAccessKeyName, b.SharedAccessKeyName)
	appendIfSet(keySharedAccessKey, b.SharedAccessKey)
	appendIfSet(keySharedAccessSignature, b.SharedAccessSignature)
	appendIfSet(keyEntityPath, b.EntityPath)
	appendIfSet(keyPublisher, b.Publisher)

	transport := b.TransportType
	if transport == "" {
		transport = TransportAmqp
	}
	parts = append(parts, keyTransportType+"="+transport)
	return strings.Join(parts, ";")
}

// TokenProvider returns the SAS provider described by the connection string.
// A pre-computed signature wins over a key name/key pair.
func (b *ConnectionStringBuilder) TokenProvider(opts ...security.SASOption) *security.SharedAccessSignatureTokenProvider {
	if b.SharedAccessSignature != "" {
		return security.NewSharedAccessSignatureTokenProviderFromSignature(b.SharedAccessSignature, opts...)
	}
	return security.NewSharedAccessSignatureTokenProvider(b.SharedAccessKeyName, b.SharedAccessKey, opts...)
}

// CreateUsingSharedAccessSignature builds a connection string authenticated by a
// pre-computed signature, typically a publisher-scoped Event Hub token.
func CreateUsingSharedAccessSignature(endpoint *url.URL, entityPath, publisher, sharedAccessSignature string) string {
	b := &ConnectionStringBuilder{
		Endpoint:              endpoint,
		EntityPath:            entityPath,
		Publisher:             publisher,
		SharedAccessSignature: sharedAccessSignature,
	}
	return b.String()
}
