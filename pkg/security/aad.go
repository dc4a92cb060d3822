package security

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// ServiceBusScope is the Azure AD scope for Service Bus and Event Hubs.
const ServiceBusScope = "https://servicebus.azure.net/.default"

// AzureADTokenProvider obtains JWTs from an Azure AD credential.
type AzureADTokenProvider struct {
	credential azcore.TokenCredential
	scope      string
}

// NewAzureADTokenProvider wraps an existing credential.
func NewAzureADTokenProvider(credential azcore.TokenCredential) *AzureADTokenProvider {
	return &AzureADTokenProvider{credential: credential, scope: ServiceBusScope}
}

// NewDefaultAzureADTokenProvider uses azidentity's default credential chain
// (environment, workload identity, managed identity, Azure CLI).
func NewDefaultAzureADTokenProvider() (*AzureADTokenProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return NewAzureADTokenProvider(cred), nil
}

// GetToken implements TokenProvider. The audience is carried in the CBS
// request itself; Azure AD tokens are scoped to the namespace.
func (p *AzureADTokenProvider) GetToken(ctx context.Context, _ string) (*Token, error) {
	accessToken, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{p.scope}})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Azure AD token: %w", err)
	}
	return &Token{Type: TokenTypeJWT, Value: accessToken.Token, Expiry: accessToken.ExpiresOn}, nil
}
