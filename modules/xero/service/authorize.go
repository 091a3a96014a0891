package service

import (
	"context"
	"net/url"
	"strings"

	"compliance-api/core/logger"
	"compliance-api/modules/xero/dto"
)

// AuthorizationURLBuilder composes the consent URL for a configured company.
type AuthorizationURLBuilder struct {
	credentials  *CredentialService
	states       *StateRegistry
	authorizeURL string
	scopes       string
}

func NewAuthorizationURLBuilder(credentials *CredentialService, states *StateRegistry, authorizeURL, scopes string) *AuthorizationURLBuilder {
	return &AuthorizationURLBuilder{
		credentials:  credentials,
		states:       states,
		authorizeURL: authorizeURL,
		scopes:       scopes,
	}
}

// Build issues a new state and returns the authorize URL. Parameter order is fixed and the
// callback URL is the stored value, unmodified apart from escaping.
func (b *AuthorizationURLBuilder) Build(ctx context.Context, companyID int64) (*dto.AuthorizationURLResponse, error) {
	creds, err := b.credentials.Load(ctx, companyID)
	if err != nil {
		return nil, err
	}

	state, err := b.states.Issue(ctx, companyID)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(b.authorizeURL)
	if strings.Contains(b.authorizeURL, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	sb.WriteString("response_type=code")
	sb.WriteString("&client_id=" + escape(creds.ClientID))
	sb.WriteString("&redirect_uri=" + escape(creds.CallbackURL))
	sb.WriteString("&scope=" + escape(b.scopes))
	sb.WriteString("&state=" + escape(state))

	logger.Info("AuthorizationURLBuilder:Build:Issued", "company_id", companyID)
	return &dto.AuthorizationURLResponse{URL: sb.String(), State: state}, nil
}

// escape percent-encodes a query value, using %20 for spaces.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
