package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"compliance-api/core/logger"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime applies when the token endpoint omits expires_in.
const DefaultTokenLifetime = 30 * time.Minute

// ClientCredentials are the per-company OAuth client values.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (c *Client) oauthConfig(creds ClientCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (c *Client) tokenContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TokenTimeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cancel
}

// ExchangeCode trades an authorization code for tokens. redirect_uri is sent exactly as stored.
func (c *Client) ExchangeCode(ctx context.Context, creds ClientCredentials, code string) (*Token, error) {
	ctx, cancel := c.tokenContext(ctx)
	defer cancel()

	start := time.Now()
	tok, err := c.oauthConfig(creds).Exchange(ctx, code)
	if err != nil {
		return nil, c.tokenError(err, start)
	}
	c.observe(endpointToken, strconv.Itoa(http.StatusOK), start)
	return toToken(tok, time.Now()), nil
}

// Refresh trades a refresh token for a new token set. An omitted refresh_token in the
// response keeps the one sent.
func (c *Client) Refresh(ctx context.Context, creds ClientCredentials, refreshToken string) (*Token, error) {
	ctx, cancel := c.tokenContext(ctx)
	defer cancel()

	start := time.Now()
	tok, err := c.oauthConfig(creds).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, c.tokenError(err, start)
	}
	c.observe(endpointToken, strconv.Itoa(http.StatusOK), start)
	return toToken(tok, time.Now()), nil
}

func (c *Client) tokenError(err error, start time.Time) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		c.observe(endpointToken, "error", start)
		logger.Warn("XeroClient:Token:Transport", "timeout", IsTimeout(err), "error", err)
		return err
	}

	remote := &RemoteError{
		Endpoint:    endpointToken,
		ErrorCode:   re.ErrorCode,
		Description: re.ErrorDescription,
		Body:        truncate(re.Body),
	}
	if re.Response != nil {
		remote.StatusCode = re.Response.StatusCode
	}
	// Some identity servers answer with a JSON body but a non-JSON content type.
	if remote.ErrorCode == "" {
		remote.ErrorCode = gjson.GetBytes(re.Body, "error").String()
		remote.Description = gjson.GetBytes(re.Body, "error_description").String()
	}

	c.observe(endpointToken, strconv.Itoa(remote.StatusCode), start)
	logger.Warn("XeroClient:Token:Rejected", "status", remote.StatusCode, "error_code", remote.ErrorCode)
	return remote
}

func toToken(tok *oauth2.Token, now time.Time) *Token {
	expiresAt := now.Add(DefaultTokenLifetime)
	switch {
	case tok.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	case !tok.Expiry.IsZero():
		expiresAt = tok.Expiry
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}
