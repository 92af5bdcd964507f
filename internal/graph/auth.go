package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenURLFormat is the Entra ID v2.0 token endpoint for a tenant.
const tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// defaultScope requests whatever application permissions the app
// registration has been granted on the Graph resource.
const defaultScope = "https://graph.microsoft.com/.default"

// tokenRefreshSlack is how early a cached token is considered expired.
// Refreshing a minute before expiry keeps long page traversals from racing
// the token lifetime mid-request.
const tokenRefreshSlack = 60 * time.Second

// Credentials identifies the app registration used for the
// client-credentials (daemon) flow.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// NewTokenSource returns a TokenSource backed by the OAuth2
// client-credentials flow. Tokens are cached in memory and refreshed on
// demand once they are within tokenRefreshSlack of expiry. The source is
// safe for concurrent use; ctx must outlive it.
func NewTokenSource(ctx context.Context, creds Credentials, logger *slog.Logger) TokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLFormat, creds.TenantID),
		Scopes:       []string{defaultScope},
	}

	src := oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), tokenRefreshSlack)

	return &tokenBridge{src: src, logger: logger}
}

// tokenBridge adapts an oauth2.TokenSource to the client's TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("graph: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}

// StaticTokenSource returns a TokenSource that always yields tok.
// Used by tests and by callers that manage tokens externally.
func StaticTokenSource(tok string) TokenSource {
	return staticToken(tok)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	return string(s), nil
}
