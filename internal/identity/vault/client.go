// Package vault talks to the external Identity Vault: the OAuth authorize and
// token endpoints for browser flows, and the identity APIs for lookups.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"submit/internal/identity"
	"submit/internal/platform/config"
)

const (
	// OAuthScope is the only scope this service requests.
	OAuthScope = "basic_info"

	maxBodyBytes = 1 << 20
)

// Client is an Identity Vault client with fixed connect/read timeouts.
type Client struct {
	cfg     config.VaultConfig
	http    *http.Client
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records call latency.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the timeout-bound default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a Client. A zero BaseURL yields a client whose calls fail with
// KindNotConfigured.
func New(cfg config.VaultConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   newHTTPClient(cfg),
		tracer: otel.Tracer("submit/internal/identity/vault"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(cfg config.VaultConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &http.Client{
		Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   10,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Configured reports whether server-to-server identity lookups are possible.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.ProgramKey != ""
}

// OAuthConfigured reports whether the browser OAuth flow can run.
func (c *Client) OAuthConfigured() bool {
	return c.cfg.BaseURL != "" && c.cfg.ClientID != ""
}

func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{OAuthScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.BaseURL + "/oauth/authorize",
			TokenURL:  c.cfg.BaseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizeURL builds the browser-facing authorize URL carrying state.
func (c *Client) AuthorizeURL(redirectURI, state string) string {
	return c.oauthConfig(redirectURI).AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (tok *oauth2.Token, err error) {
	const op = "token"
	ctx, span := c.tracer.Start(ctx, "vault.ExchangeCode")
	start := time.Now()
	defer func() { c.finish(span, op, err, start) }()

	if !c.OAuthConfigured() {
		return nil, &Error{Op: op, Kind: KindNotConfigured}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err = c.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &Error{Op: op, Kind: KindStatus, StatusCode: re.Response.StatusCode, Err: err}
		}
		return nil, &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	return tok, nil
}

// Me fetches the identity behind an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (id identity.Identity, err error) {
	const op = "me"
	ctx, span := c.tracer.Start(ctx, "vault.Me")
	start := time.Now()
	defer func() { c.finish(span, op, err, start) }()

	if c.cfg.BaseURL == "" {
		return nil, &Error{Op: op, Kind: KindNotConfigured}
	}
	return c.getIdentity(ctx, op, c.cfg.BaseURL+"/api/v1/me", accessToken)
}

// FetchIdentity looks up an identity record with the program key.
func (c *Client) FetchIdentity(ctx context.Context, idvRec string) (id identity.Identity, err error) {
	const op = "identity"
	ctx, span := c.tracer.Start(ctx, "vault.FetchIdentity")
	start := time.Now()
	defer func() { c.finish(span, op, err, start) }()

	if !c.Configured() {
		return nil, &Error{Op: op, Kind: KindNotConfigured}
	}
	return c.getIdentity(ctx, op, c.cfg.BaseURL+"/api/v1/identities/"+url.PathEscape(idvRec), c.cfg.ProgramKey)
}

func (c *Client) getIdentity(ctx context.Context, op, endpoint, bearer string) (identity.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Op: op, Kind: KindNotFound, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Op: op, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	var body struct {
		Identity map[string]any `json:"identity"`
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, &Error{Op: op, Kind: KindMalformed, StatusCode: resp.StatusCode, Err: err}
	}
	if body.Identity == nil {
		return nil, &Error{Op: op, Kind: KindNoIdentity, StatusCode: resp.StatusCode}
	}
	return identity.Identity(body.Identity), nil
}

func (c *Client) finish(span trace.Span, op string, err error, start time.Time) {
	span.SetAttributes(attribute.String("vault.op", op))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("vault %s failed", op))
	}
	span.End()
	c.metrics.observe(op, err, start)
}
