package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"jiralink.dev/internal/obs"
)

const (
	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 15 * time.Second

	// DefaultTokenLifetime is assumed, in seconds, when a grant response
	// carries no usable expires_in. It matches the issuer's access-token lifetime.
	DefaultTokenLifetime int64 = 3600

	maxBodyBytes  = 4 << 20
	pageSize      = 50
	maxPages      = 40
	audience      = "api.atlassian.com"
	softwareType  = "software"
	avatarSizeKey = "48x48"
)

// Endpoints locates the provider.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	APIBaseURL  string
	RedirectURL string
}

// Client implements Provider over HTTP.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

var _ Provider = (*Client)(nil)

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second across all tenants.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a provider client.
func NewClient(endpoints Endpoints, opts ...ClientOption) *Client {
	endpoints.APIBaseURL = strings.TrimSuffix(endpoints.APIBaseURL, "/")
	c := &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		timeout:    DefaultTimeout,
		logger:     obs.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) oauthConfig(creds ClientCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  c.endpoints.RedirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.endpoints.AuthURL,
			TokenURL:  c.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the consent page URL for creds.
func (c *Client) AuthCodeURL(creds ClientCredentials, state string) string {
	return c.oauthConfig(creds).AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode performs the authorization_code grant.
func (c *Client) ExchangeCode(ctx context.Context, creds ClientCredentials, code string) (TokenSet, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return TokenSet{}, &UpstreamError{Op: OpExchangeCode, Body: err.Error()}
	}
	defer cancel()

	start := time.Now()
	tok, err := c.oauthConfig(creds).Exchange(c.oauthContext(ctx), code)
	return c.finishGrant(OpExchangeCode, start, tok, err)
}

// Refresh performs the refresh_token grant.
func (c *Client) Refresh(ctx context.Context, creds ClientCredentials, refreshToken string) (TokenSet, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return TokenSet{}, &UpstreamError{Op: OpRefresh, Body: err.Error()}
	}
	defer cancel()

	start := time.Now()
	// An empty access token forces the source to hit the token endpoint.
	src := c.oauthConfig(creds).TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	return c.finishGrant(OpRefresh, start, tok, err)
}

func (c *Client) finishGrant(op string, start time.Time, tok *oauth2.Token, err error) (TokenSet, error) {
	elapsed := time.Since(start)
	if err != nil {
		ue := &UpstreamError{Op: op, Body: err.Error()}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			ue.Body = string(re.Body)
			if re.Response != nil {
				ue.Status = re.Response.StatusCode
			}
		}
		obs.ObserveUpstream(op, ue.Status, elapsed)
		c.logger.Warn("jira grant failed", "op", op, "status", ue.Status)
		return TokenSet{}, ue
	}
	obs.ObserveUpstream(op, http.StatusOK, elapsed)
	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
	}, nil
}

func expiresIn(tok *oauth2.Token) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	if v := tok.Extra("expires_in"); v != nil {
		switch n := v.(type) {
		case float64:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	}
	if !tok.Expiry.IsZero() {
		if n := int64(time.Until(tok.Expiry).Round(time.Second) / time.Second); n > 0 {
			return n
		}
	}
	return DefaultTokenLifetime
}

// AccessibleResources lists the sites the access token can reach.
func (c *Client) AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error) {
	var out []Resource
	if err := c.getJSON(ctx, OpAccessibleResources, c.endpoints.APIBaseURL+"/oauth/token/accessible-resources", accessToken, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type projectPage struct {
	StartAt    int                 `json:"startAt"`
	MaxResults int                 `json:"maxResults"`
	Total      int                 `json:"total"`
	IsLast     bool                `json:"isLast"`
	Values     []remoteProjectJSON `json:"values"`
}

type remoteProjectJSON struct {
	ID             string            `json:"id"`
	Key            string            `json:"key"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Self           string            `json:"self"`
	ProjectTypeKey string            `json:"projectTypeKey"`
	AvatarURLs     map[string]string `json:"avatarUrls"`
	Lead           *projectLead      `json:"lead"`
}

type projectLead struct {
	AccountID string `json:"accountId"`
}

// SearchProjects returns every software project on the site, following pages.
func (c *Client) SearchProjects(ctx context.Context, accessToken, cloudID string) ([]RemoteProject, error) {
	base := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/project/search", c.endpoints.APIBaseURL, url.PathEscape(cloudID))
	var out []RemoteProject
	startAt := 0
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("type", softwareType)
		q.Set("expand", "description,lead")
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(pageSize))

		var p projectPage
		if err := c.getJSON(ctx, OpSearchProjects, base+"?"+q.Encode(), accessToken, &p); err != nil {
			return nil, err
		}
		for _, v := range p.Values {
			rp := RemoteProject{
				ID:             v.ID,
				Key:            v.Key,
				Name:           v.Name,
				Description:    v.Description,
				ProjectTypeKey: v.ProjectTypeKey,
				Self:           v.Self,
				AvatarURL:      v.AvatarURLs[avatarSizeKey],
			}
			if v.Lead != nil {
				rp.LeadAccountID = v.Lead.AccountID
			}
			out = append(out, rp)
		}
		if p.IsLast || len(p.Values) == 0 {
			return out, nil
		}
		startAt += len(p.Values)
		if p.Total > 0 && startAt >= p.Total {
			return out, nil
		}
	}
	c.logger.Warn("jira project search truncated", "cloud_id", cloudID, "pages", maxPages)
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, op, target, accessToken string, dst any) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return &UpstreamError{Op: op, Body: err.Error()}
	}
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("jira %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		obs.ObserveUpstream(op, 0, time.Since(start))
		return &UpstreamError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	obs.ObserveUpstream(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("jira request failed", "op", op, "status", resp.StatusCode)
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: "decode response: " + err.Error()}
	}
	return nil
}

// begin waits on the shared limiter and applies the per-call deadline.
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
