// Package backend fetches join capabilities from the platform's CRUD backend.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/rs/zerolog"
)

// maxBody caps how much of an error body ends up in logs.
const maxBody = 512

// TokenSource returns the bearer credential for one request. The auth layer
// behind it may refresh tokens between calls.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

type Client struct {
	base   string
	tokens TokenSource
	http   *http.Client
	log    zerolog.Logger
}

func NewClient(cfg config.Backend, tokens TokenSource, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if tokens == nil {
		tokens = StaticToken(cfg.Token)
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		tokens: tokens,
		http:   &http.Client{Timeout: timeout},
		log:    log.With().Str("module", "backend").Logger(),
	}
}

// request maps a session to the backend verb and path that issues its token.
func (c *Client) request(ctx context.Context, s domain.Session) (*http.Request, error) {
	id := url.PathEscape(s.ID)
	switch s.Kind {
	case domain.SessionAppointment:
		return http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/video/"+id+"/join-token", nil)
	case domain.SessionRoom:
		return http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/video-rooms/"+id+"/join", http.NoBody)
	}
	return nil, domain.ErrUnknownKind
}

func (c *Client) FetchCapability(ctx context.Context, s domain.Session) (domain.Capability, error) {
	if err := s.Validate(); err != nil {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: err}
	}
	req, err := c.request(ctx, s)
	if err != nil {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: err}
	}
	token, err := c.tokens(ctx)
	if err != nil {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: fmt.Errorf("credentials: %w", err)}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		c.log.Warn().Str("session", s.String()).Int("status", resp.StatusCode).
			Str("body", string(body)).Msg("capability refused")
		return domain.Capability{}, &core.CapabilityFetchError{
			Session: s,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status),
		}
	}

	var capability domain.Capability
	if err := json.NewDecoder(resp.Body).Decode(&capability); err != nil {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: fmt.Errorf("decode capability: %w", err)}
	}
	if capability.Token == "" && needsToken(s, capability) {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: fmt.Errorf("capability without token")}
	}
	c.log.Info().Str("session", s.String()).Str("provider", string(capability.Provider)).
		Dur("took", time.Since(start)).Msg("capability fetched")
	return capability, nil
}

// needsToken reports whether the token is the only credential the session
// can present: the managed service admits by token, and the relay admits
// room members by it. Native appointments authenticate by membership.
func needsToken(s domain.Session, c domain.Capability) bool {
	return c.Provider == domain.ProviderManaged || s.Kind == domain.SessionRoom
}
