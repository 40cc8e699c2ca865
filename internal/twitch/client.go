// Package twitch implements the stream probe against the Twitch Helix API.
//
// Requests are authenticated with an app access token obtained through the
// client-credentials flow. Tokens are cached until shortly before expiry and
// dropped when Helix answers 401.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"streamwatch/internal/monitor"
	logx "streamwatch/pkg/logx"
)

const (
	defaultAPIBase  = "https://api.twitch.tv"
	defaultAuthBase = "https://id.twitch.tv"

	tokenSlack = time.Minute
)

// Config controls the Helix client.
type Config struct {
	ClientID     string
	ClientSecret string

	APIBase  string
	AuthBase string
	Timeout  time.Duration

	// RatePerSec caps outgoing requests. 0 uses 5/s.
	RatePerSec int

	// CacheSize in bytes. 0 disables the response cache.
	CacheSize  int
	StreamTTL  time.Duration
	ProfileTTL time.Duration
}

// Client answers probe questions for the reconciler.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   *freecache.Cache
	log     logx.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time

	rtt atomic.Int64
}

// statusError is returned for non-2xx Helix answers.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("helix: HTTP %d", e.Code)
	}
	return fmt.Sprintf("helix: HTTP %d: %s", e.Code, e.Body)
}

type streamsResponse struct {
	Data []struct {
		UserID       string    `json:"user_id"`
		UserLogin    string    `json:"user_login"`
		UserName     string    `json:"user_name"`
		GameName     string    `json:"game_name"`
		Type         string    `json:"type"`
		Title        string    `json:"title"`
		ViewerCount  int       `json:"viewer_count"`
		StartedAt    time.Time `json:"started_at"`
		ThumbnailURL string    `json:"thumbnail_url"`
	} `json:"data"`
}

type usersResponse struct {
	Data []struct {
		ID              string `json:"id"`
		Login           string `json:"login"`
		DisplayName     string `json:"display_name"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("twitch client_id and client_secret are required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.AuthBase == "" {
		cfg.AuthBase = defaultAuthBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.AuthBase = strings.TrimRight(cfg.AuthBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.StreamTTL <= 0 {
		cfg.StreamTTL = 5 * time.Second
	}
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
	if cfg.CacheSize > 0 {
		c.cache = freecache.NewCache(cfg.CacheSize)
	}
	return c, nil
}

// Probe reports whether the channel is broadcasting right now.
func (c *Client) Probe(ctx context.Context, channelID string) (bool, error) {
	snap, err := c.FetchSnapshot(ctx, channelID)
	if err != nil {
		return false, err
	}
	return snap != nil, nil
}

// FetchSnapshot returns the live stream for channelID, or nil when offline.
func (c *Client) FetchSnapshot(ctx context.Context, channelID string) (*monitor.StreamSnapshot, error) {
	var resp streamsResponse
	q := url.Values{"user_id": {channelID}}
	if err := c.getCached(ctx, "streams:"+channelID, "/helix/streams", q, c.cfg.StreamTTL, &resp); err != nil {
		return nil, fmt.Errorf("fetch stream %s: %w", channelID, err)
	}
	for _, s := range resp.Data {
		if s.Type != "" && s.Type != "live" {
			continue
		}
		return &monitor.StreamSnapshot{
			CreatedAt:         s.StartedAt.UTC(),
			Login:             s.UserLogin,
			Title:             s.Title,
			ActivityName:      s.GameName,
			ViewerCount:       s.ViewerCount,
			ThumbnailTemplate: s.ThumbnailURL,
		}, nil
	}
	return nil, nil
}

// ProfileImage returns the channel's avatar URL ("" when unknown).
func (c *Client) ProfileImage(ctx context.Context, channelID string) (string, error) {
	var resp usersResponse
	q := url.Values{"id": {channelID}}
	if err := c.getCached(ctx, "users:"+channelID, "/helix/users", q, c.cfg.ProfileTTL, &resp); err != nil {
		return "", fmt.Errorf("fetch user %s: %w", channelID, err)
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].ProfileImageURL, nil
}

func (c *Client) getCached(ctx context.Context, key, path string, q url.Values, ttl time.Duration, out any) error {
	if c.cache != nil {
		if b, err := c.cache.Get([]byte(key)); err == nil {
			return json.Unmarshal(b, out)
		}
	}
	b, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if c.cache != nil {
		if secs := int(ttl / time.Second); secs > 0 {
			_ = c.cache.Set([]byte(key), b, secs)
		}
	}
	return nil
}

// get performs an authenticated Helix GET, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			token, err := c.accessToken(ctx)
			if err != nil {
				return err
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+path+"?"+q.Encode(), http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Client-Id", c.cfg.ClientID)
			req.Header.Set("Authorization", "Bearer "+token)

			start := time.Now()
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if err := resp.Body.Close(); err != nil {
					c.log.Debug("close response body failed", logx.Err(err))
				}
			}()
			b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			took := time.Since(start)
			c.rtt.Store(int64(took))
			c.log.Trace("helix request",
				logx.String("path", path),
				logx.Int("status", resp.StatusCode),
				logx.Duration("took", took),
			)
			if resp.StatusCode == http.StatusUnauthorized {
				c.invalidateToken(token)
			}
			if resp.StatusCode/100 != 2 {
				return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			}
			body = b
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying helix request", logx.String("path", path), logx.Int("attempt", int(n)), logx.Err(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// LastRoundTrip is the duration of the most recent Helix response, or 0
// before the first request.
func (c *Client) LastRoundTrip() time.Duration {
	return time.Duration(c.rtt.Load())
}

// isTransient reports whether a failed Helix call is worth another attempt.
// 401 is retried once the stale token has been dropped.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusUnauthorized || se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthBase+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		se := &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		if resp.StatusCode/100 == 4 {
			// Bad credentials do not heal by retrying.
			return "", retry.Unrecoverable(fmt.Errorf("request token: %w", se))
		}
		return "", fmt.Errorf("request token: %w", se)
	}
	var tr tokenResponse
	if err := json.Unmarshal(b, &tr); err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("decode token: %w", err))
	}
	if tr.AccessToken == "" {
		return "", retry.Unrecoverable(errors.New("token response without access_token"))
	}
	c.token = tr.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSlack)
	c.log.Debug("twitch token refreshed", logx.Duration("expires_in", time.Duration(tr.ExpiresIn)*time.Second))
	return c.token, nil
}

func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}
