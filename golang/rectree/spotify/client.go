package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tarstars/recommendation_tree/golang/rectree/features"
	"github.com/tarstars/recommendation_tree/golang/rectree/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNotFound is matched by errors for playlists or endpoints the catalog does not know.
var ErrNotFound = errors.New("not found in catalog")

// Config describes the catalog endpoints, credentials and client limits.
type Config struct {
	ClientID          string        `koanf:"client_id" json:"client_id"`
	ClientSecret      string        `koanf:"client_secret" json:"-"`
	RedirectURL       string        `koanf:"redirect_url" json:"redirect_url" validate:"omitempty,url"`
	Scopes            []string      `koanf:"scopes" json:"scopes"`
	ClientCredentials bool          `koanf:"client_credentials" json:"client_credentials"`
	AuthURL           string        `koanf:"auth_url" json:"auth_url" validate:"required,url"`
	TokenURL          string        `koanf:"token_url" json:"token_url" validate:"required,url"`
	APIURL            string        `koanf:"api_url" json:"api_url" validate:"required,url"`
	RequestsPerSecond float64       `koanf:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" json:"burst" validate:"gte=1"`
	BatchSize         int           `koanf:"batch_size" json:"batch_size" validate:"gte=1,lte=100"`
	Concurrency       int           `koanf:"concurrency" json:"concurrency" validate:"gte=1"`
	MaxRetries        int           `koanf:"max_retries" json:"max_retries" validate:"gte=0"`
	BreakerFailures   uint32        `koanf:"breaker_failures" json:"breaker_failures" validate:"gte=1"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" json:"breaker_timeout"`
	Timeout           time.Duration `koanf:"timeout" json:"timeout"`
}

// DefaultConfig points at the public Spotify Web API.
func DefaultConfig() Config {
	return Config{
		AuthURL:           "https://accounts.spotify.com/authorize",
		TokenURL:          "https://accounts.spotify.com/api/token",
		APIURL:            "https://api.spotify.com/v1",
		Scopes:            []string{"playlist-read-private"},
		RequestsPerSecond: 10,
		Burst:             5,
		BatchSize:         100,
		Concurrency:       4,
		MaxRetries:        5,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
		Timeout:           15 * time.Second,
	}
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authorizer supplies bearer tokens and can be told that the current one was rejected.
type Authorizer interface {
	oauth2.TokenSource
	Invalidate()
}

// StatusError is a non-success catalog answer.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("catalog %s returned %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("catalog %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the catalog. It is safe for concurrent use.
type Client struct {
	baseURL     string
	auth        Authorizer
	doer        HTTPDoer
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[any]
	batchSize   int
	concurrency int
	maxRetries  int

	// used when a rate limited answer has no Retry-After
	retryWait time.Duration
	logger    zerolog.Logger
}

type Option func(*Client)

func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *Client) { c.doer = doer }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a catalog client.
func NewClient(cfg Config, auth Authorizer, options ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.APIURL, "/"),
		auth:        auth,
		doer:        &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1)),
		batchSize:   min(max(cfg.BatchSize, 1), 100),
		concurrency: max(cfg.Concurrency, 1),
		maxRetries:  cfg.MaxRetries,
		retryWait:   time.Second,
		logger:      zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}

	failures := max(cfg.BreakerFailures, 1)
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "catalog",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

type playlistPage struct {
	Items []struct {
		Track *struct {
			ID *string `json:"id"`
		} `json:"track"`
	} `json:"items"`
	Next  *string `json:"next"`
	Total int     `json:"total"`
}

// PlaylistTrackIDs lists the track ids of a playlist, following pagination.
// Entries without a track or an id are skipped.
func (c *Client) PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	query := url.Values{}
	query.Set("fields", "items(track(id)),next,total")
	query.Set("limit", "100")
	next := fmt.Sprintf("%s/playlists/%s/tracks?%s", c.baseURL, url.PathEscape(playlistID), query.Encode())

	var ids []string
	for next != "" {
		var page playlistPage
		if err := c.get(ctx, "playlist-tracks", next, &page); err != nil {
			return nil, fmt.Errorf("playlist %s: %w", playlistID, err)
		}
		if ids == nil {
			ids = make([]string, 0, page.Total)
		}
		for _, item := range page.Items {
			if item.Track == nil || item.Track.ID == nil || *item.Track.ID == "" {
				continue
			}
			ids = append(ids, *item.Track.ID)
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return ids, nil
}

// TrackFeatures returns audio features in the order of ids. Unknown tracks yield nil entries.
// Ids are requested in batches which are fetched concurrently.
func (c *Client) TrackFeatures(ctx context.Context, ids []string) ([]*features.AudioFeatures, error) {
	batches := make([][]*features.AudioFeatures, (len(ids)+c.batchSize-1)/c.batchSize)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for ind := range batches {
		begin := ind * c.batchSize
		batch := ids[begin:min(begin+c.batchSize, len(ids))]
		group.Go(func() error {
			query := url.Values{}
			query.Set("ids", strings.Join(batch, ","))
			var response struct {
				AudioFeatures []*features.AudioFeatures `json:"audio_features"`
			}
			if err := c.get(groupCtx, "audio-features", c.baseURL+"/audio-features?"+query.Encode(), &response); err != nil {
				return fmt.Errorf("audio features batch %d: %w", ind, err)
			}
			if len(response.AudioFeatures) != len(batch) {
				return fmt.Errorf("audio features batch %d: got %d entries for %d ids", ind, len(response.AudioFeatures), len(batch))
			}
			batches[ind] = response.AudioFeatures
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := make([]*features.AudioFeatures, 0, len(ids))
	for _, batch := range batches {
		result = append(result, batch...)
	}
	return result, nil
}

// get fetches a catalog url into target. Rate limited answers are retried after Retry-After,
// a rejected token is refreshed once.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, target any) error {
	refreshed := false
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.fetch(ctx, endpoint, rawURL, target)
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("catalog unavailable: %w", err)
		}

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			return err
		}
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries:
			wait := statusErr.RetryAfter
			if wait <= 0 {
				wait = c.retryWait
			}
			metrics.CatalogRateLimited.Inc()
			c.logger.Warn().Str("endpoint", endpoint).Dur("wait", wait).Msg("catalog rate limit hit")
			if err := SleepWithContext(ctx, wait); err != nil {
				return err
			}
		case statusErr.StatusCode == http.StatusUnauthorized && !refreshed:
			c.logger.Info().Str("endpoint", endpoint).Msg("access token rejected, refreshing")
			c.auth.Invalidate()
			refreshed = true
		default:
			return err
		}
	}
}

func (c *Client) fetch(ctx context.Context, endpoint, rawURL string, target any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		tok, err := c.auth.Token()
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", endpoint, err)
		}
		req.Header.Set("Accept", "application/json")
		tok.SetAuthHeader(req)

		start := time.Now()
		resp, err := c.doer.Do(req)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", endpoint, err)
		}
		defer resp.Body.Close()
		metrics.RecordCatalogRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", endpoint, err)
		}
		if resp.StatusCode != http.StatusOK {
			retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
			return nil, &StatusError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(body)),
				RetryAfter: retryAfter,
			}
		}
		if err := json.Unmarshal(body, target); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil, nil
	})
	return err
}

// SleepWithContext blocks for the given duration, returning early if the context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
