package racingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client fetches racing data from the upstream API. Bulk and
// enrichment calls draw from one shared rate-limit budget.
type Client interface {
	// FetchRacecards returns all races for a date. A day with no
	// racing returns an empty slice, not an error.
	FetchRacecards(ctx context.Context, date time.Time) ([]RaceCard, error)

	// FetchHorse returns the enrichment payload for one horse id.
	FetchHorse(ctx context.Context, id string) (*HorseDetail, error)

	// FetchPerson returns the enrichment payload for a jockey,
	// trainer or owner id.
	FetchPerson(ctx context.Context, role EntityRole, id string) (*PersonDetail, error)
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log     logrus.FieldLogger
	cfg     *config.UpstreamConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a rate-limited upstream API client. The limiter
// allows no burst above the configured request rate, so the cap holds
// for any one-second window.
func NewClient(log logrus.FieldLogger, cfg *config.UpstreamConfig) Client {
	return &client{
		log: log.WithField("component", "racingapi"),
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeoutDuration(),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// FetchRacecards returns all races for the given date.
func (c *client) FetchRacecards(
	ctx context.Context, date time.Time,
) ([]RaceCard, error) {
	params := url.Values{}
	params.Set("date", date.Format(config.DateLayout))

	var resp racecardsResponse
	if err := c.get(ctx, "/v1/racecards", params, &resp); err != nil {
		if IsKind(err, KindNotFound) {
			// Some calendar days have no racing at all.
			c.log.WithField("date", date.Format(config.DateLayout)).
				Info("No racecards for date")

			return nil, nil
		}

		return nil, err
	}

	return resp.Races, nil
}

// FetchHorse returns the enrichment payload for one horse.
func (c *client) FetchHorse(
	ctx context.Context, id string,
) (*HorseDetail, error) {
	var detail HorseDetail
	if err := c.get(ctx, "/v1/horses/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}

	return &detail, nil
}

// FetchPerson returns the enrichment payload for a jockey, trainer or
// owner.
func (c *client) FetchPerson(
	ctx context.Context, role EntityRole, id string,
) (*PersonDetail, error) {
	var path string

	switch role {
	case RoleJockey:
		path = "/v1/jockeys/"
	case RoleTrainer:
		path = "/v1/trainers/"
	case RoleOwner:
		path = "/v1/owners/"
	default:
		return nil, fmt.Errorf("role %q has no person endpoint", role)
	}

	var detail PersonDetail
	if err := c.get(ctx, path+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}

	return &detail, nil
}

// get issues a rate-limited GET with retries and decodes the JSON
// response into out. Transient and rate-limit failures are retried
// with exponential backoff up to the configured attempt budget; all
// other failures return immediately as classified FetchErrors.
func (c *client) get(
	ctx context.Context, path string, params url.Values, out any,
) error {
	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	delay := c.cfg.BackoffBaseDuration()

	var lastErr *FetchError

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		// Every request, retries included, waits on the shared
		// token bucket.
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{
				Kind: KindTransient, Endpoint: path,
				Attempts: attempt, Err: err,
			}
		}

		fetchErr := c.doRequest(ctx, endpoint, path, out)
		if fetchErr == nil {
			return nil
		}

		fetchErr.Attempts = attempt
		lastErr = fetchErr

		switch fetchErr.Kind {
		case KindTransient, KindRateLimited:
		default:
			return fetchErr
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		wait := delay
		if fetchErr.Kind == KindRateLimited && fetchErr.retryAfter > wait {
			wait = fetchErr.retryAfter
		}

		c.log.WithFields(logrus.Fields{
			"endpoint": path,
			"kind":     fetchErr.Kind.String(),
			"attempt":  attempt,
			"wait":     wait.String(),
		}).Warn("Fetch failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &FetchError{
				Kind: KindTransient, Endpoint: path,
				Attempts: attempt, Err: ctx.Err(),
			}
		}

		delay *= 2
		if maxDelay := c.cfg.BackoffCapDuration(); delay > maxDelay {
			delay = maxDelay
		}
	}

	return lastErr
}

// doRequest performs a single HTTP round-trip and classifies failures.
func (c *client) doRequest(
	ctx context.Context, endpoint, path string, out any,
) *FetchError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &FetchError{Kind: KindValidation, Endpoint: path, Err: err}
	}

	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Kind: KindTransient, Endpoint: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return &FetchError{
			Kind: KindNotFound, Endpoint: path,
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &FetchError{
			Kind: KindRateLimited, Endpoint: path,
			StatusCode: resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return &FetchError{
			Kind: KindAuth, Endpoint: path,
			StatusCode: resp.StatusCode,
		}
	default:
		return &FetchError{
			Kind: KindTransient, Endpoint: path,
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Kind: KindTransient, Endpoint: path, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Kind: KindValidation, Endpoint: path, Err: err}
	}

	return nil
}

// parseRetryAfter parses a Retry-After header given in seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}

	return time.Duration(secs) * time.Second
}
