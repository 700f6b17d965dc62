package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/jobpsych/server/internal/shared/metrics"
)

// AccountClient reads and increments the per-account upload counter owned by
// the external account service. Check and Increment are two independent round
// trips; no attempt is made to make pairs of them transactional, so two
// concurrent requests for one account can both pass Check before either
// Increment lands. That race is accepted: the account counter is advisory
// billing state, not a serialization point.
type AccountClient struct {
	baseURL     string
	uploadLimit int
	timeout     time.Duration
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*AccountSnapshot]
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// AccountClientConfig configures the account client.
type AccountClientConfig struct {
	BaseURL          string
	UploadLimit      int
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultAccountClientConfig returns the default account client configuration.
func DefaultAccountClientConfig() *AccountClientConfig {
	return &AccountClientConfig{
		UploadLimit:      10,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
	}
}

// NewAccountClient creates an account client. m may be nil.
func NewAccountClient(cfg *AccountClientConfig, httpClient *http.Client, logger *zap.Logger, m *metrics.Metrics) *AccountClient {
	if cfg == nil {
		cfg = DefaultAccountClientConfig()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	breaker := gobreaker.NewCircuitBreaker[*AccountSnapshot](gobreaker.Settings{
		Name:    "account-service",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A 404 is a fresh account, not a service failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAccountNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("account service breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &AccountClient{
		baseURL:     cfg.BaseURL,
		uploadLimit: cfg.UploadLimit,
		timeout:     cfg.Timeout,
		httpClient:  httpClient,
		breaker:     breaker,
		logger:      logger,
		metrics:     m,
	}
}

func (c *AccountClient) record(operation string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrAccountNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	c.metrics.RecordAccountCall(operation, status)
}

type userUploadsResponse struct {
	FilesUploaded int    `json:"filesUploaded"`
	Limit         int    `json:"limit"`
	Plan          string `json:"plan"`
}

type incrementRequest struct {
	ID string `json:"id"`
}

type incrementResponse struct {
	FilesUploaded int `json:"filesUploaded"`
}

// Check reads the account's upload counter. Network failure, a non-2xx
// response, a malformed body, and an open breaker all surface as
// ErrAccountUnavailable; callers treat that fail-open. A 404 is
// ErrAccountNotFound and means a fresh account with zero uploads.
func (c *AccountClient) Check(ctx context.Context, accountID string) (*AccountSnapshot, error) {
	snap, err := c.breaker.Execute(func() (*AccountSnapshot, error) {
		return c.doCheck(ctx, accountID)
	})
	c.record("check", err)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}
	return snap, nil
}

func (c *AccountClient) doCheck(ctx context.Context, accountID string) (*AccountSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/user-uploads/%s", c.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("account check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrAccountNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account check: unexpected status %d", resp.StatusCode)
	}

	var body userUploadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("account check: decode response: %w", err)
	}

	limit := body.Limit
	if limit <= 0 {
		limit = c.uploadLimit
	}

	tier := TierFree
	if body.Plan == string(TierPremium) {
		tier = TierPremium
	}

	return &AccountSnapshot{
		AccountID: accountID,
		Used:      body.FilesUploaded,
		Limit:     limit,
		Tier:      tier,
	}, nil
}

// Increment advances the account's upload counter by one. It is called after
// a successful admission; failure here is logged and tolerated, leaving the
// remote counter under-reporting until the account service recovers. cost > 1
// is applied as cost sequential increments, stopping at the first failure.
func (c *AccountClient) Increment(ctx context.Context, accountID string, cost int) error {
	for i := 0; i < cost; i++ {
		err := c.doIncrement(ctx, accountID)
		c.record("increment", err)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
		}
	}
	return nil
}

func (c *AccountClient) doIncrement(ctx context.Context, accountID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(incrementRequest{ID: accountID})
	if err != nil {
		return fmt.Errorf("encode increment request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/increment-upload", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build increment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account increment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("account increment: unexpected status %d", resp.StatusCode)
	}

	var body incrementResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("account increment: decode response: %w", err)
	}

	return nil
}
