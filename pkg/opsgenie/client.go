package opsgenie

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsgenie_requests_total",
		Help: "Total Opsgenie API requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsgenie_request_duration_seconds",
		Help:    "Opsgenie API request duration in seconds by route",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})
)

// DefaultBaseURL is the Opsgenie API endpoint for US accounts.
const DefaultBaseURL = "https://api.opsgenie.com"

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. https://api.eu.opsgenie.com for EU accounts.
	BaseURL string

	// APIKey is sent as "Authorization: GenieKey <key>" (REQUIRED).
	APIKey string

	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a default configuration for apiKey.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		UserAgent: "opsgenie-config-backup/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// Client is an Opsgenie REST client. It implements IntegrationAPI,
// IntegrationActionAPI, UserAPI and NotificationRuleAPI. It does not retry;
// callers wrap calls in a retry executor.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

var (
	_ IntegrationAPI       = (*Client)(nil)
	_ IntegrationActionAPI = (*Client)(nil)
	_ UserAPI              = (*Client)(nil)
	_ NotificationRuleAPI  = (*Client)(nil)
)

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "opsgenie-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// envelope is the common response wrapper of the v2 API.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	TotalCount int             `json:"totalCount"`
	Message    string          `json:"message"`
	RequestID  string          `json:"requestId"`
}

// get performs a GET request for the joined path segments and decodes the
// "data" field into out. route is a low-cardinality name used for metrics and
// errors.
func (c *Client) get(ctx context.Context, route string, query url.Values, out any, segments ...string) (*envelope, error) {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := c.baseURL.JoinPath(escaped...)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "GenieKey "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Debug().Err(err).Str("route", route).Msg("HTTP request failed")
		return nil, fmt.Errorf("%s: %w", route, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", route, err)
	}

	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("%s: decode response: %w", route, err)
		}
	}

	if resp.StatusCode >= 400 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			RequestID:  env.RequestID,
			Route:      route,
		}
		c.logger.Debug().
			Str("route", route).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class())).
			Msg("Opsgenie request error")
		return nil, apiErr
	}

	if out != nil {
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil, fmt.Errorf("%s: %w", route, ErrMissingData)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%s: decode data: %w", route, err)
		}
	}
	return &env, nil
}

// ListIntegrations implements IntegrationAPI.
func (c *Client) ListIntegrations(ctx context.Context) ([]IntegrationMeta, error) {
	var metas []IntegrationMeta
	if _, err := c.get(ctx, "list_integrations", nil, &metas, "v2", "integrations"); err != nil {
		return nil, err
	}
	return metas, nil
}

// GetIntegration implements IntegrationAPI.
func (c *Client) GetIntegration(ctx context.Context, id string) (*Integration, error) {
	var integration Integration
	if _, err := c.get(ctx, "get_integration", nil, &integration, "v2", "integrations", id); err != nil {
		return nil, err
	}
	return &integration, nil
}

// ListIntegrationActions implements IntegrationActionAPI.
func (c *Client) ListIntegrationActions(ctx context.Context, integrationID string) (*ActionCategorized, error) {
	var actions ActionCategorized
	if _, err := c.get(ctx, "list_integration_actions", nil, &actions, "v2", "integrations", integrationID, "actions"); err != nil {
		return nil, err
	}
	return &actions, nil
}

// ListUsers implements UserAPI.
func (c *Client) ListUsers(ctx context.Context, r ListUsersRequest) (*ListUsersResponse, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(r.Offset))
	if r.Limit > 0 {
		query.Set("limit", strconv.Itoa(r.Limit))
	}
	if r.Query != "" {
		query.Set("query", r.Query)
	}

	var users []User
	env, err := c.get(ctx, "list_users", query, &users, "v2", "users")
	if err != nil {
		return nil, err
	}
	return &ListUsersResponse{Users: users, TotalCount: env.TotalCount}, nil
}

// GetUser implements UserAPI.
func (c *Client) GetUser(ctx context.Context, r GetUserRequest) (*User, error) {
	var query url.Values
	if len(r.Expand) > 0 {
		query = url.Values{"expand": {strings.Join(r.Expand, ",")}}
	}

	var user User
	if _, err := c.get(ctx, "get_user", query, &user, "v2", "users", r.Identifier); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListNotificationRules implements NotificationRuleAPI.
func (c *Client) ListNotificationRules(ctx context.Context, userID string) ([]NotificationRuleMeta, error) {
	var metas []NotificationRuleMeta
	if _, err := c.get(ctx, "list_notification_rules", nil, &metas, "v2", "users", userID, "notification-rules"); err != nil {
		return nil, err
	}
	return metas, nil
}

// GetNotificationRule implements NotificationRuleAPI.
func (c *Client) GetNotificationRule(ctx context.Context, userID, ruleID string) (*NotificationRule, error) {
	var rule NotificationRule
	if _, err := c.get(ctx, "get_notification_rule", nil, &rule, "v2", "users", userID, "notification-rules", ruleID); err != nil {
		return nil, err
	}
	return &rule, nil
}
