package medtrum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	loginPath  = "/v3/api/v2.0/login"
	statusPath = "/api/v2.1/monitor/$userid/status"
	userType   = "P"
)

// Client is an unauthenticated EasyView account. The only thing it can do
// is log in; status calls live on the Session returned by Login.
type Client struct {
	baseURL   string
	username  string
	password  string
	transport *transport
	now       func() time.Time
	logger    *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient shares a connection pool across login and status calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport.http = client
	}
}

// WithClock overrides the clock used for the status time window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.transport.timeout = timeout
		}
	}
}

// WithLogger routes request and login diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient validates credentials and resolves the region base URL. It does
// not contact the server.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, fmt.Errorf("medtrum username is required")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("medtrum password is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = BaseURLForRegion(cfg.Region)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		username:  cfg.Username,
		password:  cfg.Password,
		transport: newTransport(&http.Client{}),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL reports the resolved API endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type loginRequest struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
	UserType string `json:"user_type"`
}

type loginResponse struct {
	Error    int    `json:"error"`
	UID      any    `json:"uid"`
	RealName string `json:"realname"`
}

// Login authenticates and returns a Session carrying the user identity.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	raw, err := c.transport.do(ctx, http.MethodPost, c.baseURL+loginPath, defaultHeaders(), loginRequest{
		UserName: c.username,
		Password: c.password,
		UserType: userType,
	})
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := decodeJSON(raw, &resp); err != nil {
		return nil, &APIError{Reason: "decode login response", Err: err}
	}
	c.logger.Debug("login response", zap.Int("error", resp.Error))
	if resp.Error != 0 {
		return nil, &AuthenticationError{Reason: "invalid credentials"}
	}

	uid, err := coerceUID(resp.UID)
	if err != nil {
		return nil, &APIError{Reason: "login response uid", Err: err}
	}

	c.logger.Info("logged in", zap.String("uid", uid))
	return &Session{client: c, uid: uid, realName: resp.RealName}, nil
}

func coerceUID(value any) (string, error) {
	var text string
	switch typed := value.(type) {
	case nil:
		return "", errors.New("missing uid")
	case json.Number:
		text = typed.String()
	case string:
		text = strings.TrimSpace(typed)
	case float64:
		text = strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return "", fmt.Errorf("unexpected uid type %T", value)
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return "", fmt.Errorf("parse uid %q: %w", text, err)
	}
	return strconv.FormatInt(int64(f), 10), nil
}
