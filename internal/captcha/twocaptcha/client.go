// Package twocaptcha solves image challenges through the 2captcha HTTP API.
package twocaptcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// DefaultBaseURL is the public 2captcha endpoint.
const DefaultBaseURL = "https://2captcha.com"

const notReady = "CAPCHA_NOT_READY"

// Config parameterizes the client.
type Config struct {
	APIKey  string
	BaseURL string
	// InitialDelay is waited before the first result poll.
	InitialDelay time.Duration
	PollInterval time.Duration
	// Timeout bounds one Solve call.
	Timeout time.Duration
}

// Client implements publish.CaptchaSolver.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. A nil httpClient uses a client with a 30s timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("captcha api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("captcha")}, nil
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits image and blocks until the answer is ready. The answer is
// trimmed and upper-cased. Every failure is ErrCaptchaUnsolved.
func (c *Client) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", &publish.Error{Kind: publish.ErrCaptchaUnsolved, Msg: "empty challenge image"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	id, err := c.submit(ctx, image)
	if err != nil {
		return "", unsolved("submit", err)
	}
	c.logger.Debug("challenge submitted", zap.String("captcha_id", id))

	wait := c.cfg.InitialDelay
	for {
		if err := sleep(ctx, wait); err != nil {
			return "", unsolved("wait for answer", err)
		}
		wait = c.cfg.PollInterval

		answer, ready, err := c.result(ctx, id)
		if err != nil {
			return "", unsolved("poll", err)
		}
		if ready {
			answer = strings.ToUpper(strings.TrimSpace(answer))
			if answer == "" {
				return "", &publish.Error{Kind: publish.ErrCaptchaUnsolved, Msg: "empty answer"}
			}
			c.logger.Info("challenge solved", zap.String("captcha_id", id))
			return answer, nil
		}
	}
}

func (c *Client) submit(ctx context.Context, image []byte) (string, error) {
	form := url.Values{
		"key":    {c.cfg.APIKey},
		"method": {"base64"},
		"body":   {base64.StdEncoding.EncodeToString(image)},
		"json":   {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("solver rejected challenge: %s", resp.Request)
	}
	return resp.Request, nil
}

func (c *Client) result(ctx context.Context, id string) (string, bool, error) {
	q := url.Values{
		"key":    {c.cfg.APIKey},
		"action": {"get"},
		"id":     {id},
		"json":   {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", false, err
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	if resp.Request == notReady {
		return "", false, nil
	}
	return "", false, fmt.Errorf("solver error: %s", resp.Request)
}

func (c *Client) do(req *http.Request) (apiResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiResponse{}, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("%s returned %d", req.URL.Path, resp.StatusCode)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return out, nil
}

func unsolved(msg string, err error) error {
	return &publish.Error{Kind: publish.ErrCaptchaUnsolved, Msg: msg, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
