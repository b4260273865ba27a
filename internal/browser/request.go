package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// maxResponseBody caps how much of an API response is read.
const maxResponseBody = 4 << 20

// Request issues req over HTTP with the tab's cookies for req.URL attached.
func (p *Page) Request(ctx context.Context, req publish.APIRequest) (publish.APIResponse, error) {
	var cookies []*network.Cookie
	err := p.act(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{req.URL}).Do(ctx)
		return err
	}))
	if err != nil {
		return publish.APIResponse{}, fmt.Errorf("read cookies for %s: %w", req.URL, err)
	}
	if p.cfg.UserAgent != "" {
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		if _, ok := req.Headers["User-Agent"]; !ok {
			req.Headers["User-Agent"] = p.cfg.UserAgent
		}
	}
	p.logger.Debug("api request", zap.String("method", req.Method), zap.String("url", req.URL), zap.Int("cookies", len(cookies)))
	return doRequest(ctx, p.client, req, cookies)
}

func doRequest(ctx context.Context, client *http.Client, req publish.APIRequest, cookies []*network.Cookie) (publish.APIResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return publish.APIResponse{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if header := cookieHeader(cookies); header != "" {
		httpReq.Header.Set("Cookie", header)
	}
	for headerName, cookieName := range req.CookieHeaders {
		if v, ok := cookieValue(cookies, cookieName); ok {
			httpReq.Header.Set(headerName, v)
		}
	}

	c := *client
	if !req.FollowRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	resp, err := c.Do(httpReq)
	if err != nil {
		return publish.APIResponse{}, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return publish.APIResponse{}, fmt.Errorf("read response body: %w", err)
	}
	return publish.APIResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func cookieHeader(cookies []*network.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// cookieValue returns the URL-decoded value of the named cookie. Frameworks
// store CSRF tokens percent-encoded and expect them raw in headers.
func cookieValue(cookies []*network.Cookie, name string) (string, bool) {
	for _, c := range cookies {
		if c == nil || c.Name != name {
			continue
		}
		v, err := url.QueryUnescape(c.Value)
		if err != nil {
			return c.Value, true
		}
		return v, true
	}
	return "", false
}

// CheckProxy fetches target through the configured proxy and returns the
// status code and body. It does not start a browser.
func (l *Launcher) CheckProxy(ctx context.Context, target string) (int, string, error) {
	resp, err := doRequest(ctx, l.client, publish.APIRequest{Method: http.MethodGet, URL: target, FollowRedirects: true}, nil)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(resp.Body)), nil
}
