// Package http is the static fetch path: a plain GET whose HTML is reduced
// to visible text without running any JavaScript.
package http

import (
	"context"
	"crypto/tls"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
	"github.com/PentesterFlow/sitesurvey/internal/parser"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 5 << 20

// FastClientConfig holds configuration for the static client.
type FastClientConfig struct {
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	UserAgent           string
	Headers             map[string]string
	SkipTLSVerify       bool
}

// DefaultFastClientConfig returns the defaults used for page fetches.
func DefaultFastClientConfig() FastClientConfig {
	return FastClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 16,
		UserAgent:           "SiteSurvey/1.0 (+https://github.com/PentesterFlow/sitesurvey; site analysis for CMS proposals)",
	}
}

// FastClient issues static page fetches. One client is shared by every
// static fetch of a crawl call and closed once when the call ends.
type FastClient struct {
	client    *http.Client
	transport *http.Transport
	userAgent string
	headers   map[string]string
}

// NewFastClient creates a static client.
func NewFastClient(config FastClientConfig) *FastClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: config.SkipTLSVerify},
	}

	return &FastClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		transport: transport,
		userAgent: config.UserAgent,
		headers:   config.Headers,
	}
}

// FastResult is one static fetch.
type FastResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	HTML        string // raw markup, empty for non-HTML bodies
	Text        string // visible text, uncapped
	Duration    time.Duration
}

// Get fetches targetURL. A non-2xx status returns the partial result along
// with a categorized error.
func (fc *FastClient) Get(ctx context.Context, targetURL string) (*FastResult, error) {
	start := time.Now()
	result := &FastResult{URL: targetURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return result, errors.NewParseError(targetURL, "request_creation", err)
	}
	req.Header.Set("User-Agent", fc.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	for k, v := range fc.headers {
		req.Header.Set(k, v)
	}

	resp, err := fc.client.Do(req)
	if err != nil {
		return result, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.FinalURL = resp.Request.URL.String()
	result.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Duration = time.Since(start)
		if httpErr := errors.CategorizeHTTPStatus(resp.StatusCode, targetURL); httpErr != nil {
			return result, httpErr
		}
		return result, errors.NewClientError(targetURL, resp.StatusCode, "unexpected status")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return result, errors.NewNetworkError(targetURL, "body_read", err)
	}

	switch mediaType(result.ContentType) {
	case "", "text/html", "application/xhtml+xml":
		result.HTML = string(body)
		text, err := parser.VisibleText(result.HTML)
		if err != nil {
			return result, errors.NewParseError(targetURL, "html_parse", err)
		}
		result.Text = text
	case "text/plain":
		result.Text = strings.Join(strings.Fields(string(body)), " ")
	default:
		return result, errors.NewClientError(targetURL, resp.StatusCode, "unsupported content type "+result.ContentType)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

// Close releases pooled connections.
func (fc *FastClient) Close() {
	fc.transport.CloseIdleConnections()
}
