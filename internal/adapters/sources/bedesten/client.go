package bedesten

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
)

const (
	searchPath  = "/emsal-karar/searchDocuments"
	contentPath = "/emsal-karar/getDocumentContent"
	appName     = "UyapMevzuat"
	maxBody     = 32 << 20
)

// client is a small JSON client with proxy rotation and retries on 429 and 5xx
type client struct {
	opts    Options
	clients []*http.Client
	cur     atomic.Uint32
	log     logger.Logger

	// seams for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

func newClient(o Options) (*client, error) {
	c := &client{
		opts:   o,
		log:    *logger.Named("bedesten"),
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
	if len(o.Proxies) == 0 {
		c.clients = []*http.Client{{Timeout: o.Timeout}}
		return c, nil
	}
	for _, p := range o.Proxies {
		u, err := url.Parse(p)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "bedesten proxy %q", p)
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = http.ProxyURL(u)
		tr.MaxConnsPerHost = 8
		tr.MaxIdleConnsPerHost = 4
		c.clients = append(c.clients, &http.Client{Timeout: o.Timeout, Transport: tr})
	}
	return c, nil
}

// next returns the next http client in round robin order
func (c *client) next() *http.Client {
	n := c.cur.Add(1)
	return c.clients[int(n)%len(c.clients)]
}

// request is the envelope every Bedesten endpoint expects
type request struct {
	Data            any    `json:"data"`
	ApplicationName string `json:"applicationName"`
	Paging          bool   `json:"paging,omitempty"`
}

// postJSON posts body to path and returns the raw response body
func (c *client) postJSON(ctx context.Context, path string, body any) ([]byte, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "bedesten encode request")
	}
	return c.do(ctx, http.MethodPost, c.opts.BaseURL+path, buf)
}

// get fetches an absolute url
func (c *client) get(ctx context.Context, u string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil)
}

func (c *client) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, wait, err := c.once(ctx, method, u, body)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !perr.Retryable(err) || attempt == c.opts.MaxRetries-1 {
			break
		}
		if wait <= 0 {
			wait = c.backoff(attempt)
		}
		c.log.Warn().Err(err).Str("url", u).Int("attempt", attempt).Dur("retry_in", wait).Msg("bedesten: retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, perr.WithOp(lastErr, method+" "+u)
}

// once issues one request; wait carries a server requested Retry-After
func (c *client) once(ctx context.Context, method, u string, body []byte) ([]byte, time.Duration, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "bedesten new request")
	}
	c.headers(req, body != nil)

	start := time.Now()
	resp, err := c.next().Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			return nil, 0, perr.Wrapf(err, perr.ErrorCodeTimeout, "bedesten %s timed out", method)
		}
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "bedesten %s failed", method)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("url", u).Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("bedesten http response")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "bedesten read body")
		}
		return out, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return nil, retryAfter(resp.Header.Get("Retry-After"), time.Now()), perr.Newf(perr.ErrorCodeTooManyRequests, "bedesten rate limited")
	case resp.StatusCode >= 500:
		drain(resp.Body)
		return nil, retryAfter(resp.Header.Get("Retry-After"), time.Now()), perr.Newf(perr.ErrorCodeUnavailable, "bedesten status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		drain(resp.Body)
		return nil, 0, perr.NotFoundf("bedesten %s not found", u)
	default:
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, perr.Newf(perr.ErrorCodeUpstream, "bedesten unexpected status %d body %s", resp.StatusCode, string(tail))
	}
}

func (c *client) headers(req *http.Request, jsonBody bool) {
	h := req.Header
	h.Set("User-Agent", c.opts.UserAgent)
	h.Set("Accept", "application/json, text/html;q=0.9")
	h.Set("Accept-Language", "tr-TR,tr;q=0.9")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Origin", "https://mevzuat.adalet.gov.tr")
	h.Set("Referer", "https://mevzuat.adalet.gov.tr/")
	h.Set("AdaletApplicationName", appName)
	h.Set("Cache-Control", "no-cache")
	if jsonBody {
		h.Set("Content-Type", "application/json")
	}
}

// backoff is 1.5^attempt seconds plus 0.2 to 0.6 seconds of jitter
func (c *client) backoff(attempt int) time.Duration {
	secs := math.Pow(1.5, float64(attempt)) + 0.2 + 0.4*c.jitter()
	return time.Duration(secs * float64(time.Second))
}

// retryAfter reads delta seconds or an HTTP date
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if s, err := strconv.ParseFloat(v, 64); err == nil {
		if s <= 0 {
			return 0
		}
		return time.Duration(s * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func drain(rc io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
