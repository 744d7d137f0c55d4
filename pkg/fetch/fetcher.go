package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Kind classifies the outcome of a single fetch
type Kind int

const (
	KindSuccess Kind = iota
	KindNotModified
	KindRedirect
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotModified:
		return "not-modified"
	case KindRedirect:
		return "redirect"
	default:
		return "error"
	}
}

// Result is one HTTP exchange. Redirects are reported, never followed.
type Result struct {
	Kind        Kind
	URL         *url.URL
	StatusCode  int
	ContentType string // Full Content-Type header, charset parameter included
	MediaType   string // Lowercased media type without parameters
	Header      http.Header
	Body        []byte
	Location    *url.URL               // Absolute redirect target, set for KindRedirect
	Validator   *models.CacheValidator // Validators sent by the server, nil if none
}

// Size is the number of body bytes received
func (r *Result) Size() int64 { return int64(len(r.Body)) }

// Fetcher retrieves one URL. prior, when non-nil, makes the request conditional.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, prior *models.CacheValidator) (Result, error)
}

// HTTPFetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type HTTPFetcher struct {
	client  *http.Client
	cfg     *config.AppConfig // Retry settings, user agent, body cap, politeness delay
	limiter *RateLimiter
	log     *logrus.Entry
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new HTTPFetcher. limiter may be nil to disable the per-host delay.
func NewHTTPFetcher(client *http.Client, cfg *config.AppConfig, limiter *RateLimiter, log *logrus.Entry) *HTTPFetcher {
	return &HTTPFetcher{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		log:     log.WithField("component", "fetcher"),
	}
}

// Fetch issues a GET for u and classifies the response. HTTP error statuses
// come back as KindError with the status code set and a wrapped error. When
// error responses go through the rules, a 4xx result also carries its body.
func (f *HTTPFetcher) Fetch(ctx context.Context, u *url.URL, prior *models.CacheValidator) (Result, error) {
	res := Result{Kind: KindError, URL: u}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", utils.ErrRequestCreation, u, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if !prior.IsZero() {
		if prior.ETag != "" {
			req.Header.Set("If-None-Match", prior.ETag)
		}
		if prior.LastModified != "" {
			req.Header.Set("If-Modified-Since", prior.LastModified)
		}
	}

	if f.limiter != nil {
		f.limiter.ApplyDelay(ctx, u.Host, f.cfg.DelayPerHost)
		defer f.limiter.UpdateLastRequestTime(u.Host)
	}

	resp, err := f.FetchWithRetry(ctx, req)
	if resp == nil {
		return res, err
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Header = resp.Header
	if err != nil {
		if f.cfg.RulesOnErrorResponses() && errors.Is(err, utils.ErrClientHTTPError) {
			f.readErrorBody(resp, &res)
		} else {
			io.Copy(io.Discard, resp.Body)
		}
		return res, err
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		res.Kind = KindNotModified
		res.Validator = validatorFrom(resp.Header)
		if res.Validator == nil {
			res.Validator = prior
		}
		return res, nil

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		io.Copy(io.Discard, resp.Body)
		loc := resp.Header.Get("Location")
		if loc == "" {
			return res, fmt.Errorf("%w: status %d without Location header", utils.ErrOtherHTTPError, resp.StatusCode)
		}
		target, err := u.Parse(loc)
		if err != nil {
			return res, fmt.Errorf("%w: redirect Location %q: %w", utils.ErrParsing, loc, err)
		}
		res.Kind = KindRedirect
		res.Location = target
		return res, nil
	}

	body, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"), f.cfg.MaxBodyBytes)
	if err != nil {
		return res, err
	}
	res.Kind = KindSuccess
	setBody(&res, resp.Header, body)
	return res, nil
}

// readErrorBody keeps the body of a 4xx response so the rules can decide to
// save it. The result stays KindError; an unreadable body is dropped.
func (f *HTTPFetcher) readErrorBody(resp *http.Response, res *Result) {
	body, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"), f.cfg.MaxBodyBytes)
	if err != nil {
		f.log.WithField("url", res.URL.String()).Debugf("Dropping error response body: %v", err)
		io.Copy(io.Discard, resp.Body)
		return
	}
	setBody(res, resp.Header, body)
}

func setBody(res *Result, h http.Header, body []byte) {
	res.Body = body
	res.ContentType = h.Get("Content-Type")
	if res.ContentType == "" {
		res.ContentType = http.DetectContentType(body)
	}
	res.MediaType = mediaType(res.ContentType)
	res.Validator = validatorFrom(h)
}

// Setting Accept-Encoding turns off the transport's transparent gzip
// handling, so every encoding offered here is decoded by readBody.
const acceptEncoding = "gzip, deflate, br"

// readBody decodes r according to encoding and reads at most limit decoded
// bytes. A body larger than limit is an error.
func readBody(r io.Reader, encoding string, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = config.DefaultMaxBodyBytes
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %w", utils.ErrResponseBodyRead, err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(r)
		defer fl.Close()
		r = fl
	case "br":
		r = brotli.NewReader(r)
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", utils.ErrResponseBodyRead, encoding)
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", utils.ErrResponseBodyRead, limit)
	}
	return body, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func validatorFrom(h http.Header) *models.CacheValidator {
	v := &models.CacheValidator{ETag: h.Get("ETag"), LastModified: h.Get("Last-Modified")}
	if v.IsZero() {
		return nil
	}
	return v
}

// FetchWithRetry performs req under ctx.
// It implements a retry mechanism with exponential backoff and jitter for transient network errors and specific HTTP status codes (5xx, 429)
// 2xx and 3xx responses are returned without error; the client is expected not to follow redirects.
func (f *HTTPFetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, ctx.Err())
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			finalDelay := backoffDelay(attempt, initialRetryDelay, maxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))

		if lastErr != nil {
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
				currentResp = nil
			}
			// Context errors are never retried
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 400:
			resLog.Debug("Fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			currentResp = nil
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			currentResp = nil
			continue

		case statusCode >= 400:
			// Caller must close the body
			resLog.Warn("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoffDelay is initial * 2^(attempt-1), capped at maxDelay, with +/- 10% jitter
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	var jitter time.Duration
	if span := int64(delay) / 5; span > 0 {
		jitter = time.Duration(rand.Int63n(span)) - (delay / 10)
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}
