package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/config"
	"github.com/brettbedarf/tempofs/internal/util"
	"github.com/brettbedarf/tempofs/metrics"
)

// drainLimit bounds how much of an unread body is discarded to keep the
// connection reusable.
const drainLimit = 64 * 1024

var errTooManyRedirects = errors.New("stopped after too many redirects")

// HTTPProvider owns the client, connection pool and rate limiter shared by
// every [HTTPSource] it creates.
type HTTPProvider struct {
	cfg     *config.Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider builds a provider from cfg. All requests are bounded by
// cfg.RequestTimeout and follow at most cfg.MaxRedirects redirects.
func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	// Byte offsets must refer to the stored representation
	transport.DisableCompression = true

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeoutDuration(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w (%d)", errTooManyRedirects, maxRedirects)
			}
			return nil
		},
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HTTPProvider{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, max(cfg.RequestBurst, 1)),
	}
}

// NewSource validates the entry's URL and returns a source for it.
func (p *HTTPProvider) NewSource(entry *tempofs.Entry) (tempofs.Source, error) {
	u, err := url.Parse(strings.TrimSpace(entry.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", entry.URL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme != "http" && scheme != "https":
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, entry.URL)
	case u.Host == "":
		return nil, fmt.Errorf("missing host in %q", entry.URL)
	case u.User != nil:
		return nil, fmt.Errorf("credentials in url %q are not supported; use headers", entry.URL)
	}

	return &HTTPSource{
		provider: p,
		url:      u.String(),
		headers:  entry.Headers,
	}, nil
}

// HTTPSource implements [tempofs.Source] for one http(s) URL.
type HTTPSource struct {
	provider *HTTPProvider
	url      string
	headers  map[string]string
}

var _ tempofs.Source = (*HTTPSource)(nil)

func (s *HTTPSource) URL() string {
	return s.url
}

func (s *HTTPSource) newRequest(ctx context.Context, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept-Encoding", "identity")
	if ua := s.provider.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	// Add custom headers
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// do waits for the rate limiter then sends req, recording the round trip.
func (s *HTTPSource) do(req *http.Request, kind string) (*http.Response, error) {
	if err := s.provider.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.provider.client.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.RecordRemoteRequest(kind, status, time.Since(start))
	return resp, err
}

// Probe issues a HEAD request and reads Content-Length, Accept-Ranges and
// Last-Modified. Servers that reject HEAD are probed with a one byte GET.
func (s *HTTPSource) Probe(ctx context.Context) (*tempofs.ProbeResult, error) {
	logger := util.GetLogger("HTTPSource.Probe")

	req, err := s.newRequest(ctx, http.MethodHead)
	if err != nil {
		return nil, s.probeErr(0, err)
	}
	resp, err := s.do(req, metrics.KindProbe)
	if err != nil {
		return nil, s.probeErr(0, err)
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		logger.Debug().Str("url", s.url).Int("status", resp.StatusCode).Msg("HEAD rejected, probing with ranged GET")
		return s.probeWithGet(ctx)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, s.probeErr(resp.StatusCode, nil)
	}

	res := &tempofs.ProbeResult{
		Size:         contentLength(resp),
		AcceptRanges: resp.Header.Get("Accept-Ranges"),
		LastModified: lastModified(resp),
	}
	support, recognized := ParseAcceptRanges(res.AcceptRanges)
	if !recognized {
		logger.Warn().Str("url", s.url).Str("accept_ranges", res.AcceptRanges).
			Msg("Unknown Accept-Ranges value; treating resource as not range capable")
	}
	res.Support = support

	logger.Debug().Str("url", s.url).Int64("size", res.Size).Stringer("ranges", res.Support).Msg("Probed")
	return res, nil
}

func (s *HTTPSource) probeWithGet(ctx context.Context) (*tempofs.ProbeResult, error) {
	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, s.probeErr(0, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.do(req, metrics.KindProbe)
	if err != nil {
		return nil, s.probeErr(0, err)
	}
	defer drainClose(resp.Body)

	res := &tempofs.ProbeResult{
		Size:         tempofs.UnknownSize,
		AcceptRanges: resp.Header.Get("Accept-Ranges"),
		LastModified: lastModified(resp),
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, s.probeErr(resp.StatusCode, err)
		}
		res.Size = cr.Total
		res.Support = tempofs.RangeSupported
	case http.StatusOK:
		res.Size = contentLength(resp)
		res.Support = tempofs.RangeUnsupported
	default:
		return nil, s.probeErr(resp.StatusCode, nil)
	}
	return res, nil
}

func (s *HTTPSource) probeErr(status int, err error) error {
	kind := tempofs.ProbeUnreachable
	if errors.Is(err, errTooManyRedirects) {
		kind = tempofs.ProbeTooManyRedirects
	}
	return &tempofs.ProbeError{Kind: kind, URL: s.url, Status: status, Err: err}
}

// ReadRange requests bytes [offset, offset+length) with an inclusive-end
// Range header and validates the answer.
func (s *HTTPSource) ReadRange(ctx context.Context, offset, length int64) (*tempofs.RangeResult, error) {
	logger := util.GetLogger("HTTPSource.ReadRange")

	if length <= 0 {
		return &tempofs.RangeResult{TotalSize: tempofs.UnknownSize}, nil
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: %d", tempofs.ErrInvalidOffset, offset)
	}
	length = min(length, math.MaxInt64-offset)
	rerr := func(kind tempofs.ReadErrorKind, status int, err error) error {
		return &tempofs.ReadError{Kind: kind, URL: s.url, Offset: offset, Length: length, Status: status, Err: err}
	}

	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, rerr(tempofs.ReadTransient, 0, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := s.do(req, metrics.KindRange)
	if err != nil {
		return nil, rerr(tempofs.ReadTransient, 0, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			logger.Error().Err(err).Str("url", s.url).Msg("Partial response without a usable Content-Range")
			return nil, rerr(tempofs.ReadProtocolViolation, resp.StatusCode, err)
		}
		if cr.Start != offset {
			err := fmt.Errorf("partial response starts at %d, requested %d", cr.Start, offset)
			logger.Error().Err(err).Str("url", s.url).Msg("Partial response does not match requested range")
			return nil, rerr(tempofs.ReadProtocolViolation, resp.StatusCode, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, length))
		if err != nil {
			return nil, rerr(tempofs.ReadTransient, resp.StatusCode, err)
		}
		return &tempofs.RangeResult{Data: data, TotalSize: cr.Total}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		res := &tempofs.RangeResult{TotalSize: tempofs.UnknownSize}
		if cr, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil {
			res.TotalSize = cr.Total
		}
		logger.Debug().Str("url", s.url).Int64("offset", offset).Msg("Range not satisfiable; reporting EOF")
		return res, nil

	case http.StatusOK:
		return s.sliceFullResponse(resp, offset, length, rerr)

	default:
		return nil, rerr(tempofs.ReadTransient, resp.StatusCode, nil)
	}
}

// sliceFullResponse handles a server that ignored the Range header. The body
// is sliced locally only when it fits MaxFullResponseSize.
func (s *HTTPSource) sliceFullResponse(
	resp *http.Response,
	offset, length int64,
	rerr func(tempofs.ReadErrorKind, int, error) error,
) (*tempofs.RangeResult, error) {
	logger := util.GetLogger("HTTPSource.ReadRange")
	limit := s.provider.cfg.MaxFullResponseSize

	if limit <= 0 || resp.ContentLength > limit {
		err := fmt.Errorf("full body of %d bytes exceeds local slicing limit %d", resp.ContentLength, limit)
		logger.Error().Err(err).Str("url", s.url).Msg("Server ignored Range header")
		return nil, rerr(tempofs.ReadUnexpectedFullResponse, resp.StatusCode, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, rerr(tempofs.ReadTransient, resp.StatusCode, err)
	}
	if int64(len(body)) > limit {
		err := fmt.Errorf("full body exceeds local slicing limit %d", limit)
		logger.Error().Err(err).Str("url", s.url).Msg("Server ignored Range header")
		return nil, rerr(tempofs.ReadUnexpectedFullResponse, resp.StatusCode, err)
	}

	logger.Warn().Str("url", s.url).Int("body", len(body)).
		Msg("Server ignored Range header; slicing full response locally")

	total := int64(len(body))
	res := &tempofs.RangeResult{TotalSize: total, Sliced: true}
	if offset < total {
		end := min(offset+length, total)
		res.Data = bytes.Clone(body[offset:end])
	}
	return res, nil
}

// FetchAll downloads the complete body. A configured MaxMaterializeSize is
// enforced before and during the transfer.
func (s *HTTPSource) FetchAll(ctx context.Context) ([]byte, error) {
	ferr := func(status int, err error) error {
		return &tempofs.FetchError{URL: s.url, Status: status, Err: err}
	}

	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, ferr(0, err)
	}
	resp, err := s.do(req, metrics.KindFetch)
	if err != nil {
		return nil, ferr(0, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, ferr(resp.StatusCode, nil)
	}

	var body []byte
	if limit := s.provider.cfg.MaxMaterializeSize; limit > 0 {
		if resp.ContentLength > limit {
			return nil, ferr(0, fmt.Errorf("%w: %d > %d", tempofs.ErrBodyTooLarge, resp.ContentLength, limit))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err == nil && int64(len(body)) > limit {
			return nil, ferr(0, fmt.Errorf("%w: more than %d bytes", tempofs.ErrBodyTooLarge, limit))
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, ferr(0, err)
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, ferr(0, io.ErrUnexpectedEOF)
	}
	return body, nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit)) //nolint:errcheck // best-effort drain for connection reuse
	body.Close()
}
