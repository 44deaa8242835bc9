package offgrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBodyTooLarge fails a fetch whose body exceeds storage.maxBody, so a
// truncated payload can never be cached.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Fetcher is the network primitive: one attempt, a full response or an error.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

type httpFetcher struct {
	client  *http.Client
	maxBody int64
}

func newHTTPFetcher(timeout time.Duration, maxBody int64) *httpFetcher {
	return &httpFetcher{client: &http.Client{Timeout: timeout}, maxBody: maxBody}
}

func (f *httpFetcher) Fetch(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), body)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if f.maxBody > 0 {
		rd = io.LimitReader(resp.Body, f.maxBody+1)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", r.URL, err)
	}
	if f.maxBody > 0 && int64(len(b)) > f.maxBody {
		return nil, fmt.Errorf("%s: %w", r.URL, ErrBodyTooLarge)
	}

	h := cloneHeader(resp.Header)
	h.Del("Content-Length")
	return &Response{Status: resp.StatusCode, Header: h, Body: b, Source: sourceNetwork}, nil
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		dst.Del(k)
	}
}
