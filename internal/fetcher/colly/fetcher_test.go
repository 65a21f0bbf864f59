package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBodyAndAllowsRevisit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Lang", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte("<h1>hello</h1>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: time.Second})
	headers := http.Header{"Accept-Language": {"en-US"}}
	for range 2 {
		resp, err := f.Fetch(context.Background(), srv.URL, headers)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "<h1>hello</h1>", string(resp.Body))
		assert.Equal(t, "en-US", resp.Headers.Get("X-Lang"))
	}
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), srv.URL, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchImage(t *testing.T) {
	t.Parallel()

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		assert.Contains(t, r.Header.Get("Accept"), "image/")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	f := New(Config{})
	body, err := f.FetchImage(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, png, body)

	_, err = f.FetchImage(context.Background(), srv.URL+"/empty")
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, http.Header{"X-Trace": {"yes"}}, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	target := mustParseURL(t, "https://example.com")
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: target},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden, Request: &colly.Request{URL: target}}, errors.New("Forbidden"))
	var se *StatusError
	require.ErrorAs(t, fetchErr, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
