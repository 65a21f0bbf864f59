package static

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
	collyfetcher "github.com/JakeFAU/vehicle-listing-scraper/internal/fetcher/colly"
)

type fakeFetcher struct {
	body    string
	err     error
	headers http.Header
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, headers http.Header) (collyfetcher.Response, error) {
	f.headers = headers
	if f.err != nil {
		return collyfetcher.Response{}, f.err
	}
	if err := ctx.Err(); err != nil {
		return collyfetcher.Response{}, err
	}
	return collyfetcher.Response{URL: url, StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

func TestNavigateAndRead(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{body: `<html><body><h1>2021 Honda Civic</h1></body></html>`}
	engine := New(fetcher, "static-agent")
	s, err := engine.OpenSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Navigate(context.Background(), "https://cars.example/d/1", time.Second))
	assert.Equal(t, "static-agent", fetcher.headers.Get("User-Agent"))
	assert.NotEmpty(t, fetcher.headers.Get("Accept-Language"))

	require.NoError(t, s.WaitForSelector(context.Background(), "h1", time.Second))
	text, ok := s.ReadText("h1")
	require.True(t, ok)
	assert.Equal(t, "2021 Honda Civic", text)

	err = s.WaitForSelector(context.Background(), ".price", time.Second)
	require.ErrorIs(t, err, automation.ErrTimeout)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Navigate(context.Background(), "https://cars.example/d/1", time.Second), automation.ErrClosed)
}

func TestNavigateClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: automation.ErrTimeout},
		{name: "server error", err: &collyfetcher.StatusError{URL: "u", StatusCode: 503}, want: automation.ErrNavigation},
		{name: "throttled", err: &collyfetcher.StatusError{URL: "u", StatusCode: 429}, want: automation.ErrNavigation},
		{name: "sold listing", err: &collyfetcher.StatusError{URL: "u", StatusCode: 404}, want: automation.ErrPageGone},
		{name: "removed listing", err: &collyfetcher.StatusError{URL: "u", StatusCode: 410}, want: automation.ErrPageGone},
		{name: "other", err: errors.New("connection reset"), want: automation.ErrNavigation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(&fakeFetcher{err: tc.err}, "").OpenSession(context.Background())
			require.NoError(t, err)
			err = s.Navigate(context.Background(), "https://cars.example/", time.Second)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNavigateCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(&fakeFetcher{err: context.Canceled}, "").OpenSession(ctx)
	require.NoError(t, err)
	cancel()
	err = s.Navigate(ctx, "https://cars.example/", time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, automation.ErrNavigation)
}

func TestOpenSessionWithoutFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "").OpenSession(context.Background())
	require.ErrorIs(t, err, automation.ErrUnavailable)
}
