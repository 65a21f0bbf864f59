package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
)

func TestScriptedNavigation(t *testing.T) {
	t.Parallel()

	e := New()
	e.Script("https://a.example/",
		Page{Err: automation.ErrTimeout},
		Page{HTML: "<h1>ok</h1>"},
	)
	ctx := context.Background()
	s, err := e.OpenSession(ctx)
	require.NoError(t, err)

	err = s.Navigate(ctx, "https://a.example/", time.Second)
	require.ErrorIs(t, err, automation.ErrTimeout)

	require.NoError(t, s.Navigate(ctx, "https://a.example/", time.Second))
	require.NoError(t, s.WaitForSelector(ctx, "h1", time.Second))
	text, ok := s.ReadText("h1")
	require.True(t, ok)
	assert.Equal(t, "ok", text)
	assert.Equal(t, "https://a.example/", s.URL())
	assert.Equal(t, 2, e.Visits("https://a.example/"))

	err = s.WaitForSelector(ctx, ".absent", time.Second)
	require.ErrorIs(t, err, automation.ErrTimeout)

	err = s.Navigate(ctx, "https://unknown.example/", time.Second)
	require.ErrorIs(t, err, automation.ErrNavigation)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	stats := e.Stats()
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 1, stats.Closed)
}

func TestDelayBeyondTimeout(t *testing.T) {
	t.Parallel()

	e := New()
	e.Script("https://slow.example/", Page{HTML: "<p/>", Delay: time.Minute})
	s, err := e.OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	err = s.Navigate(context.Background(), "https://slow.example/", 10*time.Millisecond)
	require.ErrorIs(t, err, automation.ErrTimeout)
}

func TestFailOpen(t *testing.T) {
	t.Parallel()

	e := New()
	e.FailOpen(errors.New("chrome missing"))
	_, err := e.OpenSession(context.Background())
	require.ErrorIs(t, err, automation.ErrUnavailable)
}
