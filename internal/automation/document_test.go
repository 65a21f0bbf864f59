package automation

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><script>var x = "hidden";</script></head><body>
<h1>  2024 Toyota
  Camry </h1>
<dl><dt>Exterior color</dt><dd>Blue</dd><dt>Engine</dt><dd>2.5L I4</dd></dl>
<img data-testid="photo" src="https://img.example/a.jpg">
<img data-testid="photo" data-src="https://img.example/b.jpg">
</body></html>`

func TestDocumentReads(t *testing.T) {
	t.Parallel()

	doc, err := ParseDocument(samplePage)
	require.NoError(t, err)

	text, ok := doc.ReadText("h1")
	require.True(t, ok)
	assert.Equal(t, "2024 Toyota Camry", text)

	_, ok = doc.ReadText(".missing")
	assert.False(t, ok)

	src, ok := doc.ReadAttribute(`img[data-testid="photo"]`, "src")
	require.True(t, ok)
	assert.Equal(t, "https://img.example/a.jpg", src)

	imgs := doc.ListElements(`img[data-testid="photo"]`)
	require.Len(t, imgs, 2)
	_, ok = imgs[1].Attribute("src")
	assert.False(t, ok)
	lazy, ok := imgs[1].Attribute("data-src")
	require.True(t, ok)
	assert.Equal(t, "https://img.example/b.jpg", lazy)

	terms := doc.ListElements("dl dt")
	require.Len(t, terms, 2)
	value, ok := terms[1].Next()
	require.True(t, ok)
	assert.Equal(t, "2.5L I4", value.Text())

	assert.True(t, doc.Has("dl"))
	assert.NotContains(t, doc.BodyText(), "hidden")
}

func TestNilDocumentIsEmpty(t *testing.T) {
	t.Parallel()

	var snap Snapshot
	_, ok := snap.ReadText("h1")
	assert.False(t, ok)
	assert.Empty(t, snap.ListElements("img"))
	assert.Empty(t, snap.BodyText())
	assert.Empty(t, snap.URL())

	doc, err := ParseDocument("<p>hi</p>")
	require.NoError(t, err)
	snap.Store(doc, "https://example.com/")
	text, ok := snap.ReadText("p")
	require.True(t, ok)
	assert.Equal(t, "hi", text)
	assert.Equal(t, "https://example.com/", snap.URL())

	snap.Reset()
	_, ok = snap.ReadText("p")
	assert.False(t, ok)
}

func TestStealthDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "custom", UserAgentOrRandom("custom"))
	assert.Contains(t, userAgents, UserAgentOrRandom(""))
	h := BrowserHeaders()
	assert.Equal(t, "en-US,en;q=0.9", h.Get("Accept-Language"))
	assert.IsType(t, http.Header{}, h)
}

func TestStatusErr(t *testing.T) {
	t.Parallel()

	for status, want := range map[int]error{
		http.StatusNotFound:            ErrPageGone,
		http.StatusGone:                ErrPageGone,
		http.StatusForbidden:           ErrPageGone,
		http.StatusRequestTimeout:      ErrNavigation,
		http.StatusTooManyRequests:     ErrNavigation,
		http.StatusBadGateway:          ErrNavigation,
		http.StatusServiceUnavailable:  ErrNavigation,
		http.StatusInternalServerError: ErrNavigation,
	} {
		assert.ErrorIs(t, StatusErr(status), want, "status %d", status)
	}
}
