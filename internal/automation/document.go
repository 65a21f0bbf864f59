package automation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Document is an immutable parsed DOM.
type Document struct {
	doc *goquery.Document
}

// ParseDocument parses rendered HTML.
func ParseDocument(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Has reports whether selector matches at least one node.
func (d *Document) Has(selector string) bool {
	if d == nil {
		return false
	}
	return d.doc.Find(selector).Length() > 0
}

// ReadText returns the whitespace-normalized text of the first match.
func (d *Document) ReadText(selector string) (string, bool) {
	if d == nil {
		return "", false
	}
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return normalize(sel.Text()), true
}

// ReadAttribute returns an attribute of the first match.
func (d *Document) ReadAttribute(selector, attr string) (string, bool) {
	if d == nil {
		return "", false
	}
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Attr(attr)
}

// ListElements returns every match in document order.
func (d *Document) ListElements(selector string) []Element {
	if d == nil {
		return nil
	}
	var out []Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, node{sel: s})
	})
	return out
}

// BodyText returns the visible body text.
func (d *Document) BodyText() string {
	if d == nil {
		return ""
	}
	body := d.doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return body.Text()
}

type node struct {
	sel *goquery.Selection
}

func (n node) Text() string {
	return normalize(n.sel.Text())
}

func (n node) Attribute(name string) (string, bool) {
	return n.sel.Attr(name)
}

func (n node) Next() (Element, bool) {
	next := n.sel.Next()
	if next.Length() == 0 {
		return nil, false
	}
	return node{sel: next}, true
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Snapshot holds the most recent Document for a session and implements Reader.
// Engines embed it and call Store after every navigation or wait.
type Snapshot struct {
	mu  sync.RWMutex
	doc *Document
	url string
}

// Store replaces the current snapshot.
func (s *Snapshot) Store(doc *Document, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.url = url
}

// Reset clears the snapshot, typically before a new navigation.
func (s *Snapshot) Reset() {
	s.Store(nil, "")
}

// Current returns the stored document, which may be nil.
func (s *Snapshot) Current() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// ReadText implements Reader.
func (s *Snapshot) ReadText(selector string) (string, bool) {
	return s.Current().ReadText(selector)
}

// ReadAttribute implements Reader.
func (s *Snapshot) ReadAttribute(selector, attr string) (string, bool) {
	return s.Current().ReadAttribute(selector, attr)
}

// ListElements implements Reader.
func (s *Snapshot) ListElements(selector string) []Element {
	return s.Current().ListElements(selector)
}

// BodyText implements Reader.
func (s *Snapshot) BodyText() string {
	return s.Current().BodyText()
}

// URL implements Reader.
func (s *Snapshot) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}
