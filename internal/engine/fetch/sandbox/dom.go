package sandbox

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// mediaTags can be paused by scripts.
var mediaTags = map[string]bool{"video": true, "audio": true}

// DOM exposes a loaded goquery document to sandboxed scripts. All access goes
// through the mutex because several runtimes may share one page.
type DOM struct {
	mu      sync.Mutex
	doc     *goquery.Document
	changes []DOMChange
	paused  int
	stopped bool
	onStop  func()
}

// NewDOM wraps doc. onStop, if set, runs when a script calls window.stop().
func NewDOM(doc *goquery.Document, onStop func()) *DOM {
	if doc == nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	}
	return &DOM{doc: doc, onStop: onStop}
}

// Element is a single node of the document.
type Element struct {
	dom *DOM
	sel *goquery.Selection
}

// Query returns every element matching selector in document order. Invalid
// selectors match nothing.
func (d *DOM) Query(selector string) []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := d.doc.Find(selector)
	elements := make([]*Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, &Element{dom: d, sel: s})
	})
	return elements
}

// Count returns the number of elements matching selector.
func (d *DOM) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector).Length()
}

// Title returns the document title.
func (d *DOM) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// HTML renders the current document.
func (d *DOM) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

// Stop records a window.stop() call and notifies the owner.
func (d *DOM) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.changes = append(d.changes, DOMChange{Type: "stop"})
	onStop := d.onStop
	d.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// Stopped reports whether any script called window.stop().
func (d *DOM) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Paused returns how many media elements were paused.
func (d *DOM) Paused() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Changes returns accumulated DOM changes
func (d *DOM) Changes() []DOMChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DOMChange(nil), d.changes...)
}

func (d *DOM) since(n int) []DOMChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= len(d.changes) {
		return nil
	}
	return append([]DOMChange(nil), d.changes[n:]...)
}

func (d *DOM) changeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.changes)
}

// TagName returns the lower-case element name.
func (e *Element) TagName() string {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()
	return goquery.NodeName(e.sel)
}

// ID returns the id attribute.
func (e *Element) ID() string {
	return e.Attribute("id")
}

// ClassName returns the class attribute.
func (e *Element) ClassName() string {
	return e.Attribute("class")
}

// Text returns the combined text of the element and its descendants.
func (e *Element) Text() string {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()
	return e.sel.Text()
}

// Attribute retrieves attribute value
func (e *Element) Attribute(name string) string {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()
	return e.sel.AttrOr(name, "")
}

// SetAttribute sets attribute value and records change
func (e *Element) SetAttribute(name, value string) {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()
	e.sel.SetAttr(name, value)
	e.dom.changes = append(e.dom.changes, DOMChange{
		Type: "set_attribute", Tag: goquery.NodeName(e.sel), Name: name, Value: value,
	})
}

// Pausable reports whether the element is a media element.
func (e *Element) Pausable() bool {
	return mediaTags[e.TagName()]
}

// Pause marks a media element paused. It is a no-op for other elements.
func (e *Element) Pause() {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()
	tag := goquery.NodeName(e.sel)
	if !mediaTags[tag] {
		return
	}
	e.sel.SetAttr("data-paused", "true")
	e.sel.RemoveAttr("autoplay")
	e.dom.paused++
	e.dom.changes = append(e.dom.changes, DOMChange{Type: "pause", Tag: tag})
}

// Remove detaches the element from the document.
func (e *Element) Remove() {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()
	tag := goquery.NodeName(e.sel)
	e.sel.Remove()
	e.dom.changes = append(e.dom.changes, DOMChange{Type: "remove", Tag: tag})
}

// Query returns descendants of the element matching selector.
func (e *Element) Query(selector string) []*Element {
	e.dom.mu.Lock()
	defer e.dom.mu.Unlock()

	found := e.sel.Find(selector)
	elements := make([]*Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, &Element{dom: e.dom, sel: s})
	})
	return elements
}
