// Package fetcher defines the external Fetcher/Page boundary (spec §6).
//
// Grounded in the teacher's crawler.Fetcher interface (Fetch/Discover/
// Configure/Stats over a headless-browser-agnostic FetchResult), narrowed
// here to the query/text/attribute/goto/close capability set spec.md names
// explicitly, since the core never embeds a concrete browser driver
// (non-goal). A Page is not itself a selectors.PageQuerier (the kind and
// element types are distinct named types); the orchestrator adapts one to
// the other.
package fetcher

import "context"

// ElementKind mirrors selectors.Kind without importing that package, so
// fetcher stays a leaf dependency any adapter can implement without pulling
// in the extraction engine.
type ElementKind string

const (
	KindCSS       ElementKind = "css"
	KindXPath     ElementKind = "xpath"
	KindText      ElementKind = "text"
	KindAttribute ElementKind = "attribute"
)

// Element is an opaque handle into a fetched page's DOM, interpreted only by
// the Page implementation that produced it.
type Element any

// Page is the capability set the core consumes from whatever headless
// browser or HTTP client an integrator wires in (spec §6).
type Page interface {
	Query(selector string, kind ElementKind) ([]Element, error)
	Text(el Element) string
	Attribute(el Element, name string) (string, bool)
	Goto(ctx context.Context, url string) error
	Close() error
}

// Fetcher produces a Page for a URL. The core never constructs one
// directly; it is supplied by the integrator.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}
