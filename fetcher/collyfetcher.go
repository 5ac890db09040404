package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
)

func byteReader(b []byte) io.Reader { return bytes.NewReader(b) }

// CollyFetcher is an optional reference Fetcher implementation backed by
// gocolly/colly, used only by integration tests and the example CLI — never
// imported by the core C1-C11 packages, which depend solely on the Fetcher
// interface (spec §6/§9).
type CollyFetcher struct {
	UserAgent string
}

func NewCollyFetcher(userAgent string) *CollyFetcher {
	return &CollyFetcher{UserAgent: userAgent}
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	c := colly.NewCollector()
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}

	var (
		mu   sync.Mutex
		body []byte
		errs error
	)
	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = err
	})

	if err := c.Visit(url); err != nil {
		return nil, err
	}
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if errs != nil {
		return nil, errs
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("collyfetcher: empty response from %s", url)
	}
	return newCollyPage(body)
}

// collyPage implements Page over a static HTML buffer, dual-parsed for CSS
// (goquery) and XPath (antchfx/htmlquery) strategy kinds — the same two
// parsing libraries the selectors package's strategy Kind enum names.
type collyPage struct {
	raw  []byte
	doc  *goquery.Document
	xdoc *html.Node
}

func newCollyPage(body []byte) (*collyPage, error) {
	doc, err := goquery.NewDocumentFromReader(byteReader(body))
	if err != nil {
		return nil, err
	}
	xdoc, err := htmlquery.Parse(byteReader(body))
	if err != nil {
		return nil, err
	}
	return &collyPage{raw: body, doc: doc, xdoc: xdoc}, nil
}

func (p *collyPage) Query(selector string, kind ElementKind) ([]Element, error) {
	switch kind {
	case KindXPath:
		nodes, err := htmlquery.QueryAll(p.xdoc, selector)
		if err != nil {
			return nil, err
		}
		out := make([]Element, len(nodes))
		for i, n := range nodes {
			out[i] = n
		}
		return out, nil
	default:
		sel := p.doc.Find(selector)
		out := make([]Element, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
		return out, nil
	}
}

func (p *collyPage) Text(el Element) string {
	switch v := el.(type) {
	case *goquery.Selection:
		return v.Text()
	case *html.Node:
		return htmlquery.InnerText(v)
	default:
		return ""
	}
}

func (p *collyPage) Attribute(el Element, name string) (string, bool) {
	switch v := el.(type) {
	case *goquery.Selection:
		return v.Attr(name)
	case *html.Node:
		val := htmlquery.SelectAttr(v, name)
		return val, val != ""
	default:
		return "", false
	}
}

func (p *collyPage) Goto(ctx context.Context, url string) error {
	return fmt.Errorf("collyfetcher: in-page navigation not supported, fetch a new page instead")
}

func (p *collyPage) Close() error { return nil }
