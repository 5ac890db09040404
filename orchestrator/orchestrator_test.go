package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukz/vagas-scrapy-sub001/config"
	"github.com/edukz/vagas-scrapy-sub001/fetcher"
	"github.com/edukz/vagas-scrapy-sub001/selectors"
)

// fakeJob is the minimal listing content the fake page/fetcher round-trips
// through the extraction pipeline.
type fakeJob struct {
	title, link, company string
}

// fakeElement tags which field selector produced it and which job it
// belongs to, so fakePage.Text/Attribute can answer without any real DOM.
type fakeElement struct {
	jobIndex int
	selector string
}

type fakePage struct {
	jobs   []fakeJob
	closed bool
}

func (p *fakePage) Query(selector string, kind fetcher.ElementKind) ([]fetcher.Element, error) {
	out := make([]fetcher.Element, len(p.jobs))
	for i := range p.jobs {
		out[i] = fakeElement{jobIndex: i, selector: selector}
	}
	return out, nil
}

func (p *fakePage) Text(el fetcher.Element) string {
	fe := el.(fakeElement)
	j := p.jobs[fe.jobIndex]
	switch fe.selector {
	case "title":
		return j.title
	case "company":
		return j.company
	default:
		return ""
	}
}

func (p *fakePage) Attribute(el fetcher.Element, name string) (string, bool) {
	fe := el.(fakeElement)
	if fe.selector != "link" {
		return "", false
	}
	j := p.jobs[fe.jobIndex]
	return j.link, j.link != ""
}

func (p *fakePage) Goto(ctx context.Context, url string) error { return nil }
func (p *fakePage) Close() error                                { p.closed = true; return nil }

// fakeFetcher serves canned pages per URL and can be told to fail the first
// N attempts at a URL (transient) or fail forever (to exercise the circuit
// breaker), counting every call it receives.
type fakeFetcher struct {
	mu         sync.Mutex
	pages      map[string][]fakeJob
	failUntil  map[string]int
	alwaysFail map[string]bool
	calls      map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]fakeJob), failUntil: make(map[string]int),
		alwaysFail: make(map[string]bool), calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (fetcher.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++

	if f.alwaysFail[url] {
		return nil, errors.New("fake: permanent failure")
	}
	if n := f.failUntil[url]; n > 0 {
		f.failUntil[url] = n - 1
		return nil, errors.New("fake: transient failure")
	}
	return &fakePage{jobs: f.pages[url]}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// testExtractor wires only the three fields the fake page round-trips,
// leaving the rest of selectors.Fields unregistered (extractJobs skips
// whatever the extractor doesn't know about).
func testExtractor() *selectors.Extractor {
	ex := selectors.NewExtractor()
	ex.Register("title", selectors.NewField(selectors.ValidateNonEmpty,
		&selectors.Strategy{Expression: "title", Kind: selectors.KindCSS, BaseConfidence: 0.9}))
	ex.Register("link", selectors.NewField(selectors.ValidateJobLink,
		&selectors.Strategy{Expression: "link", Kind: selectors.KindAttribute, AttributeName: "href", BaseConfidence: 0.9}))
	ex.Register("company", selectors.NewField(selectors.ValidateNonEmpty,
		&selectors.Strategy{Expression: "company", Kind: selectors.KindCSS, BaseConfidence: 0.9}))
	return ex
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Scraping: config.ScrapingConfig{MaxPages: 1, Concurrency: 2, RequestsPerSecond: 1000, Burst: 1000},
		Cache:    config.CacheConfig{Dir: filepath.Join(dir, "cache"), MaxAge: time.Hour},
		Incremental: config.IncrementalConfig{
			CheckpointPath: filepath.Join(dir, "checkpoint.json"), EarlyStopThreshold: 0.3, HardFilterThreshold: 0.1,
		},
		Pool:    config.PoolConfig{MinSize: 1, MaxSize: 2, AcquireTimeout: 2 * time.Second},
		Logging: config.LoggingConfig{Dir: filepath.Join(dir, "logs")},
	}
}

func TestRunHappyPathExtractsAndDedups(t *testing.T) {
	ff := newFakeFetcher()
	ff.pages["https://boards.test/list"] = []fakeJob{
		{title: "Engenheiro de Dados", link: "https://x.com/vagas/1", company: "Acme"},
		{title: "Engenheiro de Dados", link: "https://x.com/vagas/1?utm_source=x", company: "Acme"}, // duplicate link
		{title: "Analista Financeiro", link: "https://x.com/vagas/2", company: "Globex"},
	}

	o, err := New(testConfig(t), ff, testExtractor(), "card", fetcher.KindCSS)
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), []Target{{URL: "https://boards.test/list"}})
	require.NoError(t, err)
	assert.Len(t, summary.Jobs, 2)
	assert.Equal(t, 2, summary.Metadata.Total)

	processed := o.reg.Summarize("scraper.jobs_processed", 0)
	require.Equal(t, 1, processed.Count)
	assert.Equal(t, float64(3), processed.Max) // 3 raw jobs extracted before dedup

	successRate := o.reg.Summarize("scraper.success_rate", 0)
	require.Equal(t, 1, successRate.Count)
	assert.Equal(t, float64(1), successRate.Max) // single page, no failures
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	ff := newFakeFetcher()
	url := "https://boards.test/flaky"
	ff.pages[url] = []fakeJob{{title: "Dev", link: "https://x.com/vagas/9", company: "Initech"}}
	ff.failUntil[url] = 2 // fails twice, succeeds on the 3rd attempt

	o, err := New(testConfig(t), ff, testExtractor(), "card", fetcher.KindCSS)
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), []Target{{URL: url}})
	require.NoError(t, err)
	require.Len(t, summary.Jobs, 1)
	assert.Equal(t, "Dev", summary.Jobs[0].Title)
	assert.Equal(t, 3, ff.callCount(url))
}

func TestRunCircuitOpenAbortsTargetPagination(t *testing.T) {
	ff := newFakeFetcher()
	url := "https://boards.test/down"
	ff.alwaysFail[url] = true

	cfg := testConfig(t)
	cfg.Scraping.MaxPages = 5
	cfg.Circuits.Default.FailureThreshold = 2
	cfg.Circuits.Default.RequestVolumeThreshold = 2

	o, err := New(cfg, ff, testExtractor(), "card", fetcher.KindCSS)
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), []Target{{URL: url}})
	require.NoError(t, err)
	assert.Empty(t, summary.Jobs)

	states := o.breakers.Snapshot()
	require.Contains(t, states, "scraping")
	assert.NotEqual(t, "CLOSED", string(states["scraping"]))
}

func TestRunIncrementalEarlyStopEndsPagination(t *testing.T) {
	ff := newFakeFetcher()
	url := "https://boards.test/paginated"
	jobs := []fakeJob{
		{title: "Engenheiro A", link: "https://x.com/vagas/a", company: "Acme"},
		{title: "Engenheiro B", link: "https://x.com/vagas/b", company: "Acme"},
	}
	ff.pages[url] = jobs
	ff.pages[url+"?page=2"] = jobs // identical content: zero new jobs on page 2
	ff.pages[url+"?page=3"] = jobs // never reached

	cfg := testConfig(t)
	cfg.Scraping.MaxPages = 3
	cfg.Incremental.EarlyStopThreshold = 0.3

	o, err := New(cfg, ff, testExtractor(), "card", fetcher.KindCSS)
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), []Target{{URL: url}})
	require.NoError(t, err)
	assert.Len(t, summary.Jobs, 2)
	assert.Equal(t, 1, ff.callCount(url))
	assert.Equal(t, 1, ff.callCount(url+"?page=2"))
	assert.Equal(t, 0, ff.callCount(url+"?page=3"))
}
