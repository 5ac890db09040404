// Package selectors implements ordered, self-scoring extraction strategies
// with per-field validators (C7).
//
// Grounded in the teacher's strategies package for its enum-and-composition
// shape (FetchingStrategyType/ProcessingStrategyType style), generalized
// from fetch/processing/output composition into the concrete selector
// fallback spec.md's data model names: an ordered strategy list per field,
// reliability scored from outcome history. Concrete CSS/XPath strategy
// evaluation happens in the reference Fetcher adapter (fetcher/collyfetcher.go),
// backed by github.com/PuerkitoBio/goquery and github.com/antchfx/htmlquery,
// matching the teacher's go.mod; this package only holds the selector-kind
// enum, not the parsing libraries themselves.
package selectors

import (
	"sort"
	"sync"
	"time"
)

// Kind is the strategy's expression language.
type Kind string

const (
	KindCSS       Kind = "css"
	KindXPath     Kind = "xpath"
	KindText      Kind = "text"
	KindAttribute Kind = "attribute"
)

// Validator rejects values a strategy produced that don't look right for the
// field (spec §4.7).
type Validator func(value string) bool

// Strategy is a single extraction attempt definition plus its running
// outcome history.
type Strategy struct {
	Expression     string
	Kind           Kind
	AttributeName  string // only used when Kind == KindAttribute
	BaseConfidence float64

	mu            sync.Mutex
	successCount  int
	failCount     int
	lastSuccessAt time.Time
}

func (s *Strategy) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
	s.lastSuccessAt = time.Now()
}

func (s *Strategy) recordFail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount++
}

// ReliabilityScore computes success_rate × base_confidence × recency_factor,
// recomputed on every read rather than persisted (spec §3 invariant).
func (s *Strategy) ReliabilityScore() float64 {
	s.mu.Lock()
	successCount, failCount, lastSuccess := s.successCount, s.failCount, s.lastSuccessAt
	s.mu.Unlock()

	total := successCount + failCount
	if total == 0 {
		return s.BaseConfidence * 0.5
	}
	successRate := float64(successCount) / float64(total)

	recency := 0.5
	if !lastSuccess.IsZero() {
		days := time.Since(lastSuccess).Hours() / 24
		recency = max(0.5, 1-0.1*days)
	}
	return successRate * s.BaseConfidence * recency
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Element is the minimal page-query result the Fetcher boundary supplies;
// selectors never construct one, only receive it from a Page.
type Element any

// PageQuerier is the subset of the Fetcher's Page boundary selectors needs:
// evaluate a strategy's expression against the page and return matches.
type PageQuerier interface {
	Query(expression string, kind Kind) ([]Element, error)
	Text(el Element) string
	Attribute(el Element, name string) (string, bool)
}

// FieldStrategies holds the ordered strategy list and validator for one
// logical field (title, link, company, ...).
type FieldStrategies struct {
	mu         sync.RWMutex
	strategies []*Strategy
	validate   Validator

	attempts   int64
	successes  int64
}

func NewField(validate Validator, strategies ...*Strategy) *FieldStrategies {
	return &FieldStrategies{strategies: strategies, validate: validate}
}

func (f *FieldStrategies) AddStrategy(s *Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies = append(f.strategies, s)
}

func (f *FieldStrategies) sorted() []*Strategy {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := append([]*Strategy(nil), f.strategies...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReliabilityScore() > out[j].ReliabilityScore()
	})
	return out
}

// Extract tries strategies in reliability order, returning the first
// validated value (spec §4.7). fallbackLevel is the 0-based index of the
// winning strategy, reported by the caller for the fallback_level metric.
func (f *FieldStrategies) Extract(page PageQuerier) (value string, fallbackLevel int, ok bool) {
	for i, s := range f.sorted() {
		f.mu.Lock()
		f.attempts++
		f.mu.Unlock()

		v, valid := f.tryOne(page, s)
		if valid {
			s.recordSuccess()
			f.mu.Lock()
			f.successes++
			f.mu.Unlock()
			return v, i, true
		}
		s.recordFail()
	}
	return "", -1, false
}

func (f *FieldStrategies) tryOne(page PageQuerier, s *Strategy) (string, bool) {
	elems, err := page.Query(s.Expression, s.Kind)
	if err != nil || len(elems) == 0 {
		return "", false
	}
	el := elems[0]

	var value string
	switch s.Kind {
	case KindAttribute:
		v, present := page.Attribute(el, s.AttributeName)
		if !present {
			return "", false
		}
		value = v
	default:
		value = page.Text(el)
	}

	if value == "" {
		return "", false
	}
	if f.validate != nil && !f.validate(value) {
		return "", false
	}
	return value, true
}

// ExtractMultiple is analogous to Extract but tries up to topK strategies
// and returns every value that validated.
func (f *FieldStrategies) ExtractMultiple(page PageQuerier, topK int) []string {
	strategies := f.sorted()
	if topK > 0 && topK < len(strategies) {
		strategies = strategies[:topK]
	}
	var values []string
	for _, s := range strategies {
		v, valid := f.tryOne(page, s)
		if valid {
			s.recordSuccess()
			values = append(values, v)
		} else {
			s.recordFail()
		}
	}
	return values
}

// Attempts and Successes expose fallback.selector_attempts /
// fallback.selector_successes counters for the caller to publish to C2.
func (f *FieldStrategies) Attempts() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attempts
}

func (f *FieldStrategies) Successes() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.successes
}

// Extractor groups a FieldStrategies per logical field.
type Extractor struct {
	fields map[string]*FieldStrategies
	mu     sync.RWMutex
}

func NewExtractor() *Extractor {
	return &Extractor{fields: make(map[string]*FieldStrategies)}
}

func (e *Extractor) Register(field string, fs *FieldStrategies) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields[field] = fs
}

func (e *Extractor) Field(field string) (*FieldStrategies, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fs, ok := e.fields[field]
	return fs, ok
}

// Fields enumerates the logical fields spec.md names (spec §4.7).
var Fields = []string{
	"title", "link", "company", "location", "description", "salary",
	"requirements", "benefits", "experience", "work_mode", "publish_date",
}
