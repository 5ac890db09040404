// Package dedup implements cross-run identity resolution over accumulated
// job records (C10): exact link match, content hash, title+company fuzzy
// match, and Jaccard title similarity, evaluated in order of cost and
// specificity per spec §4.10.
//
// No direct teacher file does fuzzy record matching; this package is
// grounded in the teacher's normalization conventions (the same
// lowercase/whitespace-collapse approach incremental.normalize uses) and
// implemented fresh in that idiom using only the standard library, since
// no pack example wires a fuzzy-matching or Unicode-normalization library
// for this specific purpose (see DESIGN.md).
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"github.com/edukz/vagas-scrapy-sub001/models"
)

// deniedQueryParams are stripped during URL normalization (spec §4.10).
var deniedQueryParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "ref": {}, "src": {},
}

// NormalizeURL lowercases scheme/host, strips denylisted query params, and
// trims a trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	q := u.Query()
	for k := range q {
		if _, denied := deniedQueryParams[k]; denied {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// normalizeText lowercases, strips diacritics, and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.Is(unicode.Mn, r) { // combining marks from a decomposed rune
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(stripDiacritic(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// stripDiacritic maps a handful of common accented Latin runes to their
// bare form. Go's stdlib has no built-in NFD folding without golang.org/x/text
// (a dependency already in the module's indirect graph via goquery's stack,
// but not imported directly here to keep this package dependency-free — see
// DESIGN.md); this covers the accents that actually occur in Portuguese job
// postings.
func stripDiacritic(r rune) rune {
	switch r {
	case 'á', 'à', 'â', 'ã', 'ä':
		return 'a'
	case 'é', 'è', 'ê', 'ë':
		return 'e'
	case 'í', 'ì', 'î', 'ï':
		return 'i'
	case 'ó', 'ò', 'ô', 'õ', 'ö':
		return 'o'
	case 'ú', 'ù', 'û', 'ü':
		return 'u'
	case 'ç':
		return 'c'
	default:
		return r
	}
}

// ContentHash is H(normalized_title ∥ normalized_company ∥ normalized_location).
func ContentHash(j models.JobRecord) string {
	norm := normalizeText(j.Title) + "|" + normalizeText(j.Company) + "|" + normalizeText(j.Location)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:32]
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

const titleSimilarityThreshold = 0.85

// Stats reports the dedup.* counters spec §4.10 names, broken down by which
// signal caught each removed duplicate.
type Stats struct {
	Input                  int
	Output                 int
	RemovedByLink          int
	RemovedByContentHash   int
	RemovedByTitleCompany  int
	RemovedBySimilarity    int
}

// Deduplicator accumulates job records across a run, keeping the order jobs
// were first seen and rejecting anything that resolves to an identity
// already in the set.
type Deduplicator struct {
	seenLinks   map[string]struct{}
	seenContent map[string]struct{}
	kept        []models.JobRecord
	stats       Stats
}

func New() *Deduplicator {
	return &Deduplicator{
		seenLinks:   make(map[string]struct{}),
		seenContent: make(map[string]struct{}),
	}
}

// Add evaluates j against every accumulated record using the signals in
// order of cost (spec §4.10) and, if it is not a duplicate, appends it and
// returns true. The winning signal (first positive match) is tallied into
// Stats for reporting.
func (d *Deduplicator) Add(j models.JobRecord) bool {
	d.stats.Input++

	link := NormalizeURL(j.Link)
	if _, dup := d.seenLinks[link]; dup {
		d.stats.RemovedByLink++
		return false
	}

	hash := ContentHash(j)
	if _, dup := d.seenContent[hash]; dup {
		d.seenLinks[link] = struct{}{}
		d.stats.RemovedByContentHash++
		return false
	}

	titleNorm := normalizeText(j.Title)
	companyNorm := normalizeText(j.Company)
	for _, existing := range d.kept {
		existingTitle := normalizeText(existing.Title)
		existingCompany := normalizeText(existing.Company)
		if companyNorm != existingCompany {
			continue
		}
		if titleNorm == existingTitle {
			d.seenLinks[link] = struct{}{}
			d.seenContent[hash] = struct{}{}
			d.stats.RemovedByTitleCompany++
			return false
		}
		if jaccard(wordSet(titleNorm), wordSet(existingTitle)) >= titleSimilarityThreshold {
			d.seenLinks[link] = struct{}{}
			d.seenContent[hash] = struct{}{}
			d.stats.RemovedBySimilarity++
			return false
		}
	}

	d.seenLinks[link] = struct{}{}
	d.seenContent[hash] = struct{}{}
	d.kept = append(d.kept, j)
	d.stats.Output++
	return true
}

// Records returns every unique job record in first-seen order.
func (d *Deduplicator) Records() []models.JobRecord {
	return append([]models.JobRecord(nil), d.kept...)
}

// Stats returns the accumulated dedup counters for publishing to C2.
func (d *Deduplicator) Stats() Stats { return d.stats }
