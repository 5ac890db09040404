// Package incremental implements the fingerprint-based incremental processor
// (C5): early-stop decisions over already-seen job records, plus durable
// session checkpoints.
//
// Grounded in the teacher's internal/resources.Manager checkpoint loop — a
// buffered channel drained on a ticker into an append-only file — adapted
// here from page-URL checkpoints to job fingerprints, with a capped
// in-memory history set instead of the teacher's unbounded spill map.
package incremental

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/edukz/vagas-scrapy-sub001/models"
)

// Fingerprint returns the content-addressed identity of a job record, used
// to decide whether it has already been seen in a prior run.
func Fingerprint(j models.JobRecord) string {
	norm := normalize(j.Title) + "|" + normalize(j.Company) + "|" + normalize(j.Link)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:32]
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SessionStats is reported to the metrics registry at end_session.
type SessionStats struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	PagesProcessed  int       `json:"pages_processed"`
	JobsNew         int       `json:"jobs_new"`
	JobsKnown       int       `json:"jobs_known"`
	TimeSavedSecond float64   `json:"time_saved_seconds"`
}

type checkpointFile struct {
	Fingerprints []string        `json:"fingerprints"`
	Sessions     []SessionStats  `json:"sessions"`
}

// Processor tracks fingerprints across sessions and decides, per page,
// whether processing should continue (spec §4.5).
type Processor struct {
	mu              sync.Mutex
	seen            map[string]struct{}
	order           []string // eviction order, capped at historyLimit
	historyLimit    int
	checkpointPath  string

	hardFilterThreshold float64 // default 0.1
	earlyStopThreshold  float64 // default 0.3
	avgJobProcessTime   time.Duration

	current *SessionStats
	history []SessionStats
}

// Config controls thresholds and the on-disk checkpoint location.
type Config struct {
	HistoryLimit        int
	CheckpointPath       string
	HardFilterThreshold  float64
	EarlyStopThreshold   float64
	AvgJobProcessingTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100_000
	}
	if c.HardFilterThreshold <= 0 {
		c.HardFilterThreshold = 0.1
	}
	if c.EarlyStopThreshold <= 0 {
		c.EarlyStopThreshold = 0.3
	}
	if c.AvgJobProcessingTime <= 0 {
		c.AvgJobProcessingTime = 500 * time.Millisecond
	}
	return c
}

// New constructs a Processor, loading any existing checkpoint file.
func New(cfg Config) (*Processor, error) {
	cfg = cfg.withDefaults()
	p := &Processor{
		seen:                make(map[string]struct{}),
		historyLimit:        cfg.HistoryLimit,
		checkpointPath:      cfg.CheckpointPath,
		hardFilterThreshold: cfg.HardFilterThreshold,
		earlyStopThreshold:  cfg.EarlyStopThreshold,
		avgJobProcessTime:   cfg.AvgJobProcessingTime,
	}
	if cfg.CheckpointPath != "" {
		if err := p.load(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return p, nil
}

func (p *Processor) load() error {
	data, err := os.ReadFile(p.checkpointPath)
	if err != nil {
		return err
	}
	var cf checkpointFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fp := range cf.Fingerprints {
		p.seen[fp] = struct{}{}
		p.order = append(p.order, fp)
	}
	p.history = cf.Sessions
	return nil
}

// persist rewrites the checkpoint file atomically (spec §6: "rewritten
// atomically").
func (p *Processor) persist() error {
	if p.checkpointPath == "" {
		return nil
	}
	p.mu.Lock()
	cf := checkpointFile{Fingerprints: append([]string(nil), p.order...), Sessions: append([]SessionStats(nil), p.history...)}
	p.mu.Unlock()

	data, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	tmp := p.checkpointPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p.checkpointPath)
}

// StartSession opens a new session scope under the given id.
func (p *Processor) StartSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &SessionStats{ID: id, StartedAt: time.Now()}
}

// EndSession closes the current session, records it to history, estimates
// time_saved_seconds, and persists the checkpoint. With no open session it
// only persists the checkpoint.
func (p *Processor) EndSession() (SessionStats, error) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return SessionStats{}, p.persist()
	}
	p.current.EndedAt = time.Now()
	p.current.TimeSavedSecond = float64(p.current.JobsKnown) * p.avgJobProcessTime.Seconds()
	stats := *p.current
	p.history = append(p.history, stats)
	p.current = nil
	p.mu.Unlock()

	return stats, p.persist()
}

// ShouldContinueProcessing implements the spec's `should_continue_processing`.
func (p *Processor) ShouldContinueProcessing(pageJobs []models.JobRecord, threshold float64) (bool, []models.JobRecord) {
	if threshold <= 0 {
		threshold = p.earlyStopThreshold
	}
	newJobs := p.filterNew(pageJobs)
	if len(pageJobs) == 0 {
		return true, newJobs
	}
	ratio := float64(len(newJobs)) / float64(len(pageJobs))
	return ratio >= threshold, newJobs
}

func (p *Processor) filterNew(pageJobs []models.JobRecord) []models.JobRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.JobRecord, 0, len(pageJobs))
	for _, j := range pageJobs {
		fp := Fingerprint(j)
		if _, known := p.seen[fp]; !known {
			out = append(out, j)
		}
	}
	return out
}

// ProcessPageIncrementally registers new fingerprints and returns only the
// new subset (spec §4.5).
func (p *Processor) ProcessPageIncrementally(pageJobs []models.JobRecord, pageNum int) []models.JobRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	newJobs := make([]models.JobRecord, 0, len(pageJobs))
	known := 0
	for _, j := range pageJobs {
		fp := Fingerprint(j)
		if _, ok := p.seen[fp]; ok {
			known++
			continue
		}
		p.seen[fp] = struct{}{}
		p.order = append(p.order, fp)
		newJobs = append(newJobs, j)
	}
	p.evictLocked()

	if p.current != nil {
		p.current.PagesProcessed++
		p.current.JobsNew += len(newJobs)
		p.current.JobsKnown += known
	}
	return newJobs
}

func (p *Processor) evictLocked() {
	for len(p.order) > p.historyLimit {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.seen, oldest)
	}
}
