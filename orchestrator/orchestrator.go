// Package orchestrator implements the Scrape Orchestrator (C11): the
// composition root that drives pagination over target URLs and wires
// C1-C10 together under the failure/observability semantics spec §4.11 and
// §7 describe.
//
// Grounded in the teacher's engine.Engine: a facade constructed once from a
// Config, holding handles to every subsystem it composes (never a
// package-level global, per spec §9's "composition root" design note), with
// Start/Stop lifecycle methods and a Snapshot-style health view.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edukz/vagas-scrapy-sub001/alerts"
	"github.com/edukz/vagas-scrapy-sub001/breaker"
	"github.com/edukz/vagas-scrapy-sub001/cache"
	"github.com/edukz/vagas-scrapy-sub001/config"
	"github.com/edukz/vagas-scrapy-sub001/dedup"
	"github.com/edukz/vagas-scrapy-sub001/fetcher"
	"github.com/edukz/vagas-scrapy-sub001/health"
	"github.com/edukz/vagas-scrapy-sub001/incremental"
	"github.com/edukz/vagas-scrapy-sub001/logging"
	"github.com/edukz/vagas-scrapy-sub001/metrics"
	"github.com/edukz/vagas-scrapy-sub001/models"
	"github.com/edukz/vagas-scrapy-sub001/pool"
	"github.com/edukz/vagas-scrapy-sub001/ratelimit"
	"github.com/edukz/vagas-scrapy-sub001/retry"
	"github.com/edukz/vagas-scrapy-sub001/selectors"
	"github.com/edukz/vagas-scrapy-sub001/trace"
)

// Target is one input URL plus an optional per-target page cap override
// (spec §6 "Input: target URLs").
type Target struct {
	URL      string
	MaxPages int // 0 => Config.Scraping.MaxPages
}

// Orchestrator composes C1-C10 behind the single facade C11 describes. It
// is constructed once per process via New and driven per run via Run.
type Orchestrator struct {
	cfg config.Config

	log        *logging.Logger
	reg        *metrics.Registry
	promBridge *metrics.PrometheusBridge
	otelBridge *metrics.OtelBridge
	alertEng   *alerts.Engine
	breakers   *breaker.Manager
	cache      *cache.Cache
	incr       *incremental.Processor
	pool       *pool.Pool
	limiter    *ratelimit.Limiter
	retryExec  *retry.Executor
	extractor  *selectors.Extractor
	fetcher    fetcher.Fetcher
	health     *health.Evaluator

	containerSelector string
	containerKind     fetcher.ElementKind
}

// New builds an Orchestrator and every subsystem it composes. A non-nil
// error here is always fatal-at-init per spec §7 (e.g. an unreadable cache
// directory) and should terminate the process before Run is ever called.
func New(cfg config.Config, f fetcher.Fetcher, extractor *selectors.Extractor, containerSelector string, containerKind fetcher.ElementKind) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Dir: cfg.Logging.Dir, MaxSizeMB: cfg.Logging.MaxSizeMB, MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays, Compress: cfg.Logging.Compress, ConsoleEcho: cfg.Logging.ConsoleEcho,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	log = log.With("orchestrator")

	reg := metrics.NewRegistry(cfg.Metrics.MaxHistory)

	var bridge *metrics.PrometheusBridge
	if cfg.Metrics.PrometheusBridge {
		bridge = metrics.NewPrometheusBridge()
	}

	var otelBridge *metrics.OtelBridge
	if cfg.Metrics.OtelBridge {
		otelBridge = metrics.NewOtelBridge()
	}

	alertEng := alerts.NewEngine(reg, log, alerts.Policy{
		AutoResolveAcknowledged: cfg.Alerts.AutoResolveAcknowledged,
		StaleAfter:              cfg.Alerts.StaleAfter,
		HistoryLimit:            cfg.Alerts.HistoryLimit,
	})

	channels, err := buildChannels(cfg.Alerts.Channels)
	if err != nil {
		return nil, fmt.Errorf("build alert channels: %w", err)
	}
	if len(channels) == 0 {
		channels = []alerts.Channel{alerts.NewConsoleChannel(alerts.SeverityLow)}
	}
	for _, ch := range channels {
		alertEng.RegisterChannel(ch)
	}

	rules := buildRules(cfg.Alerts.Rules)
	if len(rules) == 0 {
		rules = DefaultAlertRules(channelNames(channels))
	}
	for _, r := range rules {
		alertEng.AddRule(r)
	}

	sinks := metrics.Fanout{alertEng}
	if bridge != nil {
		sinks = append(sinks, bridge)
	}
	if otelBridge != nil {
		sinks = append(sinks, otelBridge)
	}
	if len(sinks) == 1 {
		reg.SetAlertSink(alertEng)
	} else {
		reg.SetAlertSink(sinks)
	}

	breakers := breaker.NewManager(
		func(name string) {
			reg.IncrementCounter("circuit_breaker.opens", 1)
			log.Warn(context.Background(), "circuit opened", "circuit", name)
		},
		func(name string) {
			reg.IncrementCounter("circuit_breaker.closes", 1)
			log.Info(context.Background(), "circuit closed", "circuit", name)
		},
		func(name string) {
			reg.IncrementCounter("circuit_breaker.rejected", 1)
		},
	)

	c, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	incr, err := incremental.New(incremental.Config{
		HistoryLimit: cfg.Incremental.HistoryLimit, CheckpointPath: cfg.Incremental.CheckpointPath,
		HardFilterThreshold: cfg.Incremental.HardFilterThreshold, EarlyStopThreshold: cfg.Incremental.EarlyStopThreshold,
		AvgJobProcessingTime: cfg.Incremental.AvgJobProcessingTime,
	})
	if err != nil {
		return nil, fmt.Errorf("init incremental processor: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Scraping.RequestsPerSecond, Burst: cfg.Scraping.Burst,
	})

	pl := pool.New(pool.Config{
		MinSize: cfg.Pool.MinSize, MaxSize: cfg.Pool.MaxSize, MaxAge: cfg.Pool.MaxAge,
		MaxReuse: cfg.Pool.MaxReuse, IdleScanInterval: cfg.Pool.IdleScanInterval,
	}, leaseFactory, nil, reg)

	o := &Orchestrator{
		cfg: cfg, log: log, reg: reg, promBridge: bridge, otelBridge: otelBridge, alertEng: alertEng,
		breakers: breakers, cache: c, incr: incr, pool: pl, limiter: limiter,
		retryExec: retry.NewExecutor(reg), extractor: extractor, fetcher: f,
		containerSelector: containerSelector, containerKind: containerKind,
		health: health.NewEvaluator(2 * time.Second),
	}
	o.registerHealthProbes()
	return o, nil
}

// leaseFactory produces the opaque lease resource C6 manages. The core
// never inspects it; a real integration wires in whatever a concrete
// Fetcher implementation needs per lease (e.g. a browser tab handle). The
// Fetcher boundary itself is a non-goal of this module (spec §1/§6), so the
// reference wiring here is a bookkeeping-only placeholder.
func leaseFactory(ctx context.Context) (pool.Page, error) {
	return struct{}{}, nil
}

// MetricsHandler exposes the bridged Prometheus metrics, or nil if the
// bridge was never enabled in Config.Metrics.PrometheusBridge.
func (o *Orchestrator) MetricsHandler() http.Handler {
	if o.promBridge == nil {
		return nil
	}
	return o.promBridge.Handler()
}

// HealthSnapshot evaluates (or returns the cached) subsystem health view.
func (o *Orchestrator) HealthSnapshot(ctx context.Context) health.Snapshot {
	return o.health.Evaluate(ctx)
}

// ActiveAlerts exposes the alert engine's active-alert table for an
// integrator's status endpoint.
func (o *Orchestrator) ActiveAlerts() []alerts.Alert { return o.alertEng.Active() }

func (o *Orchestrator) registerHealthProbes() {
	o.health.Register(health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		states := o.breakers.Snapshot()
		if len(states) == 0 {
			return health.Healthy("circuits")
		}
		open := 0
		for _, s := range states {
			if s == breaker.StateOpen {
				open++
			}
		}
		if open == 0 {
			return health.Healthy("circuits")
		}
		if open < len(states) {
			return health.Degraded("circuits", "some circuits open")
		}
		return health.Unhealthy("circuits", "all circuits open")
	}))
}

// Run drives the pipeline across every target: per URL, per page, consult
// the cache, lease a pool resource, fetch under circuit breaker + retry,
// extract with selector fallback, filter incrementally, then dedup the
// accumulated set (spec §4.11).
func (o *Orchestrator) Run(ctx context.Context, targets []Target) (*models.RunSummary, error) {
	startedAt := time.Now()
	sessionID := uuid.NewString()
	ctx = trace.Begin(ctx)

	done := o.log.Track(ctx, "run")

	runCtx, cancel := context.WithCancel(ctx)

	o.alertEng.Start(runCtx)
	o.limiter.StartEviction(runCtx)
	if err := o.pool.Start(runCtx); err != nil {
		cancel()
		o.log.Critical(ctx, "fatal: pool failed to start", "error", err.Error())
		_ = done(err)
		return nil, fmt.Errorf("start pool: %w", err)
	}

	o.incr.StartSession(sessionID)

	defer func() {
		cancel()
		o.pool.Stop()
		o.pool.CloseAll()
		o.alertEng.Stop()
		o.limiter.Stop()
	}()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		allJobs []models.JobRecord
	)
	sem := make(chan struct{}, maxInt(1, o.cfg.Scraping.Concurrency))

	for _, tgt := range targets {
		tgt := tgt
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			jobs := o.runTarget(runCtx, tgt)
			mu.Lock()
			allJobs = append(allJobs, jobs...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	dd := dedup.New()
	for _, j := range allJobs {
		dd.Add(j)
	}
	kept := dd.Records()
	stats := dd.Stats()
	o.reg.IncrementCounter("dedup.input", float64(stats.Input))
	o.reg.IncrementCounter("dedup.output", float64(stats.Output))
	o.reg.IncrementCounter("dedup.removed_by_link", float64(stats.RemovedByLink))
	o.reg.IncrementCounter("dedup.removed_by_content_hash", float64(stats.RemovedByContentHash))
	o.reg.IncrementCounter("dedup.removed_by_title_company", float64(stats.RemovedByTitleCompany))
	o.reg.IncrementCounter("dedup.removed_by_title_similarity", float64(stats.RemovedBySimilarity))

	sessionStats, _ := o.incr.EndSession()
	o.reg.SetGauge("scraper.time_saved_seconds", sessionStats.TimeSavedSecond)

	summary := &models.RunSummary{
		Metadata: models.RunMetadata{Total: len(kept), StartedAt: startedAt, EndedAt: time.Now()},
		Jobs:     kept,
	}
	_ = done(nil)
	return summary, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runTarget paginates a single target URL up to its page cap, returning
// every newly-seen job record across its pages. Ordering guarantee: pages
// of one URL are always processed in increasing index (spec §5).
func (o *Orchestrator) runTarget(ctx context.Context, tgt Target) []models.JobRecord {
	maxPages := tgt.MaxPages
	if maxPages <= 0 {
		maxPages = o.cfg.Scraping.MaxPages
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var collected []models.JobRecord
	var processed, failed float64

	for page := 1; page <= maxPages; page++ {
		pageURL := buildPageURL(tgt.URL, page)

		jobs, fromCache, err := o.fetchPage(ctx, pageURL)
		pr := &models.PageResult{
			URL: pageURL, PageNum: page, Jobs: jobs, Stage: "fetch",
			Success: err == nil, FromCache: fromCache, Error: err,
		}
		if pr.Error != nil {
			failed = o.reg.IncrementCounter("scraper.pages_failed", 1)
			o.log.Warn(ctx, "page failed", "url", pr.URL, "page", pr.PageNum, "error", pr.Error.Error())

			var circuitErr *breaker.CircuitOpenError
			if errors.As(pr.Error, &circuitErr) {
				o.log.Warn(ctx, "circuit open, pausing source", "target", tgt.URL)
			}
			break
		}
		pr.Stage = "extract"

		processed = o.reg.IncrementCounter("scraper.pages_processed", 1)
		o.reg.IncrementCounter("scraper.jobs_found", float64(len(pr.Jobs)))
		o.reg.IncrementCounter("scraper.jobs_processed", float64(len(pr.Jobs)))
		if total := processed + failed; total > 0 {
			o.reg.SetGauge("scraper.error_rate", failed/total)
			o.reg.SetGauge("scraper.success_rate", processed/total)
		}
		if pr.FromCache {
			o.reg.IncrementCounter("scraper.cache_hits", 1)
		}

		cont, _ := o.incr.ShouldContinueProcessing(pr.Jobs, o.cfg.Incremental.EarlyStopThreshold)
		newJobs := o.incr.ProcessPageIncrementally(pr.Jobs, pr.PageNum)
		collected = append(collected, newJobs...)

		if !cont {
			o.log.Info(ctx, "early-stop threshold not met, ending pagination", "target", tgt.URL, "page", pr.PageNum)
			break
		}
	}
	return collected
}

// fetchPage resolves one page URL: a cache hit short-circuits the fetch
// entirely; otherwise it leases a pool resource, fetches under the named
// circuit breaker and the standard retry policy, and extracts job records
// with the selector fallback extractor.
func (o *Orchestrator) fetchPage(ctx context.Context, pageURL string) ([]models.JobRecord, bool, error) {
	if payload, ok := o.cache.Get(pageURL); ok {
		var jobs []models.JobRecord
		if err := json.Unmarshal(payload, &jobs); err == nil {
			return jobs, true, nil
		}
	}

	if err := o.limiter.Wait(ctx, domainOf(pageURL)); err != nil {
		return nil, false, err
	}

	lease, err := o.acquireLease(ctx)
	if err != nil {
		o.reg.IncrementCounter("scraper.pool_timeouts", 1)
		o.log.Warn(ctx, "pool acquire failed", "error", err.Error())
		return nil, false, err
	}

	hadError := false
	defer func() { o.pool.Release(lease, hadError) }()

	circuit := o.breakers.Get("scraping", breaker.Config{
		FailureThreshold: o.cfg.Circuits.Default.FailureThreshold, ErrorPercentageThreshold: o.cfg.Circuits.Default.ErrorPercentageThreshold,
		RequestVolumeThreshold: o.cfg.Circuits.Default.RequestVolumeThreshold, RecoveryTimeout: o.cfg.Circuits.Default.RecoveryTimeout,
		SuccessThreshold: o.cfg.Circuits.Default.SuccessThreshold, SlidingWindowSize: o.cfg.Circuits.Default.SlidingWindowSize,
		OperationTimeout: o.cfg.Circuits.Default.OperationTimeout,
	})

	var page fetcher.Page
	start := time.Now()
	err = o.retryExec.Execute(ctx, retry.Policy{
		MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second,
		Backoff: retry.BackoffExponential, Jitter: 0.2, MetricPrefix: "retry",
	}, func(rctx context.Context) error {
		return circuit.Call(rctx, func(cctx context.Context) error {
			p, ferr := o.fetcher.Fetch(cctx, pageURL)
			if ferr != nil {
				return ferr
			}
			page = p
			return nil
		})
	})
	o.reg.RecordTimer("scraper.page_processing_time", time.Since(start).Seconds())
	if err != nil {
		hadError = true
		return nil, false, err
	}
	defer page.Close()

	jobs, err := o.extractJobs(page)
	if err != nil {
		hadError = true
		return nil, false, err
	}

	if payload, merr := json.Marshal(jobs); merr == nil {
		_ = o.cache.Set(pageURL, payload)
	}
	return jobs, false, nil
}

func (o *Orchestrator) acquireLease(ctx context.Context) (*pool.Lease, error) {
	timeout := o.cfg.Pool.AcquireTimeout
	lease, err := o.pool.Acquire(ctx, timeout)
	if errors.Is(err, pool.ErrAcquireTimeout) {
		o.log.Warn(ctx, "pool acquire timed out, retrying once")
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		lease, err = o.pool.Acquire(ctx, timeout)
	}
	return lease, err
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// buildPageURL appends a page query parameter for page > 1, leaving page 1
// as the bare target URL.
func buildPageURL(target string, page int) string {
	if page <= 1 {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target + "?page=" + strconv.Itoa(page)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// pageQuerierAdapter translates the fetcher.Page boundary (spec §6's
// integrator-supplied capability set) into selectors.PageQuerier (spec
// §4.7's extraction interface). Both Kind/Element pairs are structurally
// identical strings/any but distinct named types, so the boundary is kept
// explicit here rather than collapsing the two packages together.
type pageQuerierAdapter struct {
	page fetcher.Page
}

func (a pageQuerierAdapter) Query(expr string, kind selectors.Kind) ([]selectors.Element, error) {
	els, err := a.page.Query(expr, fetcher.ElementKind(kind))
	if err != nil {
		return nil, err
	}
	out := make([]selectors.Element, len(els))
	for i, e := range els {
		out[i] = selectors.Element(e)
	}
	return out, nil
}

func (a pageQuerierAdapter) Text(el selectors.Element) string {
	return a.page.Text(fetcher.Element(el))
}

func (a pageQuerierAdapter) Attribute(el selectors.Element, name string) (string, bool) {
	return a.page.Attribute(fetcher.Element(el), name)
}

// jobView scopes field extraction to the index-th match of a field
// strategy's expression across the whole page. The Fetcher boundary's Page
// only supports whole-document queries (see the reference CollyFetcher),
// so this is the deliberate simplification that lets one page yield many
// job records: container elements are located once, and every field
// strategy's query is re-run against the full document but narrowed down
// to the element at the same ordinal position as the container it belongs
// to.
type jobView struct {
	base  selectors.PageQuerier
	index int
}

func (v jobView) Query(expr string, kind selectors.Kind) ([]selectors.Element, error) {
	all, err := v.base.Query(expr, kind)
	if err != nil {
		return nil, err
	}
	if v.index >= len(all) {
		return nil, nil
	}
	return []selectors.Element{all[v.index]}, nil
}

func (v jobView) Text(el selectors.Element) string { return v.base.Text(el) }

func (v jobView) Attribute(el selectors.Element, name string) (string, bool) {
	return v.base.Attribute(el, name)
}

// extractJobs locates every job container on the page and runs the field
// extractor, scoped via jobView, over each one.
func (o *Orchestrator) extractJobs(page fetcher.Page) ([]models.JobRecord, error) {
	adapter := pageQuerierAdapter{page: page}
	containers, err := adapter.Query(o.containerSelector, selectors.Kind(o.containerKind))
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, models.ErrNoStrategiesSucceeded
	}

	jobs := make([]models.JobRecord, 0, len(containers))
	for i := range containers {
		view := jobView{base: adapter, index: i}
		job := models.JobRecord{CollectedAt: time.Now()}
		for _, field := range selectors.Fields {
			fs, ok := o.extractor.Field(field)
			if !ok {
				continue
			}
			value, fallbackLevel, ok := fs.Extract(view)
			o.reg.IncrementCounter("fallback.selector_attempts", 1)
			if !ok {
				continue
			}
			o.reg.IncrementCounter("fallback.selector_successes", 1)
			o.reg.SetGauge("fallback.fallback_level", float64(fallbackLevel))
			assignField(&job, field, value)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// assignField maps a logical field name from selectors.Fields onto the
// corresponding models.JobRecord member.
func assignField(job *models.JobRecord, field, value string) {
	switch field {
	case "title":
		job.Title = value
	case "link":
		job.Link = value
	case "company":
		job.Company = value
	case "location":
		job.Location = value
	case "description":
		job.Description = value
	case "salary":
		job.Salary = value
	case "requirements":
		job.Requirements = value
	case "benefits":
		job.Benefits = value
	case "experience":
		job.Experience = value
	case "work_mode":
		job.WorkMode = value
	case "publish_date":
		job.PublishDate = value
	}
}
