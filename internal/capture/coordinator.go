package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sightline/internal/logging"
	"sightline/internal/remote"
	"sightline/internal/scheduler"
)

const defaultDwell = 5 * time.Second

// Options configures the auto-capture policy.
type Options struct {
	AutoCapture         bool
	Dwell               time.Duration
	Filter              DomainFilter
	AnalyzeAfterCapture bool
}

// Dependencies are the collaborators a Coordinator calls into.
type Dependencies struct {
	Tabs      *Tabs
	Extractor Extractor
	Submitter Submitter
	Analyzer  Analyzer
	History   *History
}

type dwellTimer struct {
	timer *time.Timer
	seq   uint64
}

// Coordinator turns tab activity into captures with at most one capture in
// flight per tab.
type Coordinator struct {
	opts      Options
	tabs      *Tabs
	extractor Extractor
	submitter Submitter
	analyzer  Analyzer
	history   *History
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	inFlight    map[int]struct{}
	urlInFlight map[string]struct{}
	timers      map[int]dwellTimer
	seq         uint64
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewCoordinator constructs a Coordinator. A zero dwell uses five seconds.
func NewCoordinator(opts Options, deps Dependencies, logger *slog.Logger) *Coordinator {
	if opts.Dwell <= 0 {
		opts.Dwell = defaultDwell
	}
	if deps.Tabs == nil {
		deps.Tabs = NewTabs()
	}
	return &Coordinator{
		opts:        opts,
		tabs:        deps.Tabs,
		extractor:   deps.Extractor,
		submitter:   deps.Submitter,
		analyzer:    deps.Analyzer,
		history:     deps.History,
		logger:      logging.NewComponentLogger(logger, "capture"),
		now:         time.Now,
		inFlight:    make(map[int]struct{}),
		urlInFlight: make(map[string]struct{}),
		timers:      make(map[int]dwellTimer),
		ctx:         context.Background(),
	}
}

// Tabs returns the tab registry the coordinator reads.
func (c *Coordinator) Tabs() *Tabs {
	return c.tabs
}

// Start subscribes to page-load events. Dwell-triggered captures run under ctx.
func (c *Coordinator) Start(ctx context.Context, events PageEvents) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.ctx = runCtx
	c.cancel = cancel
	c.unsubscribe = nil
	c.mu.Unlock()

	if events != nil {
		unsubscribe := events.OnPageLoadComplete(c.HandlePageLoad)
		c.mu.Lock()
		c.unsubscribe = unsubscribe
		c.mu.Unlock()
	}
	c.logger.Info("capture coordinator started",
		logging.Bool("auto_capture", c.opts.AutoCapture),
		logging.Duration("dwell", c.opts.Dwell),
		logging.Int("allow_domains", len(c.opts.Filter.Allow)),
		logging.Int("deny_domains", len(c.opts.Filter.Deny)),
	)
}

// Stop unsubscribes from events and cancels pending dwell timers.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	for id, pending := range c.timers {
		pending.timer.Stop()
		delete(c.timers, id)
	}
	unsubscribe := c.unsubscribe
	cancel := c.cancel
	c.unsubscribe = nil
	c.cancel = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// HandlePageLoad applies the auto-capture policy to a finished page load.
// A new load on the same tab replaces any pending dwell timer.
func (c *Coordinator) HandlePageLoad(ev PageLoad) {
	c.tabs.Navigate(ev.TabID, ev.URL)
	logger := c.logger.With(logging.Int(logging.FieldTabID, ev.TabID))

	c.mu.Lock()
	if pending, ok := c.timers[ev.TabID]; ok {
		pending.timer.Stop()
		delete(c.timers, ev.TabID)
	}
	if !c.opts.AutoCapture {
		c.mu.Unlock()
		return
	}
	if !c.opts.Filter.Allowed(ev.URL) {
		c.mu.Unlock()
		logger.Debug("auto-capture skipped by filter", logging.String("url", ev.URL))
		return
	}
	c.seq++
	seq := c.seq
	c.timers[ev.TabID] = dwellTimer{
		seq:   seq,
		timer: time.AfterFunc(c.opts.Dwell, func() { c.dwellElapsed(ev, seq) }),
	}
	c.mu.Unlock()

	logger.Debug("auto-capture scheduled", logging.String("url", ev.URL), logging.Duration("dwell", c.opts.Dwell))
}

func (c *Coordinator) dwellElapsed(ev PageLoad, seq uint64) {
	c.mu.Lock()
	pending, ok := c.timers[ev.TabID]
	if !ok || pending.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.timers, ev.TabID)
	ctx := c.ctx
	c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	tab, found := c.tabs.Get(ev.TabID)
	if !found || tab.URL != ev.URL {
		c.logger.Debug("auto-capture dropped after navigation",
			logging.Int(logging.FieldTabID, ev.TabID),
			logging.String("url", ev.URL),
		)
		return
	}
	c.captureTab(ctx, tab, SourceBackground)
}

// PendingAutoCaptures reports how many dwell timers are waiting.
func (c *Coordinator) PendingAutoCaptures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// CaptureTab captures tabID now. A second call while the first is in flight
// returns OutcomeAlreadyInProgress without submitting.
func (c *Coordinator) CaptureTab(ctx context.Context, tabID int) Result {
	tab, ok := c.tabs.Get(tabID)
	if !ok {
		return Result{Outcome: OutcomeNotFound, TabID: intPtr(tabID), Error: "unknown tab"}
	}
	source := SourceOpenTab
	if tab.Active {
		source = SourceActiveTab
	}
	return c.captureTab(ctx, tab, source)
}

// CaptureActiveTab captures whichever tab is currently active.
func (c *Coordinator) CaptureActiveTab(ctx context.Context) Result {
	tab, ok := c.tabs.Active()
	if !ok {
		return Result{Outcome: OutcomeNotFound, Error: "no active tab"}
	}
	return c.captureTab(ctx, tab, SourceActiveTab)
}

// SubmitURL captures a page that is not open in a tab, such as a bookmark or
// history entry. The same URL is never submitted twice concurrently.
func (c *Coordinator) SubmitURL(ctx context.Context, req Request) Result {
	req.URL = strings.TrimSpace(req.URL)
	if !Capturable(req.URL) {
		return Result{Outcome: OutcomeExcluded, URL: req.URL, Error: "not a web page"}
	}
	if req.Source == "" {
		req.Source = SourceBookmark
	}

	c.mu.Lock()
	if _, busy := c.urlInFlight[req.URL]; busy {
		c.mu.Unlock()
		return Result{Outcome: OutcomeAlreadyInProgress, URL: req.URL}
	}
	c.urlInFlight[req.URL] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.urlInFlight, req.URL)
		c.mu.Unlock()
	}()

	return c.submit(ctx, req)
}

func (c *Coordinator) captureTab(ctx context.Context, tab Tab, source Source) Result {
	if !Capturable(tab.URL) {
		return Result{Outcome: OutcomeExcluded, TabID: intPtr(tab.ID), URL: tab.URL, Error: "internal page"}
	}

	c.mu.Lock()
	if _, busy := c.inFlight[tab.ID]; busy {
		c.mu.Unlock()
		c.logger.Debug("capture already in progress", logging.Int(logging.FieldTabID, tab.ID))
		return Result{Outcome: OutcomeAlreadyInProgress, TabID: intPtr(tab.ID), URL: tab.URL}
	}
	c.inFlight[tab.ID] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, tab.ID)
		c.mu.Unlock()
	}()

	req := Request{
		URL:      tab.URL,
		Title:    tab.Title,
		Source:   source,
		TabID:    intPtr(tab.ID),
		WindowID: intPtr(tab.WindowID),
	}
	if c.extractor != nil {
		content, err := c.extractor.Extract(ctx, tab.ID)
		if err != nil {
			c.logger.Debug("content extraction unavailable; capturing without content",
				logging.Int(logging.FieldTabID, tab.ID),
				logging.Error(err),
			)
		} else {
			req.Content = content.Content
			req.Metadata = content.Metadata
		}
	}
	return c.submit(ctx, req)
}

// InFlight reports whether tabID has a capture in progress.
func (c *Coordinator) InFlight(tabID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[tabID]
	return ok
}

func (c *Coordinator) submit(ctx context.Context, req Request) Result {
	result := Result{TabID: req.TabID, URL: req.URL}
	logger := c.logger.With(logging.String("url", req.URL), logging.String("source", string(req.Source)))
	if req.TabID != nil {
		logger = logger.With(logging.Int(logging.FieldTabID, *req.TabID))
	}

	if c.submitter == nil {
		result.Outcome = OutcomeFailed
		result.Error = "no capture backend configured"
	} else {
		receipt, err := c.submitter.SubmitCapture(ctx, req)
		switch {
		case err != nil:
			result.Outcome = OutcomeFailed
			result.Error = err.Error()
			logging.WarnWithContext(logger, "capture submission failed", "capture_failed",
				logging.String("error_kind", string(remote.Classify(err))),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "retry the capture once the backend accepts requests"),
				logging.String(logging.FieldImpact, "page was not stored"),
			)
		case receipt.Queued:
			result.Outcome = OutcomeQueued
			logger.Info("capture queued for delivery", logging.String(logging.FieldEventType, "capture_queued"))
		default:
			result.Outcome = OutcomeSubmitted
			result.CaptureID = receipt.CaptureID
			logger.Info("capture submitted",
				logging.String(logging.FieldEventType, "capture_submitted"),
				logging.String("capture_id", receipt.CaptureID),
			)
		}
	}

	if result.Outcome != OutcomeFailed && c.opts.AnalyzeAfterCapture && c.analyzer != nil {
		taskID, err := c.analyzer.QueueURL(ctx, req.URL, scheduler.QueueOptions{})
		if err != nil {
			logger.Warn("analysis not queued after capture", logging.Error(err))
		} else {
			result.TaskID = taskID
		}
	}

	if c.history != nil {
		entry := HistoryEntry{
			URL:       req.URL,
			Title:     req.Title,
			Source:    req.Source,
			TabID:     req.TabID,
			Outcome:   result.Outcome,
			CaptureID: result.CaptureID,
			TaskID:    result.TaskID,
			Error:     result.Error,
			At:        c.now().UTC(),
		}
		if err := c.history.Record(context.WithoutCancel(ctx), entry); err != nil {
			logger.Warn("capture history not persisted", logging.Error(err))
		}
	}
	return result
}

func intPtr(v int) *int {
	return &v
}
