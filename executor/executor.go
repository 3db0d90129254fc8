// Package executor implements the Action Executor: the single
// Execute(action, context) -> ActionResult pipeline of §4.3 —
// authorize, validate, resolve page, pre-check, dispatch, record —
// plus ExecuteBatch, the per-context history ring, and recomputed
// metrics. Grounded structurally on the teacher's
// services/executor/executor.go service-wiring idiom (one service
// holding its dependencies, one queue/dispatch entry point per unit
// of work) generalized from job-level to action-level dispatch.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"browserfleet/artifact"
	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/eventbus"
	"browserfleet/logger"
	"browserfleet/registry"
)

// Config bounds the executor's behavior (§6.2, §4.3).
type Config struct {
	HistoryRingSize int
	MaxBatchSize    int
	DefaultTimeout  time.Duration
	HardTimeout     time.Duration
	URLPolicy       URLPolicy
}

func DefaultConfig() Config {
	return Config{
		HistoryRingSize: 500,
		MaxBatchSize:    core.MaxBatchSize,
		DefaultTimeout:  30 * time.Second,
		HardTimeout:     120 * time.Second,
	}
}

// Executor is the core's single action-dispatch service.
type Executor struct {
	cfg      Config
	reg      *registry.Registry
	pages    PageProvider
	bus      *eventbus.Bus

	mu       sync.Mutex
	history  map[string]*ring // contextID -> ring buffer

	artifacts artifact.Store // optional; nil disables durable upload
}

// SetArtifactStore wires a durable Store that successful screenshot
// results are uploaded to after dispatch. Unset by default,
// matching every other optional dependency in this package (bus may
// also be nil in tests).
func (e *Executor) SetArtifactStore(store artifact.Store) {
	e.artifacts = store
}

// New constructs an Executor.
func New(cfg Config, reg *registry.Registry, pages PageProvider, bus *eventbus.Bus) *Executor {
	return &Executor{cfg: cfg, reg: reg, pages: pages, bus: bus, history: make(map[string]*ring)}
}

// Execute runs the full pipeline for one action against one context.
func (e *Executor) Execute(ctx context.Context, ec core.ExecContext, action core.Action) core.ActionResult {
	start := time.Now()

	// 1. Authorize
	c, err := e.reg.GetContext(ctx, ec.Principal, ec.ContextID)
	if err != nil {
		return e.fail(ec, action, start, err)
	}
	if c.State != core.ContextActive {
		return e.fail(ec, action, start, apxerrors.New(apxerrors.BrowserCrashed, "context is not active"))
	}

	// 2. Validate
	if verr := validateAction(action, e.cfg.MaxBatchSize); verr != nil {
		return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(verr.Kind)}, nil)
	}

	// 3. Resolve page
	pageID := resolvePageID(ec, action)
	var driver PageDriver
	if pageID == "" && action.Type == core.ActionNavigate {
		pageID, driver, err = e.pages.CreatePage(ec.ContextID)
	} else if pageID == "" {
		err = apxerrors.New(apxerrors.NotFound, "no page specified")
	} else {
		driver, err = e.pages.ResolvePage(ec.ContextID, pageID)
	}
	if err != nil {
		return e.fail(ec, action, start, apxerrors.Wrap(apxerrors.NotFound, "page not found", err))
	}

	// 4. Pre-checks
	var warnings []string
	normalizedURL := ""
	if action.Type == core.ActionNavigate {
		res, vf := ValidateURL(action.URL, e.cfg.URLPolicy)
		if vf != nil {
			return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(vf.Kind)}, nil)
		}
		normalizedURL = res.NormalizedURL
		warnings = append(warnings, res.Warnings...)
	}
	if action.Type == core.ActionEvaluate {
		w, vf := ValidateScript(action.Code)
		if vf != nil {
			return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(vf.Kind)}, nil)
		}
		warnings = append(warnings, w...)
	}
	if action.Type == core.ActionWait && action.WaitFunction != "" {
		w, vf := ValidateScript(action.WaitFunction)
		if vf != nil {
			return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(vf.Kind)}, nil)
		}
		warnings = append(warnings, w...)
	}

	// 5. Dispatch with bounded timeout
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > e.cfg.HardTimeout {
		timeout = e.cfg.HardTimeout
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := dispatch(dispatchCtx, driver, action, normalizedURL)
	if err != nil {
		if dispatchCtx.Err() == context.DeadlineExceeded {
			return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(apxerrors.Timeout)}, nil)
		}
		if dispatchCtx.Err() == context.Canceled {
			return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(apxerrors.Canceled)}, nil)
		}
		return e.fail(ec, action, start, err)
	}
	result.Success = true
	result.Warnings = append(result.Warnings, warnings...)

	if e.artifacts != nil && len(result.ImageBytes) > 0 && action.Type == core.ActionScreenshot {
		contentType := "image/png"
		if action.Format == "jpeg" {
			contentType = "image/jpeg"
		}
		loc, uerr := e.artifacts.Upload(ctx, ec.Principal.OrganizationID, ec.ContextID, string(action.Type), result.ImageBytes, contentType)
		if uerr != nil {
			logger.Warn("executor: artifact upload failed", zap.String("context_id", ec.ContextID), zap.Error(uerr))
		} else {
			result.ArtifactLocation = loc
		}
	}

	// 6. Record
	return e.record(ec, action, start, result, nil)
}

func (e *Executor) fail(ec core.ExecContext, action core.Action, start time.Time, err error) core.ActionResult {
	kind := apxerrors.KindOf(err)
	logger.Error("executor: action failed", zap.String("action", string(action.Type)), zap.String("kind", string(kind)), zap.Error(err))
	return e.record(ec, action, start, core.ActionResult{Success: false, ErrorKind: string(kind)}, nil)
}

// resolvePageID returns the page an action targets: the action's own
// PageID if set, else the ExecContext's — the fallback chain that lets
// a single-page ExecContext serve a whole batch while a parallel batch
// can still pin each action to its own page.
func resolvePageID(ec core.ExecContext, action core.Action) string {
	if action.PageID != "" {
		return action.PageID
	}
	return ec.PageID
}

func (e *Executor) record(ec core.ExecContext, action core.Action, start time.Time, result core.ActionResult, _ any) core.ActionResult {
	end := time.Now()
	pageID := resolvePageID(ec, action)
	rec := core.ActionRecord{
		Type: string(action.Type), PageID: pageID, ContextID: ec.ContextID,
		Success: result.Success, Start: start, End: end, ErrorKind: result.ErrorKind,
	}

	e.mu.Lock()
	r, ok := e.history[ec.ContextID]
	if !ok {
		r = newRing(e.cfg.HistoryRingSize)
		e.history[ec.ContextID] = r
	}
	r.push(rec)
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish("page.action_executed", "internal", map[string]any{
			"context_id": ec.ContextID, "page_id": pageID, "action": string(action.Type), "success": result.Success,
		})
	}
	return result
}

// ExecuteBatch runs actions against a context per options. Parallel
// batches are only valid when every action targets a distinct page.
func (e *Executor) ExecuteBatch(ctx context.Context, ec core.ExecContext, actions []core.Action, opts core.BatchOptions) ([]core.ActionResult, error) {
	if len(actions) > e.cfg.MaxBatchSize {
		return nil, apxerrors.New(apxerrors.InvalidArgument, fmt.Sprintf("batch size %d exceeds max %d", len(actions), e.cfg.MaxBatchSize))
	}

	if opts.Parallel > 1 {
		seen := make(map[string]struct{})
		for _, a := range actions {
			pid := resolvePageID(ec, a)
			if _, dup := seen[pid]; dup && pid != "" {
				return nil, apxerrors.New(apxerrors.InvalidArgument, "parallel batch requires distinct pages per action")
			}
			seen[pid] = struct{}{}
		}
		return e.runParallel(ctx, ec, actions, opts)
	}
	return e.runSequential(ctx, ec, actions, opts)
}

func (e *Executor) runSequential(ctx context.Context, ec core.ExecContext, actions []core.Action, opts core.BatchOptions) ([]core.ActionResult, error) {
	results := make([]core.ActionResult, 0, len(actions))
	for _, a := range actions {
		r := e.Execute(ctx, ec, a)
		results = append(results, r)
		if !r.Success && opts.StopOnError {
			break
		}
	}
	return results, nil
}

func (e *Executor) runParallel(ctx context.Context, ec core.ExecContext, actions []core.Action, opts core.BatchOptions) ([]core.ActionResult, error) {
	results := make([]core.ActionResult, len(actions))
	sem := make(chan struct{}, opts.Parallel)
	var wg sync.WaitGroup
	for i, a := range actions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, a core.Action) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, ec, a)
		}(i, a)
	}
	wg.Wait()
	return results, nil
}

// History returns a snapshot of the context's action record ring,
// oldest first.
func (e *Executor) History(contextID string) []core.ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.history[contextID]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Metrics aggregates total/successful/failed/by-type/duration
// distribution, recomputed from the ring on read (§4.3).
type Metrics struct {
	Total      int
	Successful int
	Failed     int
	ByType     map[string]int
	MinDur     time.Duration
	AvgDur     time.Duration
	P95Dur     time.Duration
	MaxDur     time.Duration
}

func (e *Executor) Metrics(contextID string) Metrics {
	records := e.History(contextID)
	m := Metrics{ByType: make(map[string]int)}
	if len(records) == 0 {
		return m
	}
	durs := make([]time.Duration, 0, len(records))
	var total time.Duration
	for _, r := range records {
		m.Total++
		if r.Success {
			m.Successful++
		} else {
			m.Failed++
		}
		m.ByType[r.Type]++
		d := r.Duration()
		durs = append(durs, d)
		total += d
	}
	sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })
	m.MinDur = durs[0]
	m.MaxDur = durs[len(durs)-1]
	m.AvgDur = total / time.Duration(len(durs))
	p95idx := int(float64(len(durs)) * 0.95)
	if p95idx >= len(durs) {
		p95idx = len(durs) - 1
	}
	m.P95Dur = durs[p95idx]
	return m
}
