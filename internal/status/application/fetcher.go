package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/eventing"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/observability/metrics"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// MinPollInterval is the enforced floor: polling faster would hammer the
// upstream API.
const MinPollInterval = 30 * time.Second

// ErrCycleInProgress is returned when a cycle is requested while one runs.
var ErrCycleInProgress = errors.New("status: fetch cycle already in progress")

// ErrNoData is returned when both upstream and the durable fallback fail.
var ErrNoData = errors.New("status: upstream and fallback both unavailable")

// ErrSafeMode is returned while mutation is paused after repeated failures.
var ErrSafeMode = errors.New("status: safe mode engaged")

// Syncer persists snapshots and change sets.
type Syncer interface {
	ApplyFull(ctx context.Context, snap *domain.NormalizedSnapshot) error
	ApplyChanges(ctx context.Context, records []domain.ChangeRecord, snap *domain.NormalizedSnapshot) error
	SaveSummary(ctx context.Context, view domain.NetworkView, at time.Time) error
}

// OverrideSource lists the overrides to apply before normalization.
type OverrideSource interface {
	ListActive(ctx context.Context, now time.Time) ([]domain.Override, error)
}

// SnapshotCache is the durable last-known raw snapshot, read back when
// upstream fails and written through after every successful cycle.
type SnapshotCache interface {
	LoadRaw(ctx context.Context) (domain.RawSnapshot, time.Time, error)
	StoreRaw(ctx context.Context, raw domain.RawSnapshot, at time.Time) error
}

// ReferenceSource loads the static network model.
type ReferenceSource interface {
	LoadNetwork(ctx context.Context) (*domain.Network, error)
}

// ServiceHours bounds the operating window. Overnight windows (close before
// open) are supported.
type ServiceHours struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// Contains reports whether t falls inside the operating window.
func (h ServiceHours) Contains(t time.Time) bool {
	if h.OpenHour == h.CloseHour && h.OpenMinute == h.CloseMinute {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	open := h.OpenHour*60 + h.OpenMinute
	closing := h.CloseHour*60 + h.CloseMinute
	if open < closing {
		return minute >= open && minute < closing
	}
	return minute >= open || minute < closing
}

// FetcherConfig tunes one fetcher.
type FetcherConfig struct {
	UpstreamURL      string
	RequestTimeout   time.Duration
	PollInterval     time.Duration
	ServiceHours     ServiceHours
	ReferenceMaxAge  time.Duration
	FailureThreshold int

	// Debug-only fault injection: each entity's status is randomly
	// replaced with probability ChaosFactor/100. Ignored unless Debug.
	Debug       bool
	ChaosFactor float64
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ReferenceMaxAge <= 0 {
		c.ReferenceMaxAge = time.Hour
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	return c
}

// FetcherStats is a point-in-time view of cycle metrics.
type FetcherStats struct {
	TotalCycles         int64         `json:"totalCycles"`
	FailedCycles        int64         `json:"failedCycles"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	AvgProcessing       time.Duration `json:"avgProcessingNs"`
	LastSuccess         time.Time     `json:"lastSuccess"`
	LastFailure         time.Time     `json:"lastFailure"`
	SafeMode            bool          `json:"safeMode"`
}

// Fetcher orchestrates the poll cycle: fetch, override, normalize, diff,
// persist, emit. One cycle runs at a time per process.
type Fetcher struct {
	cfg        FetcherConfig
	client     *http.Client
	bus        *eventing.Bus
	normalizer *Normalizer
	detector   *Detector
	syncer     Syncer
	overrides  OverrideSource
	cache      SnapshotCache
	reference  ReferenceSource
	logger     *log.Logger

	now func() time.Time
	rng *rand.Rand

	isFetching atomic.Bool
	safeMode   atomic.Bool
	current    atomic.Pointer[domain.NormalizedSnapshot]

	mu          sync.Mutex
	network     *domain.Network
	refreshedAt time.Time
	version     int64
	stats       FetcherStats
	totalMillis int64
}

// NewFetcher wires a fetcher. All collaborators are required except the
// override source, which may be nil when no operator surface exists.
func NewFetcher(
	cfg FetcherConfig,
	bus *eventing.Bus,
	normalizer *Normalizer,
	detector *Detector,
	syncer Syncer,
	overrides OverrideSource,
	cache SnapshotCache,
	reference ReferenceSource,
	logger *log.Logger,
) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		bus:        bus,
		normalizer: normalizer,
		detector:   detector,
		syncer:     syncer,
		overrides:  overrides,
		cache:      cache,
		reference:  reference,
		logger:     logger,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Current returns the latest snapshot, or nil before the first cycle. The
// pointer is swapped atomically after each successful cycle; callers must
// treat the snapshot as immutable.
func (f *Fetcher) Current() *domain.NormalizedSnapshot {
	if f == nil {
		return nil
	}
	return f.current.Load()
}

// Stats returns cycle metrics.
func (f *Fetcher) Stats() FetcherStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := f.stats
	stats.SafeMode = f.safeMode.Load()
	return stats
}

// History exposes the bounded in-memory change history.
func (f *Fetcher) History() []domain.ChangeRecord {
	return f.detector.History()
}

// SafeMode reports whether mutation is paused.
func (f *Fetcher) SafeMode() bool {
	return f.safeMode.Load()
}

// ClearSafeMode re-enables mutation after an operator intervened.
func (f *Fetcher) ClearSafeMode() {
	f.safeMode.Store(false)
	f.mu.Lock()
	f.stats.ConsecutiveFailures = 0
	f.mu.Unlock()
	metrics.SetSafeMode(false)
	f.logf("safe mode cleared")
}

// Run polls on the configured interval until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	if err := f.RunCycle(ctx); err != nil {
		f.logf("initial cycle failed: err=%v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				f.logf("cycle failed: err=%v", err)
			}
		}
	}
}

// RunCycle executes one complete cycle. A cycle already in flight makes the
// call a silent no-op; any failure inside the cycle is contained and the
// next scheduled cycle starts clean.
func (f *Fetcher) RunCycle(ctx context.Context) error {
	if !f.isFetching.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer f.isFetching.Store(false)

	start := f.now()
	err := f.cycle(ctx, start)
	elapsed := f.now().Sub(start)

	if err != nil {
		f.recordFailure(ctx, start, err)
		metrics.ObserveCycle(metrics.ResultError, elapsed)
		return err
	}
	f.recordSuccess(start, elapsed)
	metrics.ObserveCycle(metrics.ResultSuccess, elapsed)
	return nil
}

func (f *Fetcher) cycle(ctx context.Context, now time.Time) error {
	inHours := f.cfg.ServiceHours.Contains(now)

	// Reference data refreshes only during service hours; outside them the
	// stale model is good enough for the synthetic snapshot.
	if inHours {
		if err := f.refreshReference(ctx, now); err != nil {
			return fmt.Errorf("status: reference refresh: %w", err)
		}
	} else if f.networkRef() == nil {
		if err := f.refreshReference(ctx, now); err != nil {
			return fmt.Errorf("status: reference refresh: %w", err)
		}
	}

	var raw domain.RawSnapshot
	var source string
	if inHours {
		var err error
		raw, source, err = f.acquireSnapshot(ctx)
		if err != nil {
			return err
		}
	} else {
		var err error
		raw, err = f.offHoursSnapshot(ctx)
		if err != nil {
			return err
		}
		source = "offhours"
	}

	f.bus.Emit(ctx, eventing.TypeRawDataFetched, map[string]any{
		"lineCount":    len(raw),
		"stationCount": stationCount(raw),
		"source":       source,
	}, "fetcher")

	raw = f.applyOverrides(ctx, raw, now)
	raw = f.applyChaos(raw)

	network := f.networkRef()
	f.mu.Lock()
	f.version++
	version := f.version
	f.mu.Unlock()
	snap := f.normalizer.Normalize(network, raw, version, now)

	previous := f.current.Load()
	set := f.detector.Analyze(snap, previous)

	if f.safeMode.Load() {
		// Mutation is paused: the snapshot was computed for observers but
		// nothing is persisted until an operator clears safe mode.
		f.logf("cycle computed in safe mode: changes=%d not persisted", len(set.Changes))
		return ErrSafeMode
	}

	if err := f.syncer.SaveSummary(ctx, snap.Network, now); err != nil {
		return fmt.Errorf("status: summary persist: %w", err)
	}

	if set.Meta.IsFirstRun {
		if err := f.syncer.ApplyFull(ctx, snap); err != nil {
			return fmt.Errorf("status: full sync: %w", err)
		}
	} else if len(set.Changes) > 0 {
		if err := f.syncer.ApplyChanges(ctx, set.Changes, snap); err != nil {
			return fmt.Errorf("status: incremental sync: %w", err)
		}
	}

	if len(set.Changes) > 0 {
		metrics.AddChanges(len(set.Changes))
		f.bus.Emit(ctx, eventing.TypeChangesDetected, map[string]any{
			"changes": changePayload(set.Changes),
			"runId":   set.Meta.RunID,
			"metadata": map[string]any{
				"severity":   set.Meta.Severity,
				"isFirstRun": set.Meta.IsFirstRun,
			},
		}, "detector")
	}

	f.current.Store(snap)
	if err := f.cache.StoreRaw(ctx, raw, now); err != nil {
		// The snapshot is already persisted; a cache miss only degrades
		// crash recovery, so log and keep the cycle green.
		f.logf("snapshot cache write failed: err=%v", err)
	}

	f.bus.Emit(ctx, eventing.TypeDataUpdated, map[string]any{
		"version":       snap.Version,
		"networkStatus": string(snap.Network.Status.Code),
	}, "fetcher")
	return nil
}

// acquireSnapshot tries upstream first, then the durable fallback.
func (f *Fetcher) acquireSnapshot(ctx context.Context) (domain.RawSnapshot, string, error) {
	raw, err := f.fetchUpstream(ctx)
	if err == nil {
		metrics.ObserveUpstream(metrics.ResultSuccess)
		return raw, "upstream", nil
	}
	metrics.ObserveUpstream(metrics.ResultError)
	f.logf("upstream fetch failed, trying fallback: err=%v", err)

	cached, cachedAt, cacheErr := f.cache.LoadRaw(ctx)
	if cacheErr != nil || cached == nil {
		return nil, "", fmt.Errorf("%w: upstream=%v fallback=%v", ErrNoData, err, cacheErr)
	}
	f.logf("serving fallback snapshot: cached_at=%s", cachedAt.Format(time.RFC3339))
	return cached, "fallback", nil
}

func (f *Fetcher) fetchUpstream(ctx context.Context) (domain.RawSnapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.cfg.UpstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("status: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status: upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("status: upstream returned %d", resp.StatusCode)
	}

	var raw domain.RawSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("status: decode upstream payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("status: upstream payload empty")
	}
	return raw, nil
}

// offHoursSnapshot synthesizes a closed-network snapshot from the last
// durable one, preserving structure without calling upstream.
func (f *Fetcher) offHoursSnapshot(ctx context.Context) (domain.RawSnapshot, error) {
	cached, _, err := f.cache.LoadRaw(ctx)
	if err != nil || cached == nil {
		// No durable history yet: build the structure from reference data.
		cached = skeletonFromNetwork(f.networkRef())
		if cached == nil {
			return nil, fmt.Errorf("status: no structure for off-hours snapshot: %v", err)
		}
	}
	raw := cached.Clone()
	for id, line := range raw {
		line.Status = domain.CodeOffHours
		line.Message = ""
		for i := range line.Stations {
			line.Stations[i].Status = domain.CodeOffHours
			line.Stations[i].Description = ""
		}
		raw[id] = line
	}
	return raw, nil
}

// applyOverrides pins operator statuses onto the raw snapshot. System-level
// overrides hit every line and station; line and station overrides hit
// their target only.
func (f *Fetcher) applyOverrides(ctx context.Context, raw domain.RawSnapshot, now time.Time) domain.RawSnapshot {
	if f.overrides == nil {
		return raw
	}
	overrides, err := f.overrides.ListActive(ctx, now)
	if err != nil {
		f.logf("override load failed, proceeding without: err=%v", err)
		return raw
	}
	if len(overrides) == 0 {
		return raw
	}

	out := raw.Clone()
	for _, ov := range overrides {
		if !ov.ActiveAt(now) {
			continue
		}
		switch ov.TargetType {
		case domain.TargetSystem:
			for id, line := range out {
				line.Status = ov.Status
				line.Message = ov.Message
				for i := range line.Stations {
					line.Stations[i].Status = ov.Status
					line.Stations[i].Description = ov.Message
				}
				out[id] = line
			}
		case domain.TargetLine:
			if line, ok := out[ov.TargetID]; ok {
				line.Status = ov.Status
				line.Message = ov.Message
				out[ov.TargetID] = line
			}
		case domain.TargetStation:
			for id, line := range out {
				for i := range line.Stations {
					if line.Stations[i].Code == ov.TargetID {
						line.Stations[i].Status = ov.Status
						line.Stations[i].Description = ov.Message
						out[id] = line
					}
				}
			}
		}
	}
	return out
}

// UpdateChaos applies hot-reloaded fault-injection settings. Other fetcher
// settings stay fixed for the process lifetime.
func (f *Fetcher) UpdateChaos(debug bool, factor float64) {
	f.mu.Lock()
	f.cfg.Debug = debug
	f.cfg.ChaosFactor = factor
	f.mu.Unlock()
	f.logf("chaos settings updated: debug=%t factor=%.2f", debug, factor)
}

// applyChaos randomly mutates statuses for fault-injection runs. Disabled
// unless debug mode is on.
func (f *Fetcher) applyChaos(raw domain.RawSnapshot) domain.RawSnapshot {
	f.mu.Lock()
	debug, factor := f.cfg.Debug, f.cfg.ChaosFactor
	f.mu.Unlock()
	if !debug || factor <= 0 {
		return raw
	}
	probability := factor / 100
	chaosCodes := []domain.Code{
		domain.CodeClosed,
		domain.CodePartial,
		domain.CodeDelayed,
		domain.CodeSuspended,
	}
	out := raw.Clone()
	for id, line := range out {
		if f.rng.Float64() < probability {
			line.Status = chaosCodes[f.rng.Intn(len(chaosCodes))]
			line.Message = "chaos"
		}
		for i := range line.Stations {
			if f.rng.Float64() < probability {
				line.Stations[i].Status = chaosCodes[f.rng.Intn(len(chaosCodes))]
				line.Stations[i].Description = "chaos"
			}
		}
		out[id] = line
	}
	return out
}

func (f *Fetcher) refreshReference(ctx context.Context, now time.Time) error {
	f.mu.Lock()
	fresh := f.network != nil && now.Sub(f.refreshedAt) < f.cfg.ReferenceMaxAge
	f.mu.Unlock()
	if fresh {
		return nil
	}
	network, err := f.reference.LoadNetwork(ctx)
	if err != nil {
		// A stale model beats a dead cycle.
		if f.networkRef() != nil {
			f.logf("reference refresh failed, keeping stale model: err=%v", err)
			return nil
		}
		return err
	}
	f.mu.Lock()
	f.network = network
	f.refreshedAt = now
	f.mu.Unlock()
	f.logf("reference data refreshed: lines=%d stations=%d", len(network.Lines), network.StationCount())
	return nil
}

func (f *Fetcher) networkRef() *domain.Network {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.network
}

func (f *Fetcher) recordSuccess(start time.Time, elapsed time.Duration) {
	f.mu.Lock()
	f.stats.TotalCycles++
	f.stats.ConsecutiveFailures = 0
	f.stats.LastSuccess = start
	f.totalMillis += elapsed.Milliseconds()
	completed := f.stats.TotalCycles - f.stats.FailedCycles
	if completed > 0 {
		f.stats.AvgProcessing = time.Duration(f.totalMillis/completed) * time.Millisecond
	}
	f.mu.Unlock()
}

func (f *Fetcher) recordFailure(ctx context.Context, start time.Time, cause error) {
	f.mu.Lock()
	f.stats.TotalCycles++
	f.stats.FailedCycles++
	f.stats.ConsecutiveFailures++
	f.stats.LastFailure = start
	failures := f.stats.ConsecutiveFailures
	f.mu.Unlock()

	engaged := false
	if failures >= f.cfg.FailureThreshold && !f.safeMode.Load() {
		f.safeMode.Store(true)
		metrics.SetSafeMode(true)
		engaged = true
		f.logf("safe mode engaged: consecutive_failures=%d", failures)
	}
	f.bus.Emit(ctx, eventing.TypeError, map[string]any{
		"error":               cause.Error(),
		"consecutiveFailures": failures,
		"safe_mode":           engaged || f.safeMode.Load(),
	}, "fetcher")
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.logger != nil {
		f.logger.Printf(format, args...)
	}
}

func stationCount(raw domain.RawSnapshot) int {
	total := 0
	for _, line := range raw {
		total += len(line.Stations)
	}
	return total
}

func changePayload(records []domain.ChangeRecord) []any {
	out := make([]any, 0, len(records))
	for _, record := range records {
		entry := map[string]any{
			"type":     string(record.Type),
			"id":       record.ID,
			"from":     string(record.From),
			"to":       string(record.To),
			"severity": record.Severity,
		}
		if record.Line != "" {
			entry["line"] = record.Line
		}
		out = append(out, entry)
	}
	return out
}

func skeletonFromNetwork(network *domain.Network) domain.RawSnapshot {
	if network == nil || len(network.Lines) == 0 {
		return nil
	}
	raw := make(domain.RawSnapshot, len(network.Lines))
	for _, line := range network.Lines {
		stations := make([]domain.RawStation, 0, len(line.Stations))
		for _, st := range line.Stations {
			stations = append(stations, domain.RawStation{
				Code:          st.ID,
				Name:          st.Name,
				Status:        domain.CodeOffHours,
				TransferLines: append([]string(nil), st.TransferLines...),
			})
		}
		raw[line.ID] = domain.RawLine{Status: domain.CodeOffHours, Stations: stations}
	}
	return raw
}
