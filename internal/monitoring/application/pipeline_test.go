package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
	"geotech-monitor/internal/observability/metrics"
)

type stubFetcher struct {
	mu       sync.Mutex
	readings map[string]monitoring.Reading
	errs     map[string]error
}

func (f *stubFetcher) FetchLatest(_ context.Context, node monitoring.Node) (monitoring.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[node.ID]; ok {
		return monitoring.Reading{}, err
	}
	reading, ok := f.readings[node.ID]
	if !ok {
		return monitoring.Reading{}, errors.New("no reading")
	}
	return reading, nil
}

type recordingChannel struct {
	mu       sync.Mutex
	subjects []string
}

func (c *recordingChannel) Send(_ context.Context, subject, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return nil
}

func (c *recordingChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...)
}

// slowNodeFetcher blocks on one node until the tick context expires and
// answers immediately for the rest.
type slowNodeFetcher struct {
	slowID   string
	readings map[string]monitoring.Reading
}

func (f *slowNodeFetcher) FetchLatest(ctx context.Context, node monitoring.Node) (monitoring.Reading, error) {
	if node.ID == f.slowID {
		<-ctx.Done()
		return monitoring.Reading{}, ctx.Err()
	}
	reading, ok := f.readings[node.ID]
	if !ok {
		return monitoring.Reading{}, errors.New("no reading")
	}
	return reading, nil
}

type failingStore struct{}

func (failingStore) SaveReading(context.Context, monitoring.Reading) error {
	return errors.New("db down")
}

type stubThresholdSource struct {
	set monitoring.ThresholdSet
	err error
}

func (s stubThresholdSource) Snapshot(context.Context) (monitoring.ThresholdSet, error) {
	return s.set, s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testNodes() []monitoring.Node {
	return []monitoring.Node{
		{ID: "node-1", Instrument: monitoring.InstrumentTiltmeter, Name: "North Abutment"},
		{ID: "node-2", Instrument: monitoring.InstrumentTiltmeter, Name: "South Abutment"},
	}
}

func tiltReading(nodeID string, ts time.Time, x float64) monitoring.Reading {
	return monitoring.Reading{
		NodeID:    nodeID,
		Timestamp: ts,
		Channels:  []monitoring.ChannelValue{{Channel: "x", Value: x}},
	}
}

func pipelineThresholds() monitoring.ThresholdSet {
	set := monitoring.ThresholdSet{}
	for _, nodeID := range []string{"node-1", "node-2"} {
		set.Add(monitoring.Threshold{NodeID: nodeID, Channel: "x", WarningLimit: 5, AlertLimit: 10})
	}
	return set
}

func newTestPipeline(t *testing.T, fetcher ReadingFetcher, channel *recordingChannel, clock *fakeClock, opts ...PipelineOption) *Pipeline {
	t.Helper()
	dispatcher, err := NewDispatcher(channel, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	opts = append(opts, WithClock(clock))
	pipeline, err := NewPipeline(
		testNodes(),
		fetcher,
		pipelineThresholds(),
		NewEvaluator(0.10),
		NewDeduplicator(time.Hour),
		dispatcher,
		nil,
		opts...,
	)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline
}

func TestPipeline_FailingNodeDoesNotBlockOthers(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &stubFetcher{
		readings: map[string]monitoring.Reading{
			"node-2": tiltReading("node-2", start, 12),
		},
		errs: map[string]error{"node-1": errors.New("connection refused")},
	}

	pipeline := newTestPipeline(t, fetcher, channel, clock)
	report, err := pipeline.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	byNode := map[string]NodeOutcome{}
	for _, outcome := range report.Outcomes {
		byNode[outcome.NodeID] = outcome
	}
	if byNode["node-1"].Status != metrics.OutcomeError {
		t.Fatalf("node-1 should error, got %+v", byNode["node-1"])
	}
	if byNode["node-2"].Status != metrics.OutcomeEvaluated || !byNode["node-2"].Notified {
		t.Fatalf("node-2 should evaluate and notify, got %+v", byNode["node-2"])
	}
	if len(channel.sent()) != 1 {
		t.Fatalf("expected one notification, got %v", channel.sent())
	}
}

func TestPipeline_SkipsUnchangedReading(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &stubFetcher{
		readings: map[string]monitoring.Reading{
			"node-1": tiltReading("node-1", start, 2),
			"node-2": tiltReading("node-2", start, 2),
		},
	}

	pipeline := newTestPipeline(t, fetcher, channel, clock)
	if _, err := pipeline.RunTick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	clock.advance(time.Minute)
	report, err := pipeline.RunTick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	for _, outcome := range report.Outcomes {
		if outcome.Status != metrics.OutcomeSkipped {
			t.Fatalf("unchanged reading should be skipped, got %+v", outcome)
		}
	}
}

func TestPipeline_StoreFailureIsNonFatal(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &stubFetcher{
		readings: map[string]monitoring.Reading{
			"node-1": tiltReading("node-1", start, 12),
			"node-2": tiltReading("node-2", start, 2),
		},
	}

	pipeline := newTestPipeline(t, fetcher, channel, clock, WithReadingStore(failingStore{}))
	report, err := pipeline.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}
	for _, outcome := range report.Outcomes {
		if outcome.Status != metrics.OutcomeEvaluated {
			t.Fatalf("store failure must not fail the node, got %+v", outcome)
		}
	}
	if len(channel.sent()) != 1 {
		t.Fatalf("expected node-1 alert despite store failure, got %v", channel.sent())
	}
}

func TestPipeline_FallsBackToConfiguredThresholds(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &stubFetcher{
		readings: map[string]monitoring.Reading{
			"node-1": tiltReading("node-1", start, 12),
			"node-2": tiltReading("node-2", start, 2),
		},
	}

	source := stubThresholdSource{err: errors.New("db down")}
	pipeline := newTestPipeline(t, fetcher, channel, clock, WithThresholdSource(source))
	report, err := pipeline.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	byNode := map[string]NodeOutcome{}
	for _, outcome := range report.Outcomes {
		byNode[outcome.NodeID] = outcome
	}
	if byNode["node-1"].Severity != monitoring.SeverityAlert {
		t.Fatalf("fallback thresholds should classify node-1 as alert, got %+v", byNode["node-1"])
	}
}

func TestPipeline_StoredThresholdsOverrideFallback(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &stubFetcher{
		readings: map[string]monitoring.Reading{
			"node-1": tiltReading("node-1", start, 12),
			"node-2": tiltReading("node-2", start, 2),
		},
	}

	// Stored limits are far above the reading, so node-1 stays normal even
	// though the configured fallback would alert.
	stored := monitoring.ThresholdSet{}
	stored.Add(monitoring.Threshold{NodeID: "node-1", Channel: "x", WarningLimit: 50, AlertLimit: 100})
	stored.Add(monitoring.Threshold{NodeID: "node-2", Channel: "x", WarningLimit: 50, AlertLimit: 100})

	pipeline := newTestPipeline(t, fetcher, channel, clock, WithThresholdSource(stubThresholdSource{set: stored}))
	report, err := pipeline.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}
	for _, outcome := range report.Outcomes {
		if outcome.Severity != monitoring.SeverityNormal {
			t.Fatalf("stored thresholds should keep nodes normal, got %+v", outcome)
		}
	}
	if len(channel.sent()) != 0 {
		t.Fatalf("no notifications expected, got %v", channel.sent())
	}
}

func TestPipeline_TickDeadlineCutsOffSlowNode(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &slowNodeFetcher{
		slowID: "node-1",
		readings: map[string]monitoring.Reading{
			"node-2": tiltReading("node-2", start, 12),
		},
	}

	pipeline := newTestPipeline(t, fetcher, channel, clock, WithTickDeadline(100*time.Millisecond))

	began := time.Now()
	report, err := pipeline.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if elapsed := time.Since(began); elapsed > 2*time.Second {
		t.Fatalf("tick should finish shortly after the deadline, took %s", elapsed)
	}

	byNode := map[string]NodeOutcome{}
	for _, outcome := range report.Outcomes {
		byNode[outcome.NodeID] = outcome
	}
	slow := byNode["node-1"]
	if slow.Status != metrics.OutcomeError || slow.Err == nil {
		t.Fatalf("node blocked past the deadline should error, got %+v", slow)
	}
	if !errors.Is(slow.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", slow.Err)
	}
	fast := byNode["node-2"]
	if fast.Status != metrics.OutcomeEvaluated || !fast.Notified {
		t.Fatalf("fast node should evaluate and notify, got %+v", fast)
	}
	if len(channel.sent()) != 1 {
		t.Fatalf("expected one notification, got %v", channel.sent())
	}
}

func TestPipeline_CooldownAcrossTicks(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	channel := &recordingChannel{}
	fetcher := &stubFetcher{
		readings: map[string]monitoring.Reading{
			"node-1": tiltReading("node-1", start, 6),
			"node-2": tiltReading("node-2", start, 2),
		},
	}

	pipeline := newTestPipeline(t, fetcher, channel, clock)
	if _, err := pipeline.RunTick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if len(channel.sent()) != 1 {
		t.Fatalf("expected warning notification, got %v", channel.sent())
	}

	// Same severity on a newer reading inside the cooldown: suppressed.
	clock.advance(time.Minute)
	fetcher.mu.Lock()
	fetcher.readings["node-1"] = tiltReading("node-1", start.Add(time.Minute), 6.5)
	fetcher.mu.Unlock()
	if _, err := pipeline.RunTick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(channel.sent()) != 1 {
		t.Fatalf("repeat warning should be suppressed, got %v", channel.sent())
	}

	// Escalation on a newer reading: dispatched despite the cooldown.
	clock.advance(time.Minute)
	fetcher.mu.Lock()
	fetcher.readings["node-1"] = tiltReading("node-1", start.Add(2*time.Minute), 12)
	fetcher.mu.Unlock()
	if _, err := pipeline.RunTick(context.Background()); err != nil {
		t.Fatalf("third tick: %v", err)
	}
	if len(channel.sent()) != 2 {
		t.Fatalf("escalation should notify, got %v", channel.sent())
	}
}
