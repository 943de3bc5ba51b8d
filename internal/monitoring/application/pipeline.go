package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
	"geotech-monitor/internal/observability/metrics"
	"geotech-monitor/internal/sensorapi"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ReadingFetcher pulls the newest reading for a node from the sensor API.
type ReadingFetcher interface {
	FetchLatest(ctx context.Context, node monitoring.Node) (monitoring.Reading, error)
}

// ReadingStore persists fetched readings.
type ReadingStore interface {
	SaveReading(ctx context.Context, reading monitoring.Reading) error
}

// ThresholdSource provides the threshold snapshot for a tick.
type ThresholdSource interface {
	Snapshot(ctx context.Context) (monitoring.ThresholdSet, error)
}

// NodeOutcome is the result of processing one node within a tick.
type NodeOutcome struct {
	NodeID   string
	Status   string
	Severity monitoring.Severity
	Notified bool
	Err      error
}

// TickReport summarizes one monitoring tick.
type TickReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []NodeOutcome
}

// Errored counts nodes that failed during the tick.
func (r TickReport) Errored() int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Status == metrics.OutcomeError {
			count++
		}
	}
	return count
}

// Pipeline runs the fetch, store, classify, dedupe, dispatch sequence for
// every configured node. Nodes are processed concurrently; one node's
// failure never blocks the others.
type Pipeline struct {
	nodes      []monitoring.Node
	fetcher    ReadingFetcher
	store      ReadingStore
	thresholds ThresholdSource
	fallback   monitoring.ThresholdSet
	evaluator  *Evaluator
	dedup      *Deduplicator
	dispatcher *Dispatcher
	logger     *log.Logger
	clock      Clock
	deadline   time.Duration

	mu            sync.Mutex
	lastProcessed map[string]time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithReadingStore enables write-through persistence of fetched readings.
func WithReadingStore(store ReadingStore) PipelineOption {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithThresholdSource sets the primary threshold source. The configured
// fallback set is used when the source fails or returns nothing.
func WithThresholdSource(source ThresholdSource) PipelineOption {
	return func(p *Pipeline) {
		p.thresholds = source
	}
}

// WithClock overrides the pipeline clock.
func WithClock(clock Clock) PipelineOption {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithTickDeadline bounds each tick.
func WithTickDeadline(deadline time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if deadline > 0 {
			p.deadline = deadline
		}
	}
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	nodes []monitoring.Node,
	fetcher ReadingFetcher,
	fallback monitoring.ThresholdSet,
	evaluator *Evaluator,
	dedup *Deduplicator,
	dispatcher *Dispatcher,
	logger *log.Logger,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if len(nodes) == 0 {
		return nil, errors.New("pipeline: no nodes configured")
	}
	if fetcher == nil {
		return nil, errors.New("pipeline: nil fetcher")
	}
	if evaluator == nil {
		return nil, errors.New("pipeline: nil evaluator")
	}
	if dedup == nil {
		return nil, errors.New("pipeline: nil deduplicator")
	}
	if dispatcher == nil {
		return nil, errors.New("pipeline: nil dispatcher")
	}
	if logger == nil {
		logger = log.Default()
	}
	pipeline := &Pipeline{
		nodes:         nodes,
		fetcher:       fetcher,
		fallback:      fallback,
		evaluator:     evaluator,
		dedup:         dedup,
		dispatcher:    dispatcher,
		logger:        logger,
		clock:         systemClock{},
		deadline:      45 * time.Second,
		lastProcessed: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// RunTick processes every node once. It returns a report even when some
// nodes fail; the error is non-nil only when the tick as a whole could not
// run.
func (p *Pipeline) RunTick(ctx context.Context) (TickReport, error) {
	started := p.clock.Now()

	tickCtx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	thresholds := p.snapshotThresholds(tickCtx)

	outcomes := make([]NodeOutcome, len(p.nodes))
	var wg sync.WaitGroup
	for i, node := range p.nodes {
		wg.Add(1)
		go func(i int, node monitoring.Node) {
			defer wg.Done()
			outcomes[i] = p.processNode(tickCtx, node, thresholds)
		}(i, node)
	}
	wg.Wait()

	report := TickReport{
		StartedAt: started,
		Duration:  p.clock.Now().Sub(started),
		Outcomes:  outcomes,
	}

	result := metrics.ResultSuccess
	if report.Errored() > 0 {
		result = metrics.ResultError
	}
	metrics.ObserveTick(result, report.Duration)
	p.logger.Printf("tick done nodes=%d errored=%d duration=%s", len(outcomes), report.Errored(), report.Duration)
	return report, nil
}

func (p *Pipeline) snapshotThresholds(ctx context.Context) monitoring.ThresholdSet {
	if p.thresholds == nil {
		return p.fallback
	}
	set, err := p.thresholds.Snapshot(ctx)
	if err != nil {
		p.logger.Printf("threshold snapshot failed, using configured limits: %v", err)
		return p.fallback
	}
	if len(set) == 0 {
		return p.fallback
	}
	return set
}

func (p *Pipeline) processNode(ctx context.Context, node monitoring.Node, thresholds monitoring.ThresholdSet) NodeOutcome {
	outcome := NodeOutcome{NodeID: node.ID}

	reading, err := p.fetcher.FetchLatest(ctx, node)
	if err != nil {
		outcome.Status = metrics.OutcomeError
		outcome.Err = err
		metrics.IncNodeOutcome(metrics.OutcomeError)
		if sensorapi.IsTransient(err) {
			p.logger.Printf("fetch node=%s transient failure: %v", node.ID, err)
		} else {
			p.logger.Printf("fetch node=%s failed: %v", node.ID, err)
		}
		return outcome
	}

	if !p.markProcessed(node.ID, reading.Timestamp) {
		outcome.Status = metrics.OutcomeSkipped
		metrics.IncNodeOutcome(metrics.OutcomeSkipped)
		return outcome
	}

	if p.store != nil {
		if err := p.store.SaveReading(ctx, reading); err != nil {
			p.logger.Printf("store reading node=%s: %v", node.ID, err)
		}
	}

	severity, breaches := p.evaluator.Classify(reading, thresholds)
	outcome.Status = metrics.OutcomeEvaluated
	outcome.Severity = severity
	metrics.IncNodeOutcome(metrics.OutcomeEvaluated)

	now := p.clock.Now()
	if !p.dedup.Admit(node.ID, severity, now) {
		return outcome
	}

	metrics.IncAlertEvent(severity.String())
	outcome.Notified = true
	if err := p.dispatcher.Dispatch(ctx, node, severity, breaches, reading.Timestamp); err != nil {
		outcome.Err = err
	}
	return outcome
}

// markProcessed records the reading timestamp and reports whether it is
// newer than the last one handled for the node.
func (p *Pipeline) markProcessed(nodeID string, ts time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastProcessed[nodeID]
	if ok && !ts.After(last) {
		return false
	}
	p.lastProcessed[nodeID] = ts
	return true
}
