package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/logging"
	"github.com/oxspec/speccompiler/internal/specir"
)

// Orchestrator owns handler registration and runs the fixed five-phase
// pipeline over it (§4.4). It is single-threaded cooperative: handlers run
// sequentially in topologically sorted order within a phase, and each phase
// fully completes before the next begins (§5 Scheduling model).
type Orchestrator struct {
	handlers map[string]Handler
	names    []string // registration order, for stable iteration of unrelated maps
	metrics  *Metrics
	logger   *zap.Logger
}

// New creates an orchestrator. metrics may be nil, in which case handler and
// phase durations are not exported to Prometheus; they are still logged
// through the logger attached with WithLogger.
func New(metrics *Metrics) *Orchestrator {
	return &Orchestrator{handlers: make(map[string]Handler), metrics: metrics, logger: zap.NewNop()}
}

// WithLogger attaches a process logger (§A.1): RunPhase emits one structured
// record per handler dispatch and one per phase, via logging.PhaseFields.
// Passing nil restores the no-op logger.
func (o *Orchestrator) WithLogger(logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o.logger = logger
	return o
}

// Register validates and adds a handler (§4.4 Handler contract). Name must
// be non-empty and unique; prerequisites may be empty but must not name the
// handler itself. Duplicate names are a fatal registration-time error.
func (o *Orchestrator) Register(h Handler) error {
	if h.Name == "" {
		return fmt.Errorf("orchestrator: handler name must not be empty")
	}
	if _, exists := o.handlers[h.Name]; exists {
		return fmt.Errorf("orchestrator: duplicate handler name %q", h.Name)
	}
	for _, p := range h.Prerequisites {
		if p == h.Name {
			return fmt.Errorf("orchestrator: handler %q cannot declare itself as a prerequisite", h.Name)
		}
	}
	o.handlers[h.Name] = h
	o.names = append(o.names, h.Name)
	return nil
}

// Handlers returns every registered handler name, in registration order.
func (o *Orchestrator) Handlers() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// topoSort builds the dependency graph restricted to participants and runs
// Kahn's algorithm with an alphabetical tie-break (§4.4 steps 2–3).
// Prerequisites naming a handler outside the participant set are ignored,
// per the spec's adopted Open Question resolution.
func topoSort(participants map[string]Handler) ([]string, error) {
	indegree := make(map[string]int, len(participants))
	successors := make(map[string][]string, len(participants))
	for name := range participants {
		indegree[name] = 0
	}
	for name, h := range participants {
		for _, prereq := range h.Prerequisites {
			if _, inSet := participants[prereq]; !inSet {
				continue
			}
			successors[prereq] = append(successors[prereq], name)
			indegree[name]++
		}
	}

	var queue []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)

		succs := append([]string(nil), successors[next]...)
		sort.Strings(succs)
		var newlyZero []string
		for _, s := range succs {
			indegree[s]--
			if indegree[s] == 0 {
				newlyZero = append(newlyZero, s)
			}
		}
		sort.Strings(newlyZero)
		queue = mergeSortedUnique(queue, newlyZero)
	}

	if len(order) < len(participants) {
		var remaining []string
		for name := range participants {
			if indegree[name] > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, fmt.Errorf("orchestrator: dependency cycle among handlers: %v", remaining)
	}
	return order, nil
}

// mergeSortedUnique merges two already-sorted slices, preserving the
// alphabetical ordering Kahn's algorithm needs at each dequeue.
func mergeSortedUnique(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// RunPhase runs one phase: selects participants, topologically sorts them,
// and dispatches each in order (§4.4 Dispatch). A hook error is recorded as
// a fatal diagnostic but does not stop the phase — later handlers in the
// same phase still run, matching "handler errors are collected but do not
// abort mid-phase".
func (o *Orchestrator) RunPhase(phase Phase, store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
	participants := make(map[string]Handler)
	for name, h := range o.handlers {
		if h.participatesIn(phase) {
			participants[name] = h
		}
	}
	if len(participants) == 0 {
		return nil
	}

	order, err := topoSort(participants)
	if err != nil {
		diags.Add(diagnostics.Diagnostic{
			Severity: diagnostics.SeverityError,
			Phase:    string(phase),
			Message:  err.Error(),
		})
		return err
	}

	phaseStart := time.Now()
	for _, name := range order {
		h := participants[name]
		hook := h.hookFor(phase)
		start := time.Now()
		hookErr := hook(store, contexts, diags)
		duration := time.Since(start)

		if o.metrics != nil {
			o.metrics.ObserveHandler(string(phase), name, duration)
		}
		o.logger.Debug("handler dispatched", logging.PhaseFields(string(phase), name, 0, duration.Milliseconds())...)
		if hookErr != nil {
			diags.Add(diagnostics.Diagnostic{
				Severity: diagnostics.SeverityError,
				Phase:    string(phase),
				Handler:  name,
				Message:  hookErr.Error(),
			})
			o.logger.Error("handler failed", append(logging.PhaseFields(string(phase), name, 0, duration.Milliseconds()), zap.Error(hookErr))...)
		}
	}
	phaseDuration := time.Since(phaseStart)
	if o.metrics != nil {
		o.metrics.ObservePhase(string(phase), phaseDuration)
	}
	o.logger.Info("phase completed", logging.PhaseFields(string(phase), "", 0, phaseDuration.Milliseconds())...)
	return nil
}

// RunBuild runs all five phases in fixed order, gating EMIT on VERIFY's
// diagnostics (§4.4 Abort policy): if any error-severity diagnostic exists
// after VERIFY, EMIT is skipped and RunBuild reports failure, but
// TRANSFORM's committed database state is retained.
func (o *Orchestrator) RunBuild(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
	for _, phase := range Phases {
		if phase == PhaseEmit && diags.HasErrors() {
			return fmt.Errorf("orchestrator: build failed verification, skipping EMIT")
		}
		if err := o.RunPhase(phase, store, contexts, diags); err != nil {
			return err
		}
	}
	if diags.HasErrors() {
		return fmt.Errorf("orchestrator: build completed with error-severity diagnostics")
	}
	return nil
}
