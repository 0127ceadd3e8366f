package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/livestate/internal/canonical"
	"github.com/roach88/livestate/internal/config"
	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/ids"
	"github.com/roach88/livestate/internal/reactive"
)

// SettleTimeout bounds how long a listening resource may take to catch up
// with the stores after a step.
const SettleTimeout = 2 * time.Second

const settleInterval = 2 * time.Millisecond

// Harness executes one scenario against a fresh environment.
type Harness struct {
	env    *config.Env
	loop   *reactive.Loop
	logger *slog.Logger

	resources map[string]*config.Resource
	observers map[string]func()
}

// Option customizes Run.
type Option func(*Harness)

// WithLogger routes environment and resource logs to l. By default they
// are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh environment opened from its configuration,
// with deterministic ids and a drained release loop.
//
// Execution flow:
//  1. Open the environment (stores, identity, seed data)
//  2. Execute each step and record its trace event
//  3. Release every observer
//  4. Evaluate assertions against the trace and final data
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	if scenario.Config == nil {
		return nil, fmt.Errorf("scenario %s has no configuration", scenario.Name)
	}

	h := &Harness{
		loop:      reactive.NewLoop(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		resources: make(map[string]*config.Resource),
		observers: make(map[string]func()),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.loop.Close()

	env, err := config.Open(ctx, scenario.Config,
		config.WithLogger(h.logger),
		config.WithIDGenerator(ids.NewSequence("doc-")),
		config.WithKeyGenerator(ids.NewSequence("key-")),
		config.WithScheduler(h.loop),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open environment: %w", err)
	}
	defer env.Close()
	h.env = env

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.collectFinal(ctx, scenario, result); err != nil {
		return nil, err
	}
	h.releaseAll()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// resource returns the scenario's instance of name, creating it on first
// use so every step acts on the same container.
func (h *Harness) resource(name string) (*config.Resource, error) {
	if r, ok := h.resources[name]; ok {
		return r, nil
	}
	r, err := h.env.Resource(name)
	if err != nil {
		return nil, err
	}
	h.resources[name] = r
	return r, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	op, name, err := step.Op()
	if err != nil {
		return err
	}
	ev := TraceEvent{Op: op, Resource: name}

	var stepErr error
	if name != "" {
		r, err := h.resource(name)
		if err != nil {
			return err
		}
		ev.Result, stepErr = h.applyResource(ctx, op, r, step)
	} else {
		ev.Target, stepErr = h.applyBackend(ctx, op, step)
	}
	h.loop.Drain()

	switch {
	case stepErr != nil && step.ExpectError:
		ev.Error = stepErr.Error()
	case stepErr != nil:
		ev.Error = stepErr.Error()
		result.AddError(fmt.Sprintf("step %d (%s): %v", i, op, stepErr))
	case step.ExpectError:
		result.AddError(fmt.Sprintf("step %d (%s): expected an error", i, op))
	}

	ev.State = h.observedState(ctx, i, result)
	result.AddTrace(ev)

	h.logger.Info("scenario step completed", "step", i, "op", op, "resource", name, "error", ev.Error)
	return nil
}

func (h *Harness) applyResource(ctx context.Context, op string, r *config.Resource, step Step) (any, error) {
	switch op {
	case OpObserve:
		if _, ok := h.observers[r.Name]; ok {
			return nil, fmt.Errorf("%s is already observed", r.Name)
		}
		h.observers[r.Name] = r.Observe(func(any) {})
		r.Wait()
		return nil, nil
	case OpRelease:
		release, ok := h.observers[r.Name]
		if !ok {
			return nil, fmt.Errorf("%s is not observed", r.Name)
		}
		delete(h.observers, r.Name)
		release()
		return nil, nil
	case OpRefetch:
		return nil, r.Refetch(ctx)
	case OpAdd:
		return nonEmpty(r.Add(ctx, step.Add.Data))
	case OpDelete:
		return nil, r.Delete(ctx, step.Delete.ID)
	case OpSaveField:
		return nil, r.SaveField(ctx, step.SaveField.Field, step.SaveField.Value)
	case OpPush:
		return nonEmpty(r.Push(ctx, step.Push.Value))
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

// nonEmpty drops an empty id so it is left out of the trace.
func nonEmpty(id string, err error) (any, error) {
	if id == "" {
		return nil, err
	}
	return id, err
}

func (h *Harness) applyBackend(ctx context.Context, op string, step Step) (string, error) {
	switch op {
	case OpWrite:
		ref, err := docstore.Doc(step.Write.Path)
		if err != nil {
			return step.Write.Path, err
		}
		return step.Write.Path, h.env.Docs.SetMerge(ctx, ref, docstore.Fields(step.Write.Fields))
	case OpRemove:
		ref, err := docstore.Doc(step.Remove.Path)
		if err != nil {
			return step.Remove.Path, err
		}
		return step.Remove.Path, h.env.Docs.Delete(ctx, ref)
	case OpPut:
		return step.Put.Key, h.env.KV.Put(ctx, step.Put.Key, step.Put.Value)
	case OpUnset:
		return step.Unset.Key, h.env.KV.Delete(ctx, step.Unset.Key)
	}
	return "", fmt.Errorf("unknown operation %q", op)
}

// observedState settles and snapshots every observed resource.
func (h *Harness) observedState(ctx context.Context, step int, result *Result) map[string]any {
	if len(h.observers) == 0 {
		return nil
	}
	state := make(map[string]any, len(h.observers))
	for _, name := range slices.Sorted(maps.Keys(h.observers)) {
		r := h.resources[name]
		data, err := h.settle(ctx, r)
		if err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", step, err))
		}
		state[name] = data
	}
	return state
}

// settle waits until a listening resource holds what a one-shot read of
// the same resource returns, and returns its data.
func (h *Harness) settle(ctx context.Context, r *config.Resource) (any, error) {
	if !r.Config.Listen {
		data, _ := r.Data()
		return data, nil
	}

	probe, err := h.env.Resource(r.Name, config.Listening(false))
	if err != nil {
		return nil, err
	}
	if err := probe.Refetch(ctx); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.Name, err)
	}
	want, _ := probe.Data()

	deadline := time.Now().Add(SettleTimeout)
	for {
		got, loaded := r.Data()
		if loaded && canonical.Equal(got, want) {
			return got, nil
		}
		if time.Now().After(deadline) {
			return got, fmt.Errorf("%s did not settle within %v", r.Name, SettleTimeout)
		}
		time.Sleep(settleInterval)
	}
}

// collectFinal records the final data of every resource the scenario
// names. Unobserved resources are read once.
func (h *Harness) collectFinal(ctx context.Context, scenario *Scenario, result *Result) error {
	names := make(map[string]bool)
	for name := range h.resources {
		names[name] = true
	}
	for _, a := range scenario.Assertions {
		if a.Resource != "" {
			names[a.Resource] = true
		}
	}

	for _, name := range slices.Sorted(maps.Keys(names)) {
		if _, ok := h.observers[name]; ok {
			data, err := h.settle(ctx, h.resources[name])
			if err != nil {
				result.AddError(err.Error())
			}
			result.Final[name] = data
			continue
		}
		r, err := h.env.Resource(name, config.Listening(false))
		if err != nil {
			return err
		}
		if err := r.Refetch(ctx); err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		result.Final[name], _ = r.Data()
	}
	return nil
}

func (h *Harness) releaseAll() {
	for _, name := range slices.Sorted(maps.Keys(h.observers)) {
		h.observers[name]()
		delete(h.observers, name)
	}
	h.loop.Drain()
	for _, r := range h.resources {
		r.Wait()
	}
}
