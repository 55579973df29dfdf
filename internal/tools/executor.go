package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnavailable marks a tool whose backend cannot be reached, such as a
// bridged remote tool behind a dead connection.
var ErrUnavailable = errors.New("tool unavailable")

// ErrKind classifies a tool call failure.
type ErrKind string

const (
	KindNone        ErrKind = ""
	KindValidation  ErrKind = "validation"
	KindPermission  ErrKind = "permission"
	KindTimeout     ErrKind = "timeout"
	KindUnavailable ErrKind = "unavailable"
	KindExecution   ErrKind = "execution"
)

// Call is one requested tool invocation.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result is the outcome of one tool call. Content always carries text to
// feed back to the model, for failures an "Error: ..." message.
type Result struct {
	CallID   string
	Name     string
	Content  string
	Kind     ErrKind
	Fatal    bool
	Mutating bool
	Duration time.Duration
}

// Failed reports whether the call ended in any error kind.
func (r Result) Failed() bool { return r.Kind != KindNone }

// Executor validates and runs tool calls against a registry, enforcing the
// workspace sandbox and a per-call timeout.
type Executor struct {
	registry    *Registry
	sandbox     *Sandbox
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. A zero callTimeout disables the
// per-call deadline.
func NewExecutor(registry *Registry, sandbox *Sandbox, callTimeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:    registry,
		sandbox:     sandbox,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Registry exposes the underlying tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// WithRegistry returns an executor sharing this one's sandbox, timeout,
// and logger but running against a different registry. Used to give
// subagents a narrowed tool set.
func (e *Executor) WithRegistry(reg *Registry) *Executor {
	return &Executor{
		registry:    reg,
		sandbox:     e.sandbox,
		callTimeout: e.callTimeout,
		logger:      e.logger,
	}
}

// ExecuteBatch runs the calls of one model response. Calls whose resource
// keys overlap run sequentially in request order; independent calls run
// concurrently. Results come back in request order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}
	if len(calls) == 1 {
		results[0] = e.Execute(ctx, calls[0])
		return results
	}

	var wg sync.WaitGroup
	lastForKey := make(map[string]chan struct{})
	for i, call := range calls {
		var deps []chan struct{}
		done := make(chan struct{})
		for _, key := range e.resourceKeys(call) {
			if prev, ok := lastForKey[key]; ok {
				deps = append(deps, prev)
			}
			lastForKey[key] = done
		}
		wg.Add(1)
		go func(i int, call Call, deps []chan struct{}, done chan struct{}) {
			defer wg.Done()
			defer close(done)
			for _, d := range deps {
				<-d
			}
			results[i] = e.Execute(ctx, call)
		}(i, call, deps, done)
	}
	wg.Wait()
	return results
}

// Execute runs a single call through validation, sandbox resolution, and a
// timeout-bounded execution. Failures never panic outward; they come back
// as classified Results.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	res := Result{CallID: call.ID, Name: call.Name}
	finish := func(r Result) Result {
		r.Duration = time.Since(start)
		return r
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		res.Kind = KindUnavailable
		res.Content = fmt.Sprintf("Error: tool not found: %s", call.Name)
		return finish(res)
	}
	res.Mutating = IsMutating(tool)

	params := call.Arguments
	if params == nil {
		params = map[string]any{}
	}

	if err := ValidateArgs(tool.Parameters(), params); err != nil {
		res.Kind = KindValidation
		res.Content = fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err)
		return finish(res)
	}

	if pt, ok := tool.(PathParamTool); ok && e.sandbox.Enabled() {
		resolved, err := e.resolvePaths(pt, params)
		if err != nil {
			res.Kind = KindPermission
			res.Fatal = true
			res.Content = fmt.Sprintf("Error: %v", err)
			e.logger.Warn("sandbox violation", "tool", call.Name, "error", err)
			return finish(res)
		}
		params = resolved
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.callTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	out, err := e.run(runCtx, tool, params)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		res.Kind = KindTimeout
		res.Content = fmt.Sprintf("Error: tool %s timed out after %v", call.Name, e.callTimeout)
	case errors.Is(err, ErrUnavailable):
		res.Kind = KindUnavailable
		res.Content = fmt.Sprintf("Error: tool %s unavailable: %v", call.Name, err)
	case err != nil:
		res.Kind = KindExecution
		res.Content = fmt.Sprintf("Error: %v", err)
	default:
		res.Content = out
	}
	return finish(res)
}

// run executes the tool in its own goroutine so a non-cooperative tool
// cannot hold the caller past the deadline. The goroutine is left to
// finish on its own; its result is discarded after timeout.
func (e *Executor) run(ctx context.Context, tool Tool, params map[string]any) (string, error) {
	type outcome struct {
		out string
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := tool.Execute(ctx, params)
		ch <- outcome{out: out, err: err}
	}()
	select {
	case o := <-ch:
		return o.out, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolvePaths returns a copy of params with every declared path parameter
// resolved under the sandbox root.
func (e *Executor) resolvePaths(tool PathParamTool, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, name := range tool.PathParams() {
		raw, ok := params[name].(string)
		if !ok || raw == "" {
			continue
		}
		resolved, err := e.sandbox.Resolve(raw)
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}

func (e *Executor) resourceKeys(call Call) []string {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return nil
	}
	if rk, ok := tool.(ResourceKeyedTool); ok {
		params := call.Arguments
		if params == nil {
			params = map[string]any{}
		}
		return rk.ResourceKeys(params)
	}
	return nil
}
