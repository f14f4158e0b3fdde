// Package dispatch runs the per-request state machine: quota admission,
// routing, the bounded backend call and accounting of the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
	"github.com/tgrelay/tgrelay/internal/core/quota"
	"github.com/tgrelay/tgrelay/internal/core/router"
	"github.com/tgrelay/tgrelay/internal/metrics"
)

// DefaultTimeout bounds a backend call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// AdminHandler executes privileged commands.
type AdminHandler interface {
	Execute(ctx context.Context, req core.CommandRequest) core.Outcome
}

// Dispatcher turns CommandRequests into Outcomes.
//
// Backend commands follow Received, Checked, then Denied or Routed, then
// Served or Failed. Quota is consumed only on Served.
type Dispatcher struct {
	Tracker *quota.Tracker
	Router  *router.Router
	Admin   AdminHandler
	Timeout time.Duration
	Logger  *logging.Logger
	Clock   func() time.Time
}

// Dispatch handles one request. It never panics and never returns a zero Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.CommandRequest) (out core.Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = d.now()
	}
	dispatchID := uuid.New().String()
	started := d.now()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPanic()
			out = core.Failed(req.Command, core.NewError(core.KindInternal, "dispatch", fmt.Sprintf("panic: %v", r)))
		}
		out.Command = req.Command
		metrics.RecordDispatch(req.Command.String(), out.Status.String(), string(out.Kind()))
		d.logOutcome(dispatchID, req, out, d.now().Sub(started))
	}()

	if d == nil || d.Tracker == nil {
		return core.Failed(req.Command, core.NewError(core.KindInternal, "dispatch", "dispatcher is not configured"))
	}

	switch req.Command.Class() {
	case core.ClassInfo:
		return d.info(req)
	case core.ClassAdmin:
		if d.Admin == nil {
			return core.Failed(req.Command, core.NewError(core.KindNotAuthorized, req.Command.String(), "admin commands are disabled"))
		}
		return d.Admin.Execute(ctx, req)
	}

	// Checked
	reservation, err := d.Tracker.Reserve(req.UserID)
	if err != nil {
		metrics.RecordQuotaDenied(req.Command.String())
		resetAt := d.Tracker.ResetAt()
		var domainErr *core.Error
		if errors.As(err, &domainErr) && !domainErr.ResetAt.IsZero() {
			resetAt = domainErr.ResetAt
		}
		out := core.Denied(req.Command, "daily limit reached", resetAt)
		out.Err = err
		return out
	}

	// Routed
	a, ok := d.Router.Resolve(req.Command)
	if !ok {
		reservation.Release()
		return core.Failed(req.Command, core.NewError(core.KindUnknownCommand, "route", "unknown command"))
	}

	result, err := d.call(ctx, a, req.Argument)
	if err != nil {
		reservation.Release()
		out := core.Failed(req.Command, err)
		out.Source = a.Name()
		out.Remaining = d.Tracker.Remaining(req.UserID)
		return out
	}

	// Served
	reservation.Commit()
	out = core.Served(req.Command, result.Text)
	out.Source = result.Source
	out.Remaining = d.Tracker.Remaining(req.UserID)
	out.ResetAt = d.Tracker.ResetAt()
	return out
}

// info answers commands that never touch a backend or consume quota.
func (d *Dispatcher) info(req core.CommandRequest) core.Outcome {
	out := core.Served(req.Command, "")
	out.Remaining = d.Tracker.Remaining(req.UserID)
	out.ResetAt = d.Tracker.ResetAt()
	return out
}

type callResult struct {
	result *adapter.Result
	err    error
}

// call runs the adapter under the dispatch timeout. The adapter runs in its
// own goroutine so a backend that ignores ctx cannot hold the request past
// the deadline; panics inside the adapter are converted to internal errors.
func (d *Dispatcher) call(ctx context.Context, a adapter.Adapter, argument string) (*adapter.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	started := d.now()
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordPanic()
				done <- callResult{err: core.NewError(core.KindInternal, a.Name(), fmt.Sprintf("adapter panic: %v", r))}
			}
		}()
		result, err := a.Call(ctx, argument)
		done <- callResult{result: result, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = core.WrapError(core.KindUpstreamUnavailable, a.Name(), "backend timed out", ctx.Err())
	}

	if res.err == nil && res.result == nil {
		res.err = core.NewError(core.KindUpstreamMalformed, a.Name(), "backend returned no result")
	}
	if res.err != nil && core.KindOf(res.err) == core.KindInternal && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.err = core.WrapError(core.KindUpstreamUnavailable, a.Name(), "backend timed out", res.err)
	}

	statusCode := 0
	if res.result != nil {
		statusCode = res.result.StatusCode
	}
	var domainErr *core.Error
	if errors.As(res.err, &domainErr) {
		statusCode = domainErr.StatusCode
	}
	if core.KindOf(res.err) != core.KindInvalidArgument {
		metrics.RecordUpstream(a.Name(), res.err == nil, statusCode, d.now().Sub(started))
	}
	return res.result, res.err
}

func (d *Dispatcher) logOutcome(dispatchID string, req core.CommandRequest, out core.Outcome, elapsed time.Duration) {
	if d == nil || d.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("dispatch_id", dispatchID),
		zap.String("command", req.Command.String()),
		zap.Int64("user_id", int64(req.UserID)),
		zap.String("status", out.Status.String()),
		zap.Duration("duration", elapsed),
	}
	if out.Source != "" {
		fields = append(fields, zap.String("backend", out.Source))
	}
	if kind := out.Kind(); kind != "" {
		fields = append(fields, zap.String("kind", string(kind)))
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}

	switch {
	case out.Kind() == core.KindInternal:
		d.Logger.Error("Dispatch failed", fields...)
	case out.Status == core.StatusFailed:
		d.Logger.Warn("Dispatch failed", fields...)
	default:
		d.Logger.Info("Dispatch completed", fields...)
	}
}

func (d *Dispatcher) timeout() time.Duration {
	if d != nil && d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}
