package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
	admincmd "github.com/tgrelay/tgrelay/internal/core/admin"
	"github.com/tgrelay/tgrelay/internal/core/quota"
	"github.com/tgrelay/tgrelay/internal/core/router"
)

const (
	user  core.UserID = 7
	admin core.UserID = 1
)

type fakeAdapter struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, argument string) (*adapter.Result, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Call(ctx context.Context, argument string) (*adapter.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, argument)
	}
	return &adapter.Result{Text: "ok:" + argument, Source: f.name, StatusCode: 200}, nil
}

type fakeAdmin struct {
	got core.CommandRequest
}

func (f *fakeAdmin) Execute(_ context.Context, req core.CommandRequest) core.Outcome {
	f.got = req
	return core.Served(req.Command, "admin done")
}

func newDispatcher(t *testing.T, limit int, backend *fakeAdapter) *Dispatcher {
	t.Helper()
	tracker := quota.NewTracker(core.NewQuotaPolicy(limit, []core.UserID{admin}), time.UTC)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tracker.Clock = func() time.Time { return now }

	r, err := router.New(map[core.Command]adapter.Adapter{core.CommandTerabox: backend})
	require.NoError(t, err)

	return &Dispatcher{Tracker: tracker, Router: r, Timeout: time.Second}
}

func request(cmd core.Command, arg string) core.CommandRequest {
	return core.CommandRequest{UserID: user, Command: cmd, Argument: arg}
}

func TestDispatchServedServedDenied(t *testing.T) {
	backend := &fakeAdapter{name: "terabox"}
	d := newDispatcher(t, 2, backend)
	ctx := context.Background()

	var statuses []core.Status
	for i := 0; i < 3; i++ {
		out := d.Dispatch(ctx, request(core.CommandTerabox, "https://terabox.com/s/1"))
		statuses = append(statuses, out.Status)
	}
	require.Equal(t, []core.Status{core.StatusServed, core.StatusServed, core.StatusDenied}, statuses)
	require.Equal(t, int32(2), backend.calls.Load())
	require.Equal(t, 2, d.Tracker.StatsSnapshot()[user])
}

func TestDispatchDeniedCarriesResetTime(t *testing.T) {
	d := newDispatcher(t, 1, &fakeAdapter{name: "terabox"})
	ctx := context.Background()

	first := d.Dispatch(ctx, request(core.CommandTerabox, "x"))
	require.Equal(t, core.StatusServed, first.Status)
	require.Equal(t, 0, first.Remaining)
	require.Equal(t, "ok:x", first.Payload)
	require.Equal(t, "terabox", first.Source)

	denied := d.Dispatch(ctx, request(core.CommandTerabox, "x"))
	require.Equal(t, core.StatusDenied, denied.Status)
	require.Equal(t, core.KindQuotaExceeded, denied.Kind())
	require.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), denied.ResetAt)
}

func TestDispatchUnknownCommandLeavesQuotaUntouched(t *testing.T) {
	d := newDispatcher(t, 2, &fakeAdapter{name: "terabox"})
	ctx := context.Background()
	d.Dispatch(ctx, request(core.CommandTerabox, "x"))
	before := d.Tracker.StatsSnapshot()

	out := d.Dispatch(ctx, request(core.ParseCommand("/foo"), "bar"))
	require.Equal(t, core.StatusFailed, out.Status)
	require.Equal(t, core.KindUnknownCommand, out.Kind())
	require.Equal(t, before, d.Tracker.StatsSnapshot())
	require.True(t, d.Tracker.CanConsume(user))
}

func TestDispatchUpstreamFailureLeavesQuotaUntouched(t *testing.T) {
	backend := &fakeAdapter{name: "terabox", fn: func(context.Context, string) (*adapter.Result, error) {
		return nil, core.NewError(core.KindUpstreamUnavailable, "terabox", "backend unreachable")
	}}
	d := newDispatcher(t, 1, backend)

	for i := 0; i < 3; i++ {
		out := d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))
		require.Equal(t, core.StatusFailed, out.Status)
		require.Equal(t, core.KindUpstreamUnavailable, out.Kind())
		require.True(t, d.Tracker.CanConsume(user))
	}
	require.Equal(t, 0, d.Tracker.Used(user))
}

func TestDispatchFailureKindsAreSurfaced(t *testing.T) {
	for _, kind := range []core.ErrorKind{core.KindInvalidArgument, core.KindUpstreamMalformed} {
		backend := &fakeAdapter{name: "terabox", fn: func(context.Context, string) (*adapter.Result, error) {
			return nil, core.NewError(kind, "terabox", "nope")
		}}
		d := newDispatcher(t, 1, backend)

		out := d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))
		require.Equal(t, kind, out.Kind())
		require.Equal(t, 1, d.Tracker.Remaining(user))
	}
}

func TestDispatchTimeoutIsUnavailable(t *testing.T) {
	backend := &fakeAdapter{name: "terabox", fn: func(ctx context.Context, _ string) (*adapter.Result, error) {
		// Ignores ctx on purpose.
		time.Sleep(200 * time.Millisecond)
		return &adapter.Result{Text: "late"}, nil
	}}
	d := newDispatcher(t, 1, backend)
	d.Timeout = 20 * time.Millisecond

	started := time.Now()
	out := d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))
	require.Less(t, time.Since(started), 150*time.Millisecond)
	require.Equal(t, core.KindUpstreamUnavailable, out.Kind())
	require.Equal(t, 0, d.Tracker.Used(user))
}

func TestDispatchRecoversAdapterPanic(t *testing.T) {
	backend := &fakeAdapter{name: "terabox", fn: func(context.Context, string) (*adapter.Result, error) {
		panic("boom")
	}}
	d := newDispatcher(t, 1, backend)

	out := d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))
	require.Equal(t, core.StatusFailed, out.Status)
	require.Equal(t, core.KindInternal, out.Kind())
	require.True(t, d.Tracker.CanConsume(user))

	backend.fn = nil
	require.Equal(t, core.StatusServed, d.Dispatch(context.Background(), request(core.CommandTerabox, "x")).Status)
}

func TestDispatchAdminIsCountedButNeverDenied(t *testing.T) {
	d := newDispatcher(t, 1, &fakeAdapter{name: "terabox"})

	for i := 0; i < 4; i++ {
		out := d.Dispatch(context.Background(), core.CommandRequest{UserID: admin, Command: core.CommandTerabox, Argument: "x"})
		require.Equal(t, core.StatusServed, out.Status)
		require.Equal(t, quota.Unlimited, out.Remaining)
	}
	require.Equal(t, 4, d.Tracker.StatsSnapshot()[admin])
}

func TestDispatchInfoCommandsSkipQuota(t *testing.T) {
	backend := &fakeAdapter{name: "terabox"}
	d := newDispatcher(t, 1, backend)
	d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))

	for _, cmd := range []core.Command{core.CommandStart, core.CommandHelp, core.CommandQuota} {
		out := d.Dispatch(context.Background(), request(cmd, ""))
		require.Equal(t, core.StatusServed, out.Status, cmd.String())
		require.Equal(t, 0, out.Remaining)
	}
	require.Equal(t, int32(1), backend.calls.Load())
}

func TestDispatchAdminCommandsDelegate(t *testing.T) {
	d := newDispatcher(t, 1, &fakeAdapter{name: "terabox"})

	out := d.Dispatch(context.Background(), request(core.CommandStats, ""))
	require.Equal(t, core.KindNotAuthorized, out.Kind())

	handler := &fakeAdmin{}
	d.Admin = handler
	out = d.Dispatch(context.Background(), request(core.CommandBroadcast, "hello"))
	require.Equal(t, "admin done", out.Payload)
	require.Equal(t, "hello", handler.got.Argument)
	require.Equal(t, 0, d.Tracker.Used(user))
}

func TestDispatchResetQuotaRestoresFullAllowance(t *testing.T) {
	backend := &fakeAdapter{name: "terabox"}
	d := newDispatcher(t, 2, backend)
	d.Admin = &admincmd.Controller{Tracker: d.Tracker}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.Equal(t, core.StatusServed, d.Dispatch(ctx, request(core.CommandTerabox, "x")).Status)
	}
	require.Equal(t, core.StatusDenied, d.Dispatch(ctx, request(core.CommandTerabox, "x")).Status)

	reset := d.Dispatch(ctx, core.CommandRequest{UserID: admin, Command: core.CommandResetQuota, Argument: "7"})
	require.Equal(t, core.StatusServed, reset.Status)

	out := d.Dispatch(ctx, request(core.CommandTerabox, "x"))
	require.Equal(t, core.StatusServed, out.Status)
	require.Equal(t, 1, out.Remaining)
	require.Equal(t, int32(3), backend.calls.Load())
}

func TestDispatchConcurrentRequestsNeverOverAdmit(t *testing.T) {
	const limit = 3
	release := make(chan struct{})
	backend := &fakeAdapter{name: "terabox", fn: func(ctx context.Context, arg string) (*adapter.Result, error) {
		<-release
		return &adapter.Result{Text: arg}, nil
	}}
	d := newDispatcher(t, limit, backend)

	var wg sync.WaitGroup
	outcomes := make(chan core.Outcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))
		}()
	}

	require.Eventually(t, func() bool { return backend.calls.Load() == limit }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	counts := map[core.Status]int{}
	for out := range outcomes {
		counts[out.Status]++
	}
	require.Equal(t, limit, counts[core.StatusServed])
	require.Equal(t, 10-limit, counts[core.StatusDenied])
	require.Equal(t, limit, d.Tracker.Used(user))
}

func TestNilDispatcherFails(t *testing.T) {
	var d *Dispatcher
	out := d.Dispatch(context.Background(), request(core.CommandTerabox, "x"))
	require.Equal(t, core.KindInternal, out.Kind())
}
