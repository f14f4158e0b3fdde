package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/metrics"
)

// DeliveryReport is the per-recipient result of a broadcast.
type DeliveryReport struct {
	Succeeded map[core.UserID]struct{} `json:"-"`
	Failed    map[core.UserID]error    `json:"-"`
}

// Summary renders the report for the requesting admin.
func (r DeliveryReport) Summary() string {
	msg := fmt.Sprintf("Broadcast sent to %d users.", len(r.Succeeded))
	if n := len(r.Failed); n > 0 {
		msg += fmt.Sprintf(" %d failed.", n)
	}
	return msg
}

// FailedIDs lists recipients whose delivery failed, sorted.
func (r DeliveryReport) FailedIDs() []core.UserID {
	ids := make([]core.UserID, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Broadcast delivers message to every recipient independently. A nil
// recipients list means every known user: the directory merged with users the
// tracker has seen. One recipient's failure never aborts the others.
func (c *Controller) Broadcast(ctx context.Context, user core.UserID, message string, recipients []core.UserID) (DeliveryReport, error) {
	report := DeliveryReport{
		Succeeded: make(map[core.UserID]struct{}),
		Failed:    make(map[core.UserID]error),
	}
	if err := c.authorize("broadcast", user); err != nil {
		return report, err
	}
	if c.Sender == nil {
		return report, core.NewError(core.KindInternal, "broadcast", "no sender configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if recipients == nil {
		recipients = c.knownRecipients(ctx)
	}
	recipients = dedupe(recipients)
	text := c.prefix() + message

	jobs := make(chan core.UserID)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	workers := c.workers()
	if workers > len(recipients) {
		workers = len(recipients)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				err := c.deliver(ctx, id, text)
				mu.Lock()
				if err != nil {
					report.Failed[id] = err
				} else {
					report.Succeeded[id] = struct{}{}
				}
				mu.Unlock()
			}
		}()
	}

	for _, id := range recipients {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	metrics.RecordBroadcast(len(report.Succeeded), len(report.Failed))
	c.log("Broadcast finished",
		zap.Int64("admin_id", int64(user)),
		zap.Int("recipients", len(recipients)),
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// deliver sends to one recipient under its own timeout. Panics in the sender
// are confined to this recipient.
func (c *Controller) deliver(ctx context.Context, id core.UserID, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPanic()
			err = fmt.Errorf("send panic: %v", r)
		}
	}()

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	err = c.Sender.Send(sendCtx, id, text)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("Broadcast delivery failed", zap.Int64("user_id", int64(id)), zap.Error(err))
		}
		if errors.Is(err, ErrUnreachable) && c.Directory != nil {
			_ = c.Directory.MarkUnreachable(ctx, id, err.Error())
		}
	}
	return err
}

func (c *Controller) knownRecipients(ctx context.Context) []core.UserID {
	var ids []core.UserID
	if c.Directory != nil {
		stored, err := c.Directory.Recipients(ctx)
		if err != nil && c.Logger != nil {
			c.Logger.Warn("Failed to list stored recipients", zap.Error(err))
		}
		ids = append(ids, stored...)
	}
	if c.Tracker != nil {
		ids = append(ids, c.Tracker.KnownUsers()...)
	}
	return ids
}

func dedupe(ids []core.UserID) []core.UserID {
	seen := make(map[core.UserID]struct{}, len(ids))
	out := make([]core.UserID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Controller) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers
}

func (c *Controller) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultDeliveryTimeout
}

func (c *Controller) prefix() string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return DefaultPrefix
}
