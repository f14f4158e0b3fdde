// Package admin holds the privileged operations: usage reports, broadcast,
// quota reset and limit changes. IsAdmin is the single authorization gate.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/quota"
	"github.com/tgrelay/tgrelay/internal/metrics"
	"github.com/tgrelay/tgrelay/internal/output"
)

// Defaults applied when the controller fields are zero.
const (
	DefaultWorkers         = 8
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultPrefix          = "📢 "
)

// Sender delivers one message to a recipient.
type Sender interface {
	Send(ctx context.Context, recipient core.UserID, text string) error
}

// Directory lists broadcast recipients and learns about unreachable ones.
type Directory interface {
	Recipients(ctx context.Context) ([]core.UserID, error)
	MarkUnreachable(ctx context.Context, user core.UserID, reason string) error
}

// ErrUnreachable marks delivery failures that will not succeed on retry
// (e.g., the user blocked the bot). Senders wrap it.
var ErrUnreachable = errors.New("recipient unreachable")

// Controller implements the admin commands.
type Controller struct {
	Tracker   *quota.Tracker
	Sender    Sender
	Directory Directory
	// Limiter paces outbound broadcast deliveries.
	Limiter *rate.Limiter
	Workers int
	Timeout time.Duration
	Prefix  string
	Logger  *logging.Logger
}

// IsAdmin reports whether user may run privileged operations.
func (c *Controller) IsAdmin(user core.UserID) bool {
	return c != nil && c.Tracker != nil && c.Tracker.IsAdmin(user)
}

func (c *Controller) authorize(op string, user core.UserID) error {
	if !c.IsAdmin(user) {
		return core.NewError(core.KindNotAuthorized, op, "not authorized")
	}
	return nil
}

// Report builds today's usage report. It performs no authorization and backs
// both Stats and the token-protected HTTP endpoint.
func Report(tracker *quota.Tracker) *output.UsageReport {
	if tracker == nil {
		return nil
	}
	report := output.NewUsageReport(
		tracker.Today(),
		tracker.Location.String(),
		tracker.Limit(),
		tracker.StatsSnapshot(),
		tracker.IsAdmin,
		tracker.Remaining,
	)
	report.ResetAt = tracker.ResetAt()
	report.GeneratedAt = time.Now().UTC()
	return report
}

// Stats renders today's usage for an admin.
func (c *Controller) Stats(_ context.Context, user core.UserID, format output.Format) (string, error) {
	if err := c.authorize("stats", user); err != nil {
		return "", err
	}
	formatter := output.NewFormatter(format)
	if format == output.FormatTable {
		formatter = &output.TableFormatter{Plain: true}
	}
	return formatter.FormatUsage(Report(c.Tracker))
}

// Surfaces a privileged operation can arrive from.
const (
	SurfaceTelegram = "telegram"
	SurfaceHTTP     = "http"
)

// ResetQuota zeroes today's count for target.
func (c *Controller) ResetQuota(_ context.Context, user, target core.UserID) error {
	if err := c.authorize("resetquota", user); err != nil {
		return err
	}
	c.resetQuota(target, zap.Int64("admin_id", int64(user)))
	return nil
}

// RaiseLimit replaces the daily limit.
func (c *Controller) RaiseLimit(_ context.Context, user core.UserID, limit int) error {
	if err := c.authorize("setlimit", user); err != nil {
		return err
	}
	_, err := c.raiseLimit(limit, zap.Int64("admin_id", int64(user)))
	return err
}

// OperatorResetQuota resets target for a caller already authenticated by the
// admin API token and returns the target's remaining allowance.
func (c *Controller) OperatorResetQuota(_ context.Context, target core.UserID) (int, error) {
	if err := c.operator("resetquota"); err != nil {
		return 0, err
	}
	c.resetQuota(target, zap.String("surface", SurfaceHTTP))
	metrics.RecordAdminAction(core.CommandResetQuota.String(), SurfaceHTTP, true)
	return c.Tracker.Remaining(target), nil
}

// OperatorRaiseLimit changes the daily limit for a caller already
// authenticated by the admin API token and returns the previous limit.
func (c *Controller) OperatorRaiseLimit(_ context.Context, limit int) (int, error) {
	if err := c.operator("setlimit"); err != nil {
		return 0, err
	}
	previous, err := c.raiseLimit(limit, zap.String("surface", SurfaceHTTP))
	metrics.RecordAdminAction(core.CommandSetLimit.String(), SurfaceHTTP, err == nil)
	return previous, err
}

func (c *Controller) operator(op string) error {
	if c == nil || c.Tracker == nil {
		return core.NewError(core.KindInternal, op, "quota tracker not configured")
	}
	return nil
}

func (c *Controller) resetQuota(target core.UserID, actor zap.Field) {
	c.Tracker.ResetUser(target)
	c.log("Quota reset", actor, zap.Int64("user_id", int64(target)))
}

func (c *Controller) raiseLimit(limit int, actor zap.Field) (int, error) {
	previous := c.Tracker.Limit()
	if err := c.Tracker.SetLimit(limit); err != nil {
		return previous, err
	}
	c.log("Daily limit changed", actor, zap.Int("previous", previous), zap.Int("limit", limit))
	return previous, nil
}

// Execute runs one admin command from a CommandRequest.
func (c *Controller) Execute(ctx context.Context, req core.CommandRequest) core.Outcome {
	out := c.execute(ctx, req)
	metrics.RecordAdminAction(req.Command.String(), SurfaceTelegram, out.Status == core.StatusServed)
	return out
}

func (c *Controller) execute(ctx context.Context, req core.CommandRequest) core.Outcome {
	arg := strings.TrimSpace(req.Argument)

	switch req.Command {
	case core.CommandStats:
		text, err := c.Stats(ctx, req.UserID, output.FormatTable)
		if err != nil {
			return core.Failed(req.Command, err)
		}
		return core.Served(req.Command, text)

	case core.CommandBroadcast:
		if err := c.authorize("broadcast", req.UserID); err != nil {
			return core.Failed(req.Command, err)
		}
		if arg == "" {
			return core.Failed(req.Command, core.NewError(core.KindInvalidArgument, "broadcast", "usage: /broadcast <message>"))
		}
		report, err := c.Broadcast(ctx, req.UserID, arg, nil)
		if err != nil {
			return core.Failed(req.Command, err)
		}
		return core.Served(req.Command, report.Summary())

	case core.CommandResetQuota:
		if err := c.authorize("resetquota", req.UserID); err != nil {
			return core.Failed(req.Command, err)
		}
		target, err := core.ParseUserID(arg)
		if err != nil || target <= 0 {
			return core.Failed(req.Command, core.NewError(core.KindInvalidArgument, "resetquota", "usage: /resetquota <user_id>"))
		}
		if err := c.ResetQuota(ctx, req.UserID, target); err != nil {
			return core.Failed(req.Command, err)
		}
		return core.Served(req.Command, fmt.Sprintf("Quota reset for user %s.", target))

	case core.CommandSetLimit:
		if err := c.authorize("setlimit", req.UserID); err != nil {
			return core.Failed(req.Command, err)
		}
		limit, err := strconv.Atoi(arg)
		if err != nil || limit <= 0 {
			return core.Failed(req.Command, core.NewError(core.KindInvalidArgument, "setlimit", "usage: /setlimit <positive number>"))
		}
		if err := c.RaiseLimit(ctx, req.UserID, limit); err != nil {
			return core.Failed(req.Command, err)
		}
		return core.Served(req.Command, fmt.Sprintf("Daily limit set to %d.", limit))

	default:
		return core.Failed(req.Command, core.NewError(core.KindUnknownCommand, "admin", "not an admin command"))
	}
}

func (c *Controller) log(msg string, fields ...zap.Field) {
	if c != nil && c.Logger != nil {
		c.Logger.Info(msg, fields...)
	}
}
