package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cybercyphers/cyphbeta/internal/scheduler"
)

const (
	scheduleUsage   = "❌ Wrong format\nUse: .schedule set HH:MM:SS \"Your message here\"\nExample: .schedule set 14:30:00 \"Meeting time!\""
	scheduleBadTime = "❌ Invalid time format\nUse HH:MM:SS (24-hour format)\nExample: 14:30:00 or 09:15:30"
	schedulePassed  = "❌ That time has already passed for today\nSchedule for tomorrow or later time"
	scheduleNeedID  = "❌ Need schedule ID\nUse: .schedule delete [ID]\nCheck IDs with: .schedule list"
	scheduleEmpty   = "📭 No scheduled messages"
	scheduleFailed  = "❌ Schedule error"
	scheduleHelp    = "⏰ Schedule System\n\n.schedule set HH:MM:SS \"message\" - Schedule message\n.schedule list - View your schedules\n.schedule delete [ID] - Delete schedule\n\nExample: .schedule set 14:30:00 \"Meeting time!\""
)

var quoteStripper = strings.NewReplacer(`"`, "", "'", "")

type Scheduler interface {
	Set(ctx context.Context, channel, timeOfDay, text string) (scheduler.Record, error)
	List(ctx context.Context, channel string) ([]scheduler.Record, error)
	Cancel(ctx context.Context, id, channel string) (bool, error)
}

// Schedule implements ".schedule set|list|delete".
type Schedule struct {
	sched Scheduler
}

func NewSchedule(s Scheduler) *Schedule {
	return &Schedule{sched: s}
}

func (c *Schedule) Execute(ctx context.Context, req *Request) error {
	switch req.Arg(0) {
	case "set":
		return c.set(ctx, req)
	case "list":
		return c.list(ctx, req)
	case "delete":
		return c.delete(ctx, req)
	default:
		return req.Reply(ctx, scheduleHelp)
	}
}

func (c *Schedule) set(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		return req.Reply(ctx, scheduleUsage)
	}
	at := req.Args[1]
	text := strings.TrimSpace(quoteStripper.Replace(strings.Join(req.Args[2:], " ")))
	if text == "" {
		return req.Reply(ctx, scheduleUsage)
	}

	rec, err := c.sched.Set(ctx, req.Chat(), at, text)
	switch {
	case errors.Is(err, scheduler.ErrInvalidFormat):
		return req.Reply(ctx, scheduleBadTime)
	case errors.Is(err, scheduler.ErrAlreadyPassed):
		return req.Reply(ctx, schedulePassed)
	case err != nil:
		_ = req.Reply(ctx, scheduleFailed)
		return err
	}

	return req.Reply(ctx, fmt.Sprintf("✅ Message scheduled!\n\n📅 Time: %s\n💬 Message: %s\n\nID: %s", rec.TimeOfDay, rec.Payload, rec.ID))
}

func (c *Schedule) list(ctx context.Context, req *Request) error {
	recs, err := c.sched.List(ctx, req.Chat())
	if err != nil {
		_ = req.Reply(ctx, scheduleFailed)
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, scheduleEmpty)
	}

	var b strings.Builder
	b.WriteString("📅 Your Scheduled Messages:\n\n")
	for i, r := range recs {
		fmt.Fprintf(&b, "%d. %s - \"%s\"\n   ID: %s\n\n", i+1, label(r), r.Payload, r.ID)
	}
	return req.Reply(ctx, b.String())
}

func (c *Schedule) delete(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, scheduleNeedID)
	}
	id := req.Args[1]

	ok, err := c.sched.Cancel(ctx, id, req.Chat())
	if err != nil {
		_ = req.Reply(ctx, scheduleFailed)
		return err
	}
	if !ok {
		return req.Reply(ctx, "❌ Schedule not found or not yours")
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Schedule %s deleted", id))
}

func label(r scheduler.Record) string {
	if r.TimeOfDay != "" {
		return r.TimeOfDay
	}
	return r.FireAt().Format("2006-01-02 15:04:05")
}
