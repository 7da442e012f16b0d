package scheduler

import "time"

type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
)

// Record is one scheduled send. JSON keys follow the existing schedules.json layout.
type Record struct {
	ID        string `json:"id"`
	TimeOfDay string `json:"time,omitempty"`
	Payload   string `json:"message"`
	Target    string `json:"targetJid"`
	FireAtMs  int64  `json:"scheduleTime"`
	Status    Status `json:"status"`
	SentAtMs  int64  `json:"sentAt,omitempty"`
}

func (r Record) FireAt() time.Time {
	return time.UnixMilli(r.FireAtMs)
}

// SentAt is the zero time unless the record has been delivered.
func (r Record) SentAt() time.Time {
	if r.SentAtMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.SentAtMs)
}

func (r Record) IsPending() bool { return r.Status == Pending }
