package cache

import (
	"context"
	"time"
)

// ReceiptCache records scheduled sends the backend has accepted.
type ReceiptCache interface {
	StoreSent(ctx context.Context, scheduleID, remoteMessageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, scheduleID string) (bool, error)
}
