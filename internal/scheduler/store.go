package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cybercyphers/cyphbeta/internal/fsstore"
)

// Store persists scheduled sends. Every mutation is a full read-modify-write.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, rec Record) error
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	Remove(ctx context.Context, id, target string) (bool, error)
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// FileStore keeps every record in one JSON array file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

func (s *FileStore) Append(ctx context.Context, rec Record) error {
	return s.mutate(ctx, func(recs []Record) ([]Record, bool) {
		return append(recs, rec), true
	})
}

// MarkSent flips a Pending record to Sent. It reports false when the record is
// missing or already Sent, in which case the file is left alone.
func (s *FileStore) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	var changed bool
	err := s.mutate(ctx, func(recs []Record) ([]Record, bool) {
		for i := range recs {
			if recs[i].ID == id && recs[i].Status != Sent {
				recs[i].Status = Sent
				recs[i].SentAtMs = sentAt.UnixMilli()
				changed = true
				break
			}
		}
		return recs, changed
	})
	return changed, err
}

// Remove deletes the record only when its target matches.
func (s *FileStore) Remove(ctx context.Context, id, target string) (bool, error) {
	var removed bool
	err := s.mutate(ctx, func(recs []Record) ([]Record, bool) {
		out := recs[:0]
		for _, r := range recs {
			if !removed && r.ID == id && r.Target == target {
				removed = true
				continue
			}
			out = append(out, r)
		}
		return out, removed
	})
	return removed, err
}

// Prune drops Sent records delivered before cutoff. Pending records always survive.
func (s *FileStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	cut := cutoff.UnixMilli()
	err := s.mutate(ctx, func(recs []Record) ([]Record, bool) {
		out := recs[:0]
		for _, r := range recs {
			if r.Status == Sent && r.SentAtMs < cut {
				n++
				continue
			}
			out = append(out, r)
		}
		return out, n > 0
	})
	return n, err
}

func (s *FileStore) mutate(ctx context.Context, fn func([]Record) ([]Record, bool)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read()
	if err != nil {
		return err
	}
	recs, dirty := fn(recs)
	if !dirty {
		return nil
	}
	return s.write(recs)
}

func (s *FileStore) read() ([]Record, error) {
	var recs []Record
	if _, err := fsstore.ReadJSON(s.path, &recs); err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

func (s *FileStore) write(recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	return fsstore.WriteJSONAtomic(s.path, recs, fsstore.FileOptions{DirPerm: 0o755, FilePerm: 0o644})
}
