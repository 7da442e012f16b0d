package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cybercyphers/cyphbeta/internal/fsstore"
)

const credsFile = "creds.json"

// Identity is the account the credentials belong to, as reported by the backend.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Credentials is the session material the backend writes into the auth directory.
type Credentials struct {
	Registered bool     `json:"registered"`
	Me         Identity `json:"me"`
	Token      string   `json:"token,omitempty"`
}

// NeedsPairing reports whether the session has to be linked with a pairing code.
func (c Credentials) NeedsPairing() bool {
	return !c.Registered
}

// OwnerNumber is the bare phone number from Me.ID ("233200000000:12@s.whatsapp.net").
func (c Credentials) OwnerNumber() string {
	return UserNumber(c.Me.ID)
}

// UserNumber strips the device suffix and server part of a JID.
func UserNumber(jid string) string {
	jid = strings.TrimSpace(jid)
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// Store owns the credential directory. The core only loads and discards it;
// Save exists for the backend client.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Load returns the stored credentials, or zero Credentials when none exist yet.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsstore.EnsureDir(s.dir, 0o700); err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if _, err := fsstore.ReadJSON(filepath.Join(s.dir, credsFile), &creds); err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) Save(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return fsstore.WriteJSONAtomic(filepath.Join(s.dir, credsFile), creds, fsstore.FileOptions{})
}

// Discard removes all credential material. The next Load starts a fresh session.
func (s *Store) Discard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("discard credentials: %w", err)
	}
	return nil
}
