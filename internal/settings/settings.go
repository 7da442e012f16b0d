package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	keyPhone  = "phone_number"
	keyMode   = "mode"
	keyOnline = "online_status"
)

const (
	ModePublic  = "public"
	ModePrivate = "private"
)

// Snapshot is a copy of the bot settings at one moment.
type Snapshot struct {
	Phone  string
	Mode   string
	Online bool
}

// Store is the bot's settings file (config.json), read and written through viper.
type Store struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// Open reads path, creating it with defaults when it does not exist.
func Open(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault(keyPhone, "")
	v.SetDefault(keyMode, ModePublic)
	v.SetDefault(keyOnline, false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create settings dir: %w", err)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("write default settings %s: %w", path, err)
		}
	}

	s := &Store{v: v}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) validate() error {
	var errs []error
	switch mode := strings.ToLower(s.v.GetString(keyMode)); mode {
	case ModePublic, ModePrivate:
	default:
		errs = append(errs, fmt.Errorf("%s: must be %q or %q, got %q", keyMode, ModePublic, ModePrivate, mode))
	}
	if phone := s.v.GetString(keyPhone); phone != "" {
		if err := ValidatePhone(phone); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", keyPhone, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Phone:  s.v.GetString(keyPhone),
		Mode:   strings.ToLower(s.v.GetString(keyMode)),
		Online: s.v.GetBool(keyOnline),
	}
}

func (s *Store) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool(keyOnline)
}

// SetOnline updates the presence toggle and persists it.
func (s *Store) SetOnline(online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(keyOnline, online)
	if err := s.v.WriteConfig(); err != nil {
		return fmt.Errorf("persist %s: %w", keyOnline, err)
	}
	return nil
}

// ValidatePhone accepts 10 to 15 digits once formatting characters are removed.
func ValidatePhone(phone string) error {
	n := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			n++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return fmt.Errorf("invalid character %q in phone number", r)
		}
	}
	if n < 10 || n > 15 {
		return fmt.Errorf("phone number must have 10-15 digits, got %d", n)
	}
	return nil
}
