// Package gate decides whether a sender may run commands.
package gate

import (
	"strings"

	"github.com/cybercyphers/cyphbeta/internal/auth"
)

// DenialNotice is sent back when private mode rejects a command.
const DenialNotice = "❌ *ACCESS DENIED*\n\nThis bot is in private mode. You are not authorized to use commands."

type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// ParseMode treats anything other than "private" as public.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModePrivate)) {
		return ModePrivate
	}
	return ModePublic
}

type AllowList interface {
	Contains(number string) bool
}

// Config is everything a decision depends on.
type Config struct {
	Mode    Mode
	Owner   string
	Allowed AllowList
}

// Allow reports whether senderJID may run commands under cfg.
func Allow(cfg Config, senderJID string) bool {
	if cfg.Mode != ModePrivate {
		return true
	}
	number := auth.UserNumber(senderJID)
	if number == "" {
		return false
	}
	if cfg.Owner != "" && number == auth.UserNumber(cfg.Owner) {
		return true
	}
	return cfg.Allowed != nil && cfg.Allowed.Contains(number)
}
