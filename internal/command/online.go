package command

import (
	"context"
	"fmt"

	"github.com/cybercyphers/cyphbeta/internal/backend"
)

type OnlineSettings interface {
	Online() bool
	SetOnline(online bool) error
}

type PresenceSender interface {
	SendPresence(ctx context.Context, p backend.Presence) error
}

// Online implements ".online [on|off]".
type Online struct {
	settings OnlineSettings
	presence PresenceSender
}

func NewOnline(settings OnlineSettings, presence PresenceSender) *Online {
	return &Online{settings: settings, presence: presence}
}

func (c *Online) Execute(ctx context.Context, req *Request) error {
	switch req.Arg(0) {
	case "":
		current := "🔴 OFFLINE"
		if c.settings.Online() {
			current = "🟢 ONLINE"
		}
		return req.Reply(ctx, fmt.Sprintf("🟢 *ONLINE STATUS*\n\nCurrent: %s\n\n*Usage:*\n• .online on - Show as online\n• .online off - Show as offline\n\n💡 This updates both current session and config.json", current))
	case "on":
		if err := c.apply(ctx, req, true); err != nil {
			return err
		}
		return req.Reply(ctx, "🟢 *ONLINE MODE ACTIVATED*\n\nYou will now appear online to others.\n\nUse `.online off` to go back offline.")
	case "off":
		if err := c.apply(ctx, req, false); err != nil {
			return err
		}
		return req.Reply(ctx, "🔴 *OFFLINE MODE ACTIVATED*\n\nYou will now appear offline to others.\n\nUse `.online on` to go online.")
	default:
		return req.Reply(ctx, "❌ *Invalid option!*\n\nUse: .online on/off")
	}
}

func (c *Online) apply(ctx context.Context, req *Request, online bool) error {
	p := backend.PresenceUnavailable
	if online {
		p = backend.PresenceAvailable
	}
	if err := c.presence.SendPresence(ctx, p); err != nil {
		req.Logger.Warn("presence_update_failed", "presence", string(p), "error", err.Error())
	}
	if err := c.settings.SetOnline(online); err != nil {
		return fmt.Errorf("persist online status: %w", err)
	}
	return nil
}
