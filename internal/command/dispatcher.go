package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cybercyphers/cyphbeta/internal/backend"
	"github.com/cybercyphers/cyphbeta/internal/gate"
	"github.com/cybercyphers/cyphbeta/internal/observability"
)

// Dispatcher routes inbound messages to registered commands.
type Dispatcher struct {
	registry *Registry
	replier  Replier
	gateCfg  func() gate.Config
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, replier Replier, gateCfg func() gate.Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		replier:  replier,
		gateCfg:  gateCfg,
		logger:   logger.With("component", "commands"),
	}
}

// Handle runs the command in msg, if any. It never panics and never returns
// handler errors; they are logged.
func (d *Dispatcher) Handle(ctx context.Context, msg backend.Message) {
	name, args, ok := Parse(msg.Text)
	if !ok {
		return
	}

	cfg := d.gateCfg()
	sender := msg.SenderJID()
	if msg.FromMe && cfg.Owner != "" {
		sender = cfg.Owner
	}
	if !gate.Allow(cfg, sender) {
		observability.GateDenials.Inc()
		d.logger.Info("command_denied", "command", name, "sender", sender)
		if _, err := d.replier.SendText(ctx, msg.Chat, gate.DenialNotice); err != nil {
			d.logger.Warn("denial_notice_failed", "chat", msg.Chat, "error", err.Error())
		}
		return
	}

	h, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.Debug("command_unknown", "command", name)
		return
	}

	req := &Request{
		Name:    name,
		Args:    args,
		Message: msg,
		Logger:  d.logger.With("command", name),
		replier: d.replier,
	}
	d.run(ctx, h, req)
}

func (d *Dispatcher) run(ctx context.Context, h Handler, req *Request) {
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			d.logger.Error("command_panic", "command", req.Name, "panic", fmt.Sprint(r))
		}
		observability.Commands.WithLabelValues(req.Name, result).Inc()
	}()

	if err := h.Execute(ctx, req); err != nil {
		result = "error"
		d.logger.Error("command_failed", "command", req.Name, "chat", req.Chat(), "error", err.Error())
	}
}
