package command

import (
	"context"
	"fmt"
)

type CreatorInfo struct {
	Name     string
	Phone    string
	Telegram string
}

// Creator implements ".creator [-wa|-tg]".
type Creator struct {
	info CreatorInfo
}

func NewCreator(info CreatorInfo) *Creator {
	return &Creator{info: info}
}

func (c *Creator) Execute(ctx context.Context, req *Request) error {
	switch req.Arg(0) {
	case "-wa":
		return req.Reply(ctx, fmt.Sprintf("📱 *Contact Creator on WhatsApp*\n\nPhone: %s\n\n*Click the number to chat!*", c.info.Phone))
	case "-tg":
		return req.Reply(ctx, fmt.Sprintf("📱 *Contact Creator on Telegram*\n\nUsername: @%s\n\n*Search for this username on Telegram!*", c.info.Telegram))
	default:
		return req.Reply(ctx, fmt.Sprintf("🤖 *Bot Creator Information*\n\n*Name:* %s\n*WhatsApp:* %s\n*Telegram:* @%s\n\n*Use these commands:*\n• .creator -wa\n• .creator -tg", c.info.Name, c.info.Phone, c.info.Telegram))
	}
}
