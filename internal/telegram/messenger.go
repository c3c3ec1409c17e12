package telegram

import (
	"context"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// messenger is the slice of the Bot API the handlers use.
type messenger interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int64) error
	Delete(ctx context.Context, chatID, messageID int64) error
}

type botMessenger struct {
	bot *gotgbot.Bot
}

func (m botMessenger) Send(ctx context.Context, chatID int64, text string, replyTo int64) error {
	var opts *gotgbot.SendMessageOpts
	if replyTo != 0 {
		opts = &gotgbot.SendMessageOpts{
			ReplyParameters: &gotgbot.ReplyParameters{MessageId: replyTo},
		}
	}
	_, err := m.bot.SendMessageWithContext(ctx, chatID, text, opts)
	return err
}

func (m botMessenger) Delete(ctx context.Context, chatID, messageID int64) error {
	_, err := m.bot.DeleteMessageWithContext(ctx, chatID, messageID, nil)
	return err
}

// incoming is the part of an update a handler reads.
type incoming struct {
	ChatID    int64
	ChatType  string
	UserID    int64
	MessageID int64
	Text      string
}

func (in incoming) private() bool {
	return in.ChatType == "private"
}

func incomingFrom(ctx *ext.Context) (incoming, bool) {
	if ctx.EffectiveChat == nil || ctx.EffectiveMessage == nil {
		return incoming{}, false
	}
	in := incoming{
		ChatID:    ctx.EffectiveChat.Id,
		ChatType:  ctx.EffectiveChat.Type,
		MessageID: ctx.EffectiveMessage.MessageId,
		Text:      ctx.EffectiveMessage.GetText(),
	}
	if ctx.EffectiveUser != nil {
		in.UserID = ctx.EffectiveUser.Id
	}
	return in, true
}
