package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"statusbot/internal/util"
)

const maxMessageLength = 4000

type UpdateHandler func(ctx context.Context, update *models.Update)

type Client struct {
	bot         *tgbot.Bot
	adminChatID int64
}

func New(token string, adminChatID int64, handler UpdateHandler) (*Client, error) {
	b, err := tgbot.New(
		token,
		tgbot.WithDefaultHandler(func(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
			handler(ctx, update)
		}),
		tgbot.WithNotAsyncHandlers(),
	)
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, adminChatID: adminChatID}, nil
}

// Start polls for updates until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	c.bot.Start(ctx)
}

// SendAdminHTML messages the operator chat. It is a no-op when none is configured.
func (c *Client) SendAdminHTML(ctx context.Context, text string) error {
	if c.adminChatID == 0 {
		return nil
	}
	return c.send(ctx, c.adminChatID, text)
}

// SendHTML delivers text to chatID, splitting it on line boundaries when it
// exceeds the message size limit.
func (c *Client) SendHTML(ctx context.Context, chatID string, text string) error {
	return c.send(ctx, ChatID(chatID), text)
}

func (c *Client) send(ctx context.Context, chatID any, text string) error {
	for _, chunk := range util.SplitByLineLimit(text, maxMessageLength) {
		_, err := c.bot.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:    chatID,
			Text:      chunk,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ChatID converts a stored chat id to the form the API expects: numeric ids
// as int64, channel usernames unchanged.
func ChatID(id string) any {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
