package notifier

import (
	"context"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// newTelegramSender dials the Bot API once (getMe) and returns a
// SendFunc bound to that bot. No poller: this bot only ever sends.
func newTelegramSender(token string) (SendFunc, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, chatID int64, text string) error {
		// telebot calls carry no context; the HTTP client timeout bounds them.
		_ = ctx
		_, err := b.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			DisableWebPagePreview: true,
		})
		return err
	}, nil
}
