package notify

import (
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

// Alerter — канал оперативных уведомлений. Отправка fire-and-forget:
// недоступный телеграм не должен ронять пайплайн.
type Alerter interface {
	Send(msg string)
	Sendf(format string, args ...any)
	CredentialDegraded(alert models.CredentialAlert)
}

// Telegram — пассивный нотифайер в админский чат.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegram возвращает nil-safe нотифайер: при пустом токене все
// отправки превращаются в no-op, движок работает без алертов.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return &Telegram{}, nil
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// CredentialDegraded — алерт о деградации ранее живого ключа.
func (t *Telegram) CredentialDegraded(alert models.CredentialAlert) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ credential degraded: user=%d exchange=%s\n", alert.AccountID, alert.Exchange)
	for _, is := range alert.Issues {
		fmt.Fprintf(&sb, "• %s — %s\n", is.Code, is.Hint)
	}
	fmt.Fprintf(&sb, "at %s", alert.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	t.Send(sb.String())
}
