package notify

import (
	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
)

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config) (*Telegram, error) {
				return NewTelegram(cfg.Telegram.Token, cfg.Telegram.AdminChatID)
			},
			func(t *Telegram) Alerter { return t },
		),
	)
}
