package service

import (
	"sync"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

// Factory строит коннектор под конкретные креды.
type Factory func(cred models.ExchangeCredential, opts Options) Connector

// Registry — реестр коннекторов по exchange id.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	opts      Options
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		opts:      opts.withDefaults(),
	}
	r.Register("bybit", func(cred models.ExchangeCredential, opts Options) Connector {
		return NewBybit(cred, opts)
	})
	r.Register("binance", func(cred models.ExchangeCredential, opts Options) Connector {
		return NewBinance(cred, opts)
	})
	return r
}

func (r *Registry) Register(exchange string, f Factory) {
	r.mu.Lock()
	r.factories[exchange] = f
	r.mu.Unlock()
}

func (r *Registry) Supported(exchange string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[exchange]
	return ok
}

// For отдаёт коннектор под креды или UNSUPPORTED_INSTRUMENT_OR_EXCHANGE.
func (r *Registry) For(cred models.ExchangeCredential) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[cred.Exchange]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewReasonError(models.ReasonUnsupportedInstrument,
			"exchange "+cred.Exchange+" is not supported")
	}
	return f(cred, r.opts), nil
}
