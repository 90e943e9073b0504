package service

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// MarkTick — публичная mark-цена инструмента.
type MarkTick struct {
	Instrument string
	Mark       float64
}

// MarkStream слушает публичный тикер-стрим биржи (кредов не требует).
type MarkStream struct {
	URL      string
	wsDialer *websocket.Dialer
}

func NewMarkStream() *MarkStream {
	return &MarkStream{
		URL:      "wss://stream.bybit.com/v5/public/linear",
		wsDialer: &websocket.Dialer{},
	}
}

// Stream подписывается на tickers.{symbol} и отдаёт mark-цены в канал.
// Реконнект с нарастающей паузой, до 8 подряд неудач.
func (m *MarkStream) Stream(ctx context.Context, instruments []string) <-chan MarkTick {
	ch := make(chan MarkTick)
	go func() {
		defer close(ch)
		retry := 0
		for {
			conn, _, err := m.wsDialer.Dial(m.URL, nil)
			if err != nil {
				retry++
				if retry > 8 {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(300*retry) * time.Millisecond):
				}
				continue
			}
			retry = 0

			args := make([]string, 0, len(instruments))
			for _, inst := range instruments {
				args = append(args, "tickers."+inst)
			}
			_ = conn.WriteJSON(map[string]any{"op": "subscribe", "args": args})

			stopPing := make(chan struct{})
			go func() {
				t := time.NewTicker(20 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-stopPing:
						return
					case <-ctx.Done():
						// будим ReadMessage, иначе ридер висит до обрыва
						// со стороны сервера
						_ = conn.Close()
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"op": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					close(stopPing)
					_ = conn.Close()
					break
				}
				var frame struct {
					Topic string `json:"topic"`
					Data  struct {
						Symbol    string `json:"symbol"`
						MarkPrice string `json:"markPrice"`
					} `json:"data"`
				}
				if err := sonic.Unmarshal(msg, &frame); err != nil || frame.Data.Symbol == "" {
					continue
				}
				mark, err := strconv.ParseFloat(frame.Data.MarkPrice, 64)
				if err != nil || mark == 0 {
					continue
				}
				select {
				case ch <- MarkTick{Instrument: frame.Data.Symbol, Mark: mark}:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(1 * time.Second)
			}
		}
	}()
	return ch
}
