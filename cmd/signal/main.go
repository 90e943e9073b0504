package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	intake "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/intake/service"
)

// Утилита для ручной отправки сигнала в движок: удобно для стейджинга
// и проверки вебхука без алерт-провайдера.
func main() {
	var (
		addr       = flag.String("addr", "http://localhost:8081", "engine public address")
		instrument = flag.String("instrument", "BTCUSDT", "instrument, USDT perpetual")
		action     = flag.String("action", "LONG", "LONG|SHORT|LONG_FORTE|SHORT_FORTE|CLOSE_LONG|CLOSE_SHORT")
		source     = flag.String("source", "manual", "signal source tag")
		id         = flag.String("id", "", "signal id (optional)")
	)
	flag.Parse()

	env := intake.Envelope{
		ID:         *id,
		Instrument: *instrument,
		Action:     *action,
		Source:     *source,
		Timestamp:  time.Now(),
	}
	payload, err := sonic.Marshal(env)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(*addr+"/signal", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s\n", resp.Status, body)
}
