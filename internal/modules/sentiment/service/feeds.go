package service

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Источники сентимента. Любой из них может лечь — агрегатор в этом случае
// подставляет нейтральные значения, а не падает.

type FearGreedSource interface {
	FearGreed(ctx context.Context) (float64, error)
}

type DominanceSource interface {
	// Dominance возвращает долю BTC (%) и её суточный тренд (п.п.).
	Dominance(ctx context.Context) (float64, float64, error)
}

type PulseSource interface {
	// Pulse возвращает PM+ (% топ-100 инструментов с положительным 24h)
	// и VWΔ — volume-weighted суточное изменение, %.
	Pulse(ctx context.Context) (float64, float64, error)
}

// FearGreedFeed — alternative.me Fear & Greed index.
type FearGreedFeed struct {
	BaseURL string
	http    *http.Client
}

func NewFearGreedFeed() *FearGreedFeed {
	return &FearGreedFeed{
		BaseURL: "https://api.alternative.me",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *FearGreedFeed) FearGreed(ctx context.Context) (float64, error) {
	body, err := getBody(ctx, f.http, f.BaseURL+"/fng/?limit=1")
	if err != nil {
		return 0, errors.Wrap(err, "fng fetch")
	}

	var payload struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return 0, errors.Wrap(err, "fng decode")
	}
	if len(payload.Data) == 0 {
		return 0, errors.New("fng: empty data")
	}
	v, err := strconv.ParseFloat(payload.Data[0].Value, 64)
	if err != nil {
		return 0, errors.Wrap(err, "fng parse")
	}
	if v < 0 || v > 100 {
		return 0, errors.Errorf("fng out of range: %.1f", v)
	}
	return v, nil
}

// DominanceFeed — coingecko /global.
type DominanceFeed struct {
	BaseURL string
	http    *http.Client
}

func NewDominanceFeed() *DominanceFeed {
	return &DominanceFeed{
		BaseURL: "https://api.coingecko.com",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *DominanceFeed) Dominance(ctx context.Context) (float64, float64, error) {
	body, err := getBody(ctx, f.http, f.BaseURL+"/api/v3/global")
	if err != nil {
		return 0, 0, errors.Wrap(err, "global fetch")
	}

	var payload struct {
		Data struct {
			MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
			MarketCapChange24h  float64            `json:"market_cap_change_percentage_24h_usd"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return 0, 0, errors.Wrap(err, "global decode")
	}
	dom, ok := payload.Data.MarketCapPercentage["btc"]
	if !ok {
		return 0, 0, errors.New("global: btc dominance missing")
	}
	return dom, payload.Data.MarketCapChange24h, nil
}

// MarketPulseFeed считает breadth/volume метрики по публичным тикерам биржи.
type MarketPulseFeed struct {
	BaseURL string
	TopN    int
	http    *http.Client
}

func NewMarketPulseFeed() *MarketPulseFeed {
	return &MarketPulseFeed{
		BaseURL: "https://api.bybit.com",
		TopN:    100,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *MarketPulseFeed) Pulse(ctx context.Context) (float64, float64, error) {
	body, err := getBody(ctx, f.http, f.BaseURL+"/v5/market/tickers?category=linear")
	if err != nil {
		return 0, 0, errors.Wrap(err, "tickers fetch")
	}

	var payload struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				Symbol       string `json:"symbol"`
				Price24hPcnt string `json:"price24hPcnt"` // доля, напр. "0.0123"
				Turnover24h  string `json:"turnover24h"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return 0, 0, errors.Wrap(err, "tickers decode")
	}
	if payload.RetCode != 0 {
		return 0, 0, errors.Errorf("tickers retCode=%d", payload.RetCode)
	}

	type rec struct {
		change   float64 // %
		turnover float64
	}
	arr := make([]rec, 0, len(payload.Result.List))
	for _, t := range payload.Result.List {
		ch, err1 := strconv.ParseFloat(t.Price24hPcnt, 64)
		to, err2 := strconv.ParseFloat(t.Turnover24h, 64)
		if err1 != nil || err2 != nil || to <= 0 {
			continue
		}
		arr = append(arr, rec{change: ch * 100.0, turnover: to})
	}
	if len(arr) == 0 {
		return 0, 0, errors.New("tickers: no usable rows")
	}

	// топ-N по обороту
	sort.Slice(arr, func(i, j int) bool { return arr[i].turnover > arr[j].turnover })
	n := f.TopN
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	arr = arr[:n]

	pos := 0
	sumWeighted := 0.0
	sumTurnover := 0.0
	for _, r := range arr {
		if r.change > 0 {
			pos++
		}
		sumWeighted += r.change * r.turnover
		sumTurnover += r.turnover
	}

	pmPlus := float64(pos) / float64(len(arr)) * 100.0
	vwDelta := sumWeighted / sumTurnover
	return pmPlus, vwDelta, nil
}

func getBody(ctx context.Context, cl *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
