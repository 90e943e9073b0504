package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

const (
	bybitMainnet = "https://api.bybit.com"
	bybitTestnet = "https://api-testnet.bybit.com"
)

// Bybit — коннектор v5 unified account.
type Bybit struct {
	cred    models.ExchangeCredential
	opts    Options
	BaseURL string // переопределяется в тестах
	http    *http.Client
}

func NewBybit(cred models.ExchangeCredential, opts Options) *Bybit {
	opts = opts.withDefaults()
	base := bybitMainnet
	if cred.Environment == models.EnvTestnet {
		base = bybitTestnet
	}
	return &Bybit{
		cred:    cred,
		opts:    opts,
		BaseURL: base,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

func (b *Bybit) Exchange() string { return "bybit" }

func (b *Bybit) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	body, err := b.call(ctx, http.MethodGet, "/v5/account/wallet-balance",
		"accountType=UNIFIED&coin="+asset, "")
	if err != nil {
		return models.Balance{}, err
	}

	var payload struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin            string `json:"coin"`
					WalletBalance   string `json:"walletBalance"`
					AvailToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return models.Balance{}, err
	}

	bal := models.Balance{
		UserID:    b.cred.UserID,
		Exchange:  b.Exchange(),
		Asset:     asset,
		UpdatedAt: time.Now(),
	}
	for _, l := range payload.Result.List {
		for _, c := range l.Coin {
			if !strings.EqualFold(c.Coin, asset) {
				continue
			}
			bal.Total, _ = strconv.ParseFloat(c.WalletBalance, 64)
			bal.Available, _ = strconv.ParseFloat(c.AvailToWithdraw, 64)
			if bal.Available == 0 {
				bal.Available = bal.Total
			}
			return bal, nil
		}
	}
	return bal, nil
}

func (b *Bybit) ListPositions(ctx context.Context) ([]models.Position, error) {
	body, err := b.call(ctx, http.MethodGet, "/v5/position/list",
		"category=linear&settleCoin=USDT", "")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result struct {
			List []struct {
				Symbol     string `json:"symbol"`
				Side       string `json:"side"` // Buy / Sell
				Size       string `json:"size"`
				AvgPrice   string `json:"avgPrice"`
				MarkPrice  string `json:"markPrice"`
				StopLoss   string `json:"stopLoss"`
				TakeProfit string `json:"takeProfit"`
				Leverage   string `json:"leverage"`
				UnrealPnl  string `json:"unrealisedPnl"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	res := make([]models.Position, 0, len(payload.Result.List))
	for _, p := range payload.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		side := models.DirLong
		if strings.EqualFold(p.Side, "Sell") {
			side = models.DirShort
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		sl, _ := strconv.ParseFloat(p.StopLoss, 64)
		tp, _ := strconv.ParseFloat(p.TakeProfit, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		upl, _ := strconv.ParseFloat(p.UnrealPnl, 64)

		res = append(res, models.Position{
			UserID:        b.cred.UserID,
			Exchange:      b.Exchange(),
			Instrument:    p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			StopLoss:      sl,
			TakeProfit:    tp,
			Leverage:      int(lev),
			UnrealizedPnl: upl,
			Open:          true,
			UpdatedAt:     time.Now(),
		})
	}
	return res, nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	started := time.Now()

	// плечо выставляем перед ордером; "leverage not modified" — не ошибка
	if req.Leverage > 0 && !req.ReduceOnly {
		levBody := map[string]string{
			"category":     "linear",
			"symbol":       req.Instrument,
			"buyLeverage":  strconv.Itoa(req.Leverage),
			"sellLeverage": strconv.Itoa(req.Leverage),
		}
		raw, _ := sonic.Marshal(levBody)
		if _, err := b.call(ctx, http.MethodPost, "/v5/position/set-leverage", "", string(raw)); err != nil {
			if ae, ok := err.(*APIError); !ok || ae.RawCode != "110043" {
				return OrderResult{}, err
			}
		}
	}

	side := "Buy"
	if req.Side == models.DirShort {
		side = "Sell"
	}
	if req.ReduceOnly {
		// закрытие — ордер противоположной стороной
		if side == "Buy" {
			side = "Sell"
		} else {
			side = "Buy"
		}
	}

	order := map[string]any{
		"category":  "linear",
		"symbol":    req.Instrument,
		"side":      side,
		"orderType": "Market",
		"qty":       strconv.FormatFloat(req.Qty, 'f', -1, 64),
	}
	if req.ReduceOnly {
		order["reduceOnly"] = true
	}
	if req.StopLoss > 0 {
		order["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		order["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}

	raw, _ := sonic.Marshal(order)
	body, err := b.call(ctx, http.MethodPost, "/v5/order/create", "", string(raw))
	if err != nil {
		return OrderResult{}, err
	}

	var payload struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: payload.Result.OrderID, Latency: time.Since(started)}, nil
}

// call подписывает и выполняет запрос, нормализуя любой неуспех в APIError.
func (b *Bybit) call(ctx context.Context, method, path, query, body string) ([]byte, error) {
	url := b.BaseURL + path
	if query != "" {
		url += "?" + query
	}

	var rd io.Reader
	payload := query
	if method != http.MethodGet {
		payload = body
		rd = bytes.NewReader([]byte(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UnixMilli()
	req.Header.Set("X-BAPI-API-KEY", b.cred.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.FormatInt(b.opts.RecvWindow, 10))
	req.Header.Set("X-BAPI-SIGN", Sign(b.cred.APISecret, ts, b.cred.APIKey, b.opts.RecvWindow, payload))
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &APIError{Kind: models.ReasonTimeout, Msg: err.Error()}
		}
		return nil, &APIError{Kind: models.ReasonConnectivityFailure, Msg: err.Error()}
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, httpStatusError(resp.StatusCode, string(rb))
	}

	var env struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := sonic.Unmarshal(rb, &env); err != nil {
		return nil, &APIError{Kind: models.ReasonUnknown, HTTPStatus: resp.StatusCode, Msg: err.Error()}
	}
	if env.RetCode != 0 {
		return nil, &APIError{
			Kind:       bybitErrorKind(env.RetCode),
			HTTPStatus: resp.StatusCode,
			RawCode:    strconv.Itoa(env.RetCode),
			Msg:        env.RetMsg,
		}
	}
	return rb, nil
}

// bybitErrorKind мапит retCode в типизированный вид ошибки.
func bybitErrorKind(code int) models.ReasonCode {
	switch code {
	case 10003, 10004, 33004: // invalid api key / signature / key expired
		return models.ReasonAuthFailed
	case 10010: // unmatched IP
		return models.ReasonIPRestricted
	case 10005: // permission denied
		return models.ReasonInsufficientPerms
	case 10006, 10018: // rate limit
		return models.ReasonRateLimited
	default:
		return models.ReasonUnknown
	}
}

func httpStatusError(status int, body string) *APIError {
	kind := models.ReasonUnknown
	switch {
	case status == http.StatusUnauthorized:
		kind = models.ReasonAuthFailed
	case status == http.StatusForbidden:
		kind = models.ReasonIPRestricted
	case status == http.StatusTooManyRequests || status == 418:
		kind = models.ReasonRateLimited
	case status >= 500:
		kind = models.ReasonConnectivityFailure
	}
	return &APIError{Kind: kind, HTTPStatus: status, RawCode: strconv.Itoa(status), Msg: body}
}

// --- диагностические пробы ---

// Ping — публичный time endpoint, кредов не требует.
func (b *Bybit) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/v5/market/time", nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return &APIError{Kind: models.ReasonConnectivityFailure, Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return httpStatusError(resp.StatusCode, "")
	}
	return nil
}

// CheckPermissions читает метаданные ключа.
func (b *Bybit) CheckPermissions(ctx context.Context) error {
	body, err := b.call(ctx, http.MethodGet, "/v5/user/query-api", "", "")
	if err != nil {
		return err
	}
	var payload struct {
		Result struct {
			Permissions struct {
				ContractTrade []string `json:"ContractTrade"`
			} `json:"permissions"`
		} `json:"result"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return err
	}
	if len(payload.Result.Permissions.ContractTrade) == 0 {
		return &APIError{Kind: models.ReasonInsufficientPerms, Msg: "contract trade permission missing"}
	}
	return nil
}

// CheckTrading дёргает торговый endpoint в режиме чтения.
func (b *Bybit) CheckTrading(ctx context.Context) error {
	_, err := b.call(ctx, http.MethodGet, "/v5/order/realtime", "category=linear&settleCoin=USDT", "")
	return err
}

// CheckMarketData — публичные тикеры.
func (b *Bybit) CheckMarketData(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.BaseURL+"/v5/market/tickers?category=linear&symbol=BTCUSDT", nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return &APIError{Kind: models.ReasonConnectivityFailure, Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return httpStatusError(resp.StatusCode, "")
	}
	return nil
}
