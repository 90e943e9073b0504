package service

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

const (
	binanceMainnet = "https://fapi.binance.com"
	binanceTestnet = "https://testnet.binancefuture.com"
)

// Binance — коннектор USDT-M фьючерсов. Подпись у бинанса живёт в query
// (timestamp и recvWindow — его параметры), но наружу отдаёт тот же
// нормализованный Connector.
type Binance struct {
	cred    models.ExchangeCredential
	opts    Options
	BaseURL string
	http    *http.Client
}

func NewBinance(cred models.ExchangeCredential, opts Options) *Binance {
	opts = opts.withDefaults()
	base := binanceMainnet
	if cred.Environment == models.EnvTestnet {
		base = binanceTestnet
	}
	return &Binance{
		cred:    cred,
		opts:    opts,
		BaseURL: base,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

func (b *Binance) Exchange() string { return "binance" }

func (b *Binance) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	body, err := b.call(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return models.Balance{}, err
	}

	var rows []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return models.Balance{}, err
	}

	bal := models.Balance{
		UserID:    b.cred.UserID,
		Exchange:  b.Exchange(),
		Asset:     asset,
		UpdatedAt: time.Now(),
	}
	for _, r := range rows {
		if strings.EqualFold(r.Asset, asset) {
			bal.Total, _ = strconv.ParseFloat(r.Balance, 64)
			bal.Available, _ = strconv.ParseFloat(r.AvailableBalance, 64)
			break
		}
	}
	return bal, nil
}

func (b *Binance) ListPositions(ctx context.Context) ([]models.Position, error) {
	body, err := b.call(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol     string `json:"symbol"`
		PosAmt     string `json:"positionAmt"`
		EntryPrice string `json:"entryPrice"`
		MarkPrice  string `json:"markPrice"`
		UnPnl      string `json:"unRealizedProfit"`
		Leverage   string `json:"leverage"`
	}
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	res := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		amt, _ := strconv.ParseFloat(r.PosAmt, 64)
		if amt == 0 {
			continue
		}
		side := models.DirLong
		if amt < 0 {
			side = models.DirShort
			amt = -amt
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		upl, _ := strconv.ParseFloat(r.UnPnl, 64)
		lev, _ := strconv.Atoi(r.Leverage)

		res = append(res, models.Position{
			UserID:        b.cred.UserID,
			Exchange:      b.Exchange(),
			Instrument:    r.Symbol,
			Side:          side,
			Size:          amt,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upl,
			Leverage:      lev,
			Open:          true,
			UpdatedAt:     time.Now(),
		})
	}
	return res, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	started := time.Now()

	if req.Leverage > 0 && !req.ReduceOnly {
		v := url.Values{}
		v.Set("symbol", req.Instrument)
		v.Set("leverage", strconv.Itoa(req.Leverage))
		if _, err := b.call(ctx, http.MethodPost, "/fapi/v1/leverage", v); err != nil {
			return OrderResult{}, err
		}
	}

	side := "BUY"
	if req.Side == models.DirShort {
		side = "SELL"
	}
	if req.ReduceOnly {
		if side == "BUY" {
			side = "SELL"
		} else {
			side = "BUY"
		}
	}

	v := url.Values{}
	v.Set("symbol", req.Instrument)
	v.Set("side", side)
	v.Set("type", "MARKET")
	v.Set("quantity", strconv.FormatFloat(req.Qty, 'f', -1, 64))
	if req.ReduceOnly {
		v.Set("reduceOnly", "true")
	}

	body, err := b.call(ctx, http.MethodPost, "/fapi/v1/order", v)
	if err != nil {
		return OrderResult{}, err
	}

	var payload struct {
		OrderID int64 `json:"orderId"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return OrderResult{}, err
	}

	// защитные уровни — отдельными stop-market ордерами, как делает fapi
	if req.StopLoss > 0 {
		_ = b.placeProtective(ctx, req, "STOP_MARKET", req.StopLoss)
	}
	if req.TakeProfit > 0 {
		_ = b.placeProtective(ctx, req, "TAKE_PROFIT_MARKET", req.TakeProfit)
	}

	return OrderResult{OrderID: strconv.FormatInt(payload.OrderID, 10), Latency: time.Since(started)}, nil
}

func (b *Binance) placeProtective(ctx context.Context, req OrderRequest, kind string, trigger float64) error {
	side := "SELL"
	if req.Side == models.DirShort {
		side = "BUY"
	}
	v := url.Values{}
	v.Set("symbol", req.Instrument)
	v.Set("side", side)
	v.Set("type", kind)
	v.Set("stopPrice", strconv.FormatFloat(trigger, 'f', -1, 64))
	v.Set("closePosition", "true")
	_, err := b.call(ctx, http.MethodPost, "/fapi/v1/order", v)
	return err
}

func (b *Binance) call(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(b.opts.RecvWindow, 10))
	query := params.Encode()
	query += "&signature=" + signQuery(b.cred.APISecret, query)

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.cred.APIKey)

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
		// у бинанса код ошибки в теле даже при не-2xx
		var e struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := sonic.Unmarshal(rb, &e); err == nil && e.Code != 0 {
			return nil, &APIError{
				Kind:       binanceErrorKind(resp.StatusCode, e.Code),
				HTTPStatus: resp.StatusCode,
				RawCode:    strconv.Itoa(e.Code),
				Msg:        e.Msg,
			}
		}
		return nil, httpStatusError(resp.StatusCode, string(rb))
	}
	return rb, nil
}

func binanceErrorKind(status, code int) models.ReasonCode {
	switch code {
	case -2014, -2015, -1022: // bad key format / invalid key,ip,permissions / bad signature
		if status == http.StatusForbidden {
			return models.ReasonIPRestricted
		}
		return models.ReasonAuthFailed
	case -1003: // too many requests
		return models.ReasonRateLimited
	case -4046, -4059: // no need to change margin type / leverage
		return models.ReasonUnknown
	}
	if status == http.StatusTooManyRequests || status == 418 {
		return models.ReasonRateLimited
	}
	if status == http.StatusForbidden {
		return models.ReasonIPRestricted
	}
	return models.ReasonUnknown
}

// --- диагностические пробы ---

func (b *Binance) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/fapi/v1/ping", nil)
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

func (b *Binance) CheckPermissions(ctx context.Context) error {
	body, err := b.call(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return err
	}
	var payload struct {
		CanTrade bool `json:"canTrade"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return err
	}
	if !payload.CanTrade {
		return &APIError{Kind: models.ReasonInsufficientPerms, Msg: "futures trading disabled for key"}
	}
	return nil
}

func (b *Binance) CheckTrading(ctx context.Context) error {
	_, err := b.call(ctx, http.MethodGet, "/fapi/v1/openOrders", url.Values{})
	return err
}

func (b *Binance) CheckMarketData(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.BaseURL+"/fapi/v1/ticker/24hr?symbol=BTCUSDT", nil)
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
