package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

func TestSignCanonicalOrder(t *testing.T) {
	// подпись строится строго как ts+key+recvWindow+payload
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1700000000000" + "key" + "5000" + "category=linear"))
	want := hex.EncodeToString(mac.Sum(nil))

	got := Sign("secret", 1700000000000, "key", 5000, "category=linear")
	assert.Equal(t, want, got)

	// любой сдвиг входа меняет подпись целиком
	assert.NotEqual(t, got, Sign("secret", 1700000000001, "key", 5000, "category=linear"))
	assert.NotEqual(t, got, Sign("secret", 1700000000000, "key", 5000, "category=linea"))
}

func testCred(exchange string) models.ExchangeCredential {
	return models.ExchangeCredential{
		UserID:           1,
		Exchange:         exchange,
		Environment:      models.EnvMainnet,
		APIKey:           "key",
		APISecret:        "secret",
		ValidationStatus: models.CredentialValid,
	}
}

func TestBybitSignedHeaders(t *testing.T) {
	var gotKey, gotSign, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-BAPI-API-KEY")
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTS = r.Header.Get("X-BAPI-TIMESTAMP")
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer srv.Close()

	b := NewBybit(testCred("bybit"), Options{})
	b.BaseURL = srv.URL

	_, err := b.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, "key", gotKey)
	assert.NotEmpty(t, gotTS)
	assert.Len(t, gotSign, 64, "hex-encoded sha256")
}

func TestBybitErrorKindMapping(t *testing.T) {
	cases := []struct {
		retCode int
		want    models.ReasonCode
	}{
		{10003, models.ReasonAuthFailed},
		{10004, models.ReasonAuthFailed},
		{33004, models.ReasonAuthFailed},
		{10010, models.ReasonIPRestricted},
		{10005, models.ReasonInsufficientPerms},
		{10006, models.ReasonRateLimited},
		{99999, models.ReasonUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, bybitErrorKind(tc.retCode), "retCode %d", tc.retCode)
	}
}

func TestBybitAPIErrorFlowsThroughReasonOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10010,"retMsg":"unmatched IP"}`))
	}))
	defer srv.Close()

	b := NewBybit(testCred("bybit"), Options{})
	b.BaseURL = srv.URL

	_, err := b.GetBalance(context.Background(), "USDT")
	require.Error(t, err)
	assert.Equal(t, models.ReasonIPRestricted, models.ReasonOf(err))
}

func TestBinanceErrorKindMapping(t *testing.T) {
	assert.Equal(t, models.ReasonAuthFailed, binanceErrorKind(http.StatusUnauthorized, -2015))
	assert.Equal(t, models.ReasonIPRestricted, binanceErrorKind(http.StatusForbidden, -2015))
	assert.Equal(t, models.ReasonRateLimited, binanceErrorKind(http.StatusOK, -1003))
	assert.Equal(t, models.ReasonRateLimited, binanceErrorKind(418, 0))
	assert.Equal(t, models.ReasonUnknown, binanceErrorKind(http.StatusOK, -9999))
}

func TestBinanceQuerySigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.NotEmpty(t, q.Get("signature"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	b := NewBinance(testCred("binance"), Options{})
	b.BaseURL = srv.URL

	bal, err := b.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal.UserID)
}

func TestHTTPStatusError(t *testing.T) {
	assert.Equal(t, models.ReasonAuthFailed, httpStatusError(401, "").Kind)
	assert.Equal(t, models.ReasonIPRestricted, httpStatusError(403, "").Kind)
	assert.Equal(t, models.ReasonRateLimited, httpStatusError(429, "").Kind)
	assert.Equal(t, models.ReasonConnectivityFailure, httpStatusError(503, "").Kind)
	assert.Equal(t, models.ReasonUnknown, httpStatusError(400, "").Kind)
}

func TestRegistryUnsupportedExchange(t *testing.T) {
	reg := NewRegistry(Options{})
	assert.True(t, reg.Supported("bybit"))
	assert.True(t, reg.Supported("binance"))
	assert.False(t, reg.Supported("okx"))

	_, err := reg.For(testCred("okx"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonUnsupportedInstrument, models.ReasonOf(err))
}
