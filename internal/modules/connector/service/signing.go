package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign — каноничная подпись запроса: HMAC-SHA256 от
// timestamp + apiKey + recvWindow + сериализованного query/body, hex.
func Sign(secret string, tsMillis int64, apiKey string, recvWindow int64, payload string) string {
	msg := strconv.FormatInt(tsMillis, 10) + apiKey + strconv.FormatInt(recvWindow, 10) + payload
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

// signQuery — подпись строки запроса целиком (бинансовый вариант:
// timestamp и recvWindow уже внутри query).
func signQuery(secret, query string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}
