package models

import (
	"context"
	"errors"
)

// ReasonCode — типизированные коды отказов/ошибок по всему движку.
// Наружу (алерты, run summary) уходят только эти коды, не сырые ошибки.
type ReasonCode string

const (
	ReasonStaleSignal           ReasonCode = "STALE_SIGNAL"
	ReasonUnsupportedInstrument ReasonCode = "UNSUPPORTED_INSTRUMENT_OR_EXCHANGE"
	ReasonNoVerdict             ReasonCode = "NO_VERDICT"
	ReasonBelowMinimumNotional  ReasonCode = "BELOW_MINIMUM_NOTIONAL"
	ReasonMissingProtection     ReasonCode = "MISSING_PROTECTION"
	ReasonNoMarkPrice           ReasonCode = "NO_MARK_PRICE"
	ReasonOppositePosition      ReasonCode = "OPPOSITE_POSITION_OPEN"
	ReasonNoOpenPosition        ReasonCode = "NO_OPEN_POSITION"
	ReasonCredentialInvalid     ReasonCode = "CREDENTIAL_INVALID"
	ReasonConnectivityFailure   ReasonCode = "CONNECTIVITY_FAILURE"
	ReasonAuthFailed            ReasonCode = "AUTH_FAILED"
	ReasonIPRestricted          ReasonCode = "IP_RESTRICTED"
	ReasonInsufficientPerms     ReasonCode = "INSUFFICIENT_PERMISSIONS"
	ReasonRateLimited           ReasonCode = "RATE_LIMITED"
	ReasonExecutionFailed       ReasonCode = "EXECUTION_FAILED"
	ReasonCooldownActive        ReasonCode = "COOLDOWN_ACTIVE"
	ReasonTimeout               ReasonCode = "TIMEOUT"
	ReasonUnknown               ReasonCode = "UNKNOWN"
)

// ReasonError — ошибка с кодом причины, пригодная для run summary.
type ReasonError struct {
	Code ReasonCode
	Msg  string
}

func (e *ReasonError) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Msg
}

func NewReasonError(code ReasonCode, msg string) *ReasonError {
	return &ReasonError{Code: code, Msg: msg}
}

// ReasonOf вытаскивает код из ошибки (через errors.As, т.е. работает и для
// обёрнутых %w), UNKNOWN если код не проставлен.
func ReasonOf(err error) ReasonCode {
	if err == nil {
		return ""
	}
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Code
	}
	type coded interface{ Reason() ReasonCode }
	var c coded
	if errors.As(err, &c) {
		return c.Reason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnknown
}
