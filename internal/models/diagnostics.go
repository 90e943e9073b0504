package models

import "time"

// ProbeCategory — категории диагностики, в порядке прогона.
type ProbeCategory string

const (
	ProbeConnectivity ProbeCategory = "CONNECTIVITY"
	ProbeAuth         ProbeCategory = "AUTHENTICATION"
	ProbePermissions  ProbeCategory = "PERMISSIONS"
	ProbeBalance      ProbeCategory = "BALANCE_ACCESS"
	ProbeTrading      ProbeCategory = "TRADING_ENDPOINTS"
	ProbeMarketData   ProbeCategory = "MARKET_DATA"
)

// DiagnosticResult — результат одной пробы. Последний результат по коннектору
// замещает предыдущие.
type DiagnosticResult struct {
	ConnectorID string        `json:"connector_id"` // "<exchange>:<user>:<env>"
	Category    ProbeCategory `json:"category"`
	OK          bool          `json:"ok"`
	Reason      ReasonCode    `json:"reason,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Latency     time.Duration `json:"latency"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// OverallStatus — взвешенная оценка коннектора.
type OverallStatus string

const (
	StatusExcellent OverallStatus = "EXCELLENT"
	StatusGood      OverallStatus = "GOOD"
	StatusPartial   OverallStatus = "PARTIAL"
	StatusLimited   OverallStatus = "LIMITED"
	StatusFailed    OverallStatus = "FAILED"
)

// IssueCode — критичные проблемы с подсказкой по ремедиации.
type IssueCode string

const (
	IssueIPWhitelist   IssueCode = "IP_WHITELIST_REQUIRED"
	IssueInvalidAPIKey IssueCode = "INVALID_API_KEY"
	IssueAuthFailure   IssueCode = "AUTHENTICATION_FAILURE"
	IssueNoTradePerm   IssueCode = "TRADING_PERMISSION_MISSING"
	IssueConnectivity  IssueCode = "CONNECTIVITY_FAILURE"
	IssueRateLimited   IssueCode = "RATE_LIMITED"
)

// CriticalIssue — проблема + что с ней делать.
type CriticalIssue struct {
	Code IssueCode `json:"code"`
	Hint string    `json:"hint"`
}

// DiagnosticReport — полный отчёт по коннектору.
type DiagnosticReport struct {
	ConnectorID    string             `json:"connector_id"`
	UserID         int64              `json:"user_id"`
	Exchange       string             `json:"exchange"`
	Environment    Environment        `json:"environment"`
	Results        []DiagnosticResult `json:"results"`
	Overall        OverallStatus      `json:"overall"`
	CriticalIssues []CriticalIssue    `json:"critical_issues"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// CredentialAlert — fire-and-forget пейлоад для канала нотификаций
// при деградации ранее живого ключа.
type CredentialAlert struct {
	AccountID int64           `json:"account_id"`
	Exchange  string          `json:"exchange"`
	Issues    []CriticalIssue `json:"issues"`
	Timestamp time.Time       `json:"timestamp"`
}
