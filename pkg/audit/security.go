// Package audit provides security audit logging for SIEM consumption.
// Security-relevant events are logged as structured JSON under the
// "security_audit" logger so they can be filtered apart from request logs.
package audit

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a parameter value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventShareLinkRejected is logged when a public dashboard link does not resolve.
	EventShareLinkRejected SecurityEventType = "share_link_rejected"
)

// Source identifies who triggered an event.
type Source struct {
	ClientID string `json:"client_id,omitempty"`
	ClientIP string `json:"client_ip,omitempty"`
}

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   SecurityEventType `json:"event_type"`
	DashboardID *uuid.UUID        `json:"dashboard_id,omitempty"`
	Slug        string            `json:"slug,omitempty"`
	Source
	Details  any    `json:"details"`
	Severity string `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a rejected parameter value.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events.
type SecurityAuditor struct {
	logger *zap.Logger
	clock  clock.Clock
}

// NewSecurityAuditor creates a SecurityAuditor logging under "security_audit".
func NewSecurityAuditor(logger *zap.Logger, clk clock.Clock) *SecurityAuditor {
	if clk == nil {
		clk = clock.New()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit"), clock: clk}
}

// LogInjectionAttempt records a global parameter value rejected as SQL
// injection, at ERROR level with critical severity.
func (a *SecurityAuditor) LogInjectionAttempt(dashboardID uuid.UUID, slug string, details SQLInjectionDetails, src Source) {
	event := SecurityEvent{
		Timestamp:   a.clock.Now().UTC(),
		EventType:   EventSQLInjectionAttempt,
		DashboardID: &dashboardID,
		Slug:        slug,
		Source:      src,
		Details:     details,
		Severity:    "critical",
	}

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", encode(event)),
		zap.String("dashboard_id", dashboardID.String()),
		zap.String("slug", slug),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_id", src.ClientID),
		zap.String("client_ip", src.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogShareLinkRejected records a public link that did not resolve: forged,
// expired, or replaced by a newer link. Only a prefix of the token is kept.
func (a *SecurityAuditor) LogShareLinkRejected(token, reason string, src Source) {
	event := SecurityEvent{
		Timestamp: a.clock.Now().UTC(),
		EventType: EventShareLinkRejected,
		Source:    src,
		Details: map[string]string{
			"token_prefix": tokenPrefix(token),
			"reason":       reason,
		},
		Severity: "warning",
	}

	a.logger.Warn("Share link rejected",
		zap.String("event_json", encode(event)),
		zap.String("token_prefix", tokenPrefix(token)),
		zap.String("reason", reason),
		zap.String("client_ip", src.ClientIP),
		zap.String("severity", event.Severity),
	)
}

func encode(event SecurityEvent) string {
	// known types always marshal
	b, _ := json.Marshal(event)
	return string(b)
}

func tokenPrefix(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
