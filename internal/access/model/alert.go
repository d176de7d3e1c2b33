package model

import "time"

type AlertType string

const (
	AlertOffSchedule           AlertType = "off_schedule"
	AlertVisitorPassExpiring   AlertType = "visitor_pass_expiring"
	AlertFrequentAccess        AlertType = "frequent_access"
	AlertFailedLogin           AlertType = "failed_login"
	AlertSuspiciousBehavior    AlertType = "suspicious_behavior"
	AlertCredentialReuse       AlertType = "credential_reuse"
	AlertInactiveAccessAttempt AlertType = "inactive_access_attempt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MetaDedupKey is the metadata key every alert carries; alerts with the
// same key inside a detection window are duplicates.
const MetaDedupKey = "dedup_key"

type Alert struct {
	ID              string
	Type            AlertType
	Severity        Severity
	SubjectPersonID *string
	Subject         string
	Message         string
	CreatedAt       time.Time
	ReadAt          *time.Time
	Metadata        map[string]string
}

func (a Alert) DedupKey() string {
	return a.Metadata[MetaDedupKey]
}

type SecurityCategory string

const (
	SecurityAuthFailure  SecurityCategory = "AUTH_FAILURE"
	SecurityAccessDenied SecurityCategory = "ACCESS_DENIED"
)

// SecurityEntry is one row of the write-only security/audit log.
// Subject is the login origin for AUTH_FAILURE and the scanned document
// for ACCESS_DENIED.
type SecurityEntry struct {
	Category SecurityCategory
	Subject  string
	// PersonID is set on ACCESS_DENIED entries whose credential resolved
	// to a known person.
	PersonID   string
	OccurredAt time.Time
	Detail     string
}
