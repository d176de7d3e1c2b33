package types

type AlertRecord struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Severity        string            `json:"severity"`
	SubjectPersonID *string           `json:"subject_person_id,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	Message         string            `json:"message"`
	CreatedAt       string            `json:"created_at"`
	ReadAt          *string           `json:"read_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type AlertsResponse struct {
	Alerts []AlertRecord `json:"alerts"`
}

// SecurityEventRequest reports an authentication failure seen by the admin
// application. Origin is usually the client IP.
type SecurityEventRequest struct {
	Category   string `json:"category"`
	Origin     string `json:"origin"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

type SweepRuleResult struct {
	Rule   string `json:"rule"`
	Raised int    `json:"raised"`
	Error  string `json:"error,omitempty"`
}

type SweepResponse struct {
	Skipped bool              `json:"skipped"`
	Rules   []SweepRuleResult `json:"rules"`
}
