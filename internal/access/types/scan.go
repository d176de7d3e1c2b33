package types

// ScanRequest is one scanned credential. When QR carries the raw JSON
// payload printed on the credential, its fields override the structured
// ones.
type ScanRequest struct {
	CredentialKind string `json:"credential_kind"` // "visitor" | "member"
	Document       string `json:"document"`
	DocumentType   string `json:"document_type,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	IssueTimestamp string `json:"issue_timestamp,omitempty"` // RFC3339
	RoleHint       string `json:"role_hint,omitempty"`
	QR             string `json:"qr,omitempty"`
}

// QRPayload is the JSON encoded in a printed credential.
type QRPayload struct {
	Kind         string `json:"kind"`
	Document     string `json:"document"`
	DocumentType string `json:"document_type,omitempty"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	IssuedAt     string `json:"issued_at,omitempty"`
}

type PersonSummary struct {
	ID             string `json:"id"`
	DocumentNumber string `json:"document_number"`
	DocumentType   string `json:"document_type"`
	DisplayName    string `json:"display_name"`
	Role           string `json:"role"`
	Status         string `json:"status"`
}

type ScanResponse struct {
	Outcome    string         `json:"outcome"` // "ADMIT" | "DENY"
	Direction  string         `json:"direction,omitempty"`
	Person     *PersonSummary `json:"person,omitempty"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
