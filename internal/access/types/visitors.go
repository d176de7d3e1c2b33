package types

type RegisterVisitorRequest struct {
	Document     string `json:"document"`
	DocumentType string `json:"document_type,omitempty"`
	DisplayName  string `json:"display_name"`
	Reason       string `json:"reason,omitempty"`
}

type RegisterVisitorResponse struct {
	Person   PersonSummary `json:"person"`
	PassID   string        `json:"pass_id"`
	IssuedAt string        `json:"issued_at"`
	// QR is the JSON payload to print on the credential.
	QR string `json:"qr"`
}
