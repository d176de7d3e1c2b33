package types

type PresenceResponse struct {
	PersonID string `json:"person_id"`
	Inside   bool   `json:"inside"`
	AsOf     string `json:"as_of"`
}

type OccupantRecord struct {
	Person         PersonSummary `json:"person"`
	EnteredAt      string        `json:"entered_at"`
	ElapsedMinutes int64         `json:"elapsed_minutes"`
}

type OccupantsResponse struct {
	AsOf      string           `json:"as_of"`
	Count     int              `json:"count"`
	Occupants []OccupantRecord `json:"occupants"`
}
