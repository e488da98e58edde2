package domain

import "time"

// Visit-event sources.
const (
	SourceHistory = "history"
	SourceCurrent = "current"
	SourceManual  = "manual"
)

// VisitEvent is published when a person's visited-country record changes:
// a new country detected from history, a current-country change, or a
// manual edit.
type VisitEvent struct {
	Person      string    `json:"person"`
	CountryCode string    `json:"country_code"`
	CountryName string    `json:"country_name"`
	Source      string    `json:"source"`
	OccurredAt  time.Time `json:"occurred_at"`
}
