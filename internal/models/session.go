package models

import "time"

// SessionType labels the clinical category of a session. The set mirrors the
// enum enforced by the MySQL schema; sqlite stores the raw text.
type SessionType = string

const (
	TypeAssessment         SessionType = "assessment"
	TypeIndividualTherapy  SessionType = "individual_therapy"
	TypeNeuropsychological SessionType = "neuropsychological"
	TypeOther              SessionType = "other"
)

// Session is a clinical session record owned by a practitioner.
// PractitionerID is always derived from the authenticated principal.
type Session struct {
	ID             int64       `json:"id"`
	PatientID      int64       `json:"patient_id"`
	PractitionerID int64       `json:"practitioner_id"`
	SessionDate    string      `json:"session_date"`
	StartTime      string      `json:"start_time"`
	EndTime        *string     `json:"end_time"`
	SessionType    SessionType `json:"session_type"`
	Summary        *string     `json:"summary"`
	ProgressNote   *string     `json:"progress_note"`
	PatientName    string      `json:"patient_name,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total       int `json:"total"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	Limit       int `json:"limit"`
}

// SessionPage bundles listed sessions with their pagination metadata.
type SessionPage struct {
	Data       []Session  `json:"data"`
	Pagination Pagination `json:"pagination"`
}
