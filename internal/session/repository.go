package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sessiond/internal/models"
)

// ErrNotFound reports that no session matches the (id, practitioner) pair.
// Rows owned by other practitioners are indistinguishable from missing rows.
var ErrNotFound = errors.New("session not found")

// MaxPageSize caps caller-supplied page sizes for FindAll.
const MaxPageSize = 100

// DefaultPageSize is used when the caller supplies no limit.
const DefaultPageSize = 10

const sessionColumns = `id, patient_id, practitioner_id, session_date, start_time, end_time, session_type, summary, progress_note, created_at, updated_at`

// Repository executes ownership-scoped SQL against the clinical_sessions
// table. Every read and write pairs the session id with the practitioner id.
type Repository struct {
	db *sql.DB
}

// NewRepository builds a session repository over the given database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateInput carries the fields accepted for a new session. PractitionerID
// comes from the authenticated principal, never from the request body.
type CreateInput struct {
	PatientID      int64
	PractitionerID int64
	SessionDate    string
	StartTime      string
	EndTime        *string
	SessionType    models.SessionType
	Summary        *string
	ProgressNote   *string
}

// UpdateInput lists the mutable session fields. Nil pointers are left
// untouched; a JSON null in the request decodes to nil and is therefore
// indistinguishable from an omitted field.
type UpdateInput struct {
	SessionDate  *string
	StartTime    *string
	EndTime      *string
	SessionType  *string
	Summary      *string
	ProgressNote *string
}

// ListFilter narrows and pages a FindAll query. Zero values mean "unset".
type ListFilter struct {
	Page      int
	Limit     int
	PatientID int64
	DateFrom  string
	DateTo    string
}

// Create inserts a new session and returns the stored record.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*models.Session, error) {
	if in.PatientID <= 0 {
		return nil, errors.New("patient_id is required")
	}
	if in.PractitionerID <= 0 {
		return nil, errors.New("practitioner_id is required")
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO clinical_sessions (
			patient_id, practitioner_id, session_date, start_time,
			end_time, session_type, summary, progress_note, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.PatientID, in.PractitionerID, in.SessionDate, in.StartTime,
		in.EndTime, in.SessionType, in.Summary, in.ProgressNote, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.Session{
		ID:             id,
		PatientID:      in.PatientID,
		PractitionerID: in.PractitionerID,
		SessionDate:    in.SessionDate,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		SessionType:    in.SessionType,
		Summary:        in.Summary,
		ProgressNote:   in.ProgressNote,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// FindByID returns the session joined with the patient's display name, or
// ErrNotFound when no row matches the ownership pair.
func (r *Repository) FindByID(ctx context.Context, id, practitionerID int64) (*models.Session, error) {
	var s models.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.patient_id, s.practitioner_id, s.session_date, s.start_time,
			s.end_time, s.session_type, s.summary, s.progress_note, s.created_at, s.updated_at,
			p.name
		 FROM clinical_sessions s
		 JOIN patients p ON s.patient_id = p.id
		 WHERE s.id = ? AND s.practitioner_id = ?`,
		id, practitionerID,
	).Scan(
		&s.ID, &s.PatientID, &s.PractitionerID, &s.SessionDate, &s.StartTime,
		&s.EndTime, &s.SessionType, &s.Summary, &s.ProgressNote, &s.CreatedAt, &s.UpdatedAt,
		&s.PatientName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// FindByPatient lists the caller's sessions for one patient, most recent first.
func (r *Repository) FindByPatient(ctx context.Context, patientID, practitionerID int64) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM clinical_sessions
		 WHERE patient_id = ? AND practitioner_id = ?
		 ORDER BY session_date DESC, start_time DESC`,
		patientID, practitionerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list patient sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// FindAll pages through the caller's sessions, optionally filtered by patient
// and date range (filters combine with AND). The data and count queries run
// as independent statements, so the total can lag a concurrent insert.
func (r *Repository) FindAll(ctx context.Context, practitionerID int64, f ListFilter) (*models.SessionPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	offset := (f.Page - 1) * f.Limit

	where := []string{"s.practitioner_id = ?"}
	args := []any{practitionerID}
	if f.PatientID > 0 {
		where = append(where, "s.patient_id = ?")
		args = append(args, f.PatientID)
	}
	if f.DateFrom != "" {
		where = append(where, "s.session_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "s.session_date <= ?")
		args = append(args, f.DateTo)
	}
	predicate := strings.Join(where, " AND ")

	query := `SELECT s.id, s.patient_id, s.practitioner_id, s.session_date, s.start_time,
			s.end_time, s.session_type, s.summary, s.progress_note, s.created_at, s.updated_at,
			p.name
		 FROM clinical_sessions s
		 JOIN patients p ON s.patient_id = p.id
		 WHERE ` + predicate + `
		 ORDER BY s.session_date DESC, s.start_time DESC
		 LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(append([]any{}, args...), f.Limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.PatientID, &s.PractitionerID, &s.SessionDate, &s.StartTime,
			&s.EndTime, &s.SessionType, &s.Summary, &s.ProgressNote, &s.CreatedAt, &s.UpdatedAt,
			&s.PatientName,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM clinical_sessions s WHERE ` + predicate
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	totalPages := (total + f.Limit - 1) / f.Limit
	return &models.SessionPage{
		Data: sessions,
		Pagination: models.Pagination{
			Total:       total,
			TotalPages:  totalPages,
			CurrentPage: f.Page,
			Limit:       f.Limit,
		},
	}, nil
}

// Update applies the non-nil fields and returns the refreshed row.
// Zero affected rows means the pair did not match and maps to ErrNotFound.
func (r *Repository) Update(ctx context.Context, id, practitionerID int64, in UpdateInput) (*models.Session, error) {
	if id <= 0 {
		return nil, errors.New("invalid session id")
	}

	columns := []struct {
		name string
		val  *string
	}{
		{"session_date", in.SessionDate},
		{"start_time", in.StartTime},
		{"end_time", in.EndTime},
		{"session_type", in.SessionType},
		{"summary", in.Summary},
		{"progress_note", in.ProgressNote},
	}
	set := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+3)
	for _, col := range columns {
		if col.val != nil {
			set = append(set, col.name+" = ?")
			args = append(args, *col.val)
		}
	}
	if len(set) == 0 {
		return r.FindByID(ctx, id, practitionerID)
	}
	// updated_at always moves, so affected rows is a reliable existence check
	// even on drivers that report zero for value-identical updates.
	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UTC(), id, practitionerID)

	res, err := r.db.ExecContext(ctx,
		`UPDATE clinical_sessions SET `+strings.Join(set, ", ")+` WHERE id = ? AND practitioner_id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, id, practitionerID)
}

// Delete removes the session permanently.
func (r *Repository) Delete(ctx context.Context, id, practitionerID int64) error {
	if id <= 0 {
		return errors.New("invalid session id")
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM clinical_sessions WHERE id = ? AND practitioner_id = ?`,
		id, practitionerID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendProgressNote replaces the session's progress note.
func (r *Repository) AppendProgressNote(ctx context.Context, id, practitionerID int64, note string) error {
	if id <= 0 {
		return errors.New("invalid session id")
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE clinical_sessions SET progress_note = ?, updated_at = ? WHERE id = ? AND practitioner_id = ?`,
		note, time.Now().UTC(), id, practitionerID,
	)
	if err != nil {
		return fmt.Errorf("record progress note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSessions(rows *sql.Rows) ([]models.Session, error) {
	sessions := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.PatientID, &s.PractitionerID, &s.SessionDate, &s.StartTime,
			&s.EndTime, &s.SessionType, &s.Summary, &s.ProgressNote, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
