package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiond/internal/audit"
	"sessiond/internal/auth"
	"sessiond/internal/session"
)

// Handler wires HTTP routes to the session repository and maps repository
// error kinds to transport status codes. Nothing below this layer formats a
// client-facing message.
type Handler struct {
	sessions *session.Repository
	log      zerolog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(sessions *session.Repository, log zerolog.Logger) *Handler {
	return &Handler{sessions: sessions, log: log}
}

// RegisterRoutes attaches all HTTP routes to the router. Every session route
// requires a verified bearer credential and carries an access-log label.
func (h *Handler) RegisterRoutes(router *gin.Engine, verifier *auth.Verifier, access *audit.Logger) {
	api := router.Group("/api")
	api.GET("/status", h.status)

	sessions := api.Group("/sessions")
	sessions.Use(verifier.Middleware())
	sessions.POST("", access.Middleware("create_session"), h.createSession)
	sessions.GET("", access.Middleware("list_sessions"), h.listSessions)
	sessions.GET("/patient/:patientId", access.Middleware("list_patient_sessions"), h.listPatientSessions)
	sessions.GET("/:id", access.Middleware("view_session"), h.getSession)
	sessions.PUT("/:id", access.Middleware("update_session"), h.updateSession)
	sessions.DELETE("/:id", access.Middleware("delete_session"), h.deleteSession)
	sessions.POST("/:id/progress-note", access.Middleware("record_progress_note"), h.recordProgressNote)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "online", "module": "session"})
}

func (h *Handler) authorizedPractitioner(c *gin.Context) (*auth.Practitioner, bool) {
	principal, ok := auth.PractitionerFromContext(c)
	if !ok || principal.ID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "not authenticated"})
		return nil, false
	}
	return principal, true
}

func (h *Handler) sessionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid session id"})
		return 0, false
	}
	return id, true
}

type createSessionRequest struct {
	PatientID    int64   `json:"patient_id"`
	SessionDate  string  `json:"session_date"`
	StartTime    string  `json:"start_time"`
	EndTime      *string `json:"end_time"`
	SessionType  string  `json:"session_type"`
	Summary      *string `json:"summary"`
	ProgressNote *string `json:"progress_note"`
}

func (h *Handler) createSession(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	if req.PatientID <= 0 || req.SessionDate == "" || req.StartTime == "" || req.SessionType == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "required fields: patient_id, session_date, start_time, session_type",
		})
		return
	}

	created, err := h.sessions.Create(c.Request.Context(), session.CreateInput{
		PatientID:      req.PatientID,
		PractitionerID: principal.ID,
		SessionDate:    req.SessionDate,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		SessionType:    req.SessionType,
		Summary:        req.Summary,
		ProgressNote:   req.ProgressNote,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Int64("patient_id", req.PatientID).Msg("create session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not create session"})
		return
	}

	h.log.Info().Int64("practitioner_id", principal.ID).Int64("session_id", created.ID).Int64("patient_id", created.PatientID).Msg("session created")
	c.JSON(http.StatusCreated, gin.H{
		"message": "session created",
		"session": created,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}

	filter := session.ListFilter{
		DateFrom: c.Query("date_from"),
		DateTo:   c.Query("date_to"),
	}
	var err error
	if filter.Page, err = intQuery(c, "page", 1); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid page"})
		return
	}
	if filter.Limit, err = intQuery(c, "limit", session.DefaultPageSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid limit"})
		return
	}
	if patient := c.Query("patient_id"); patient != "" {
		if filter.PatientID, err = strconv.ParseInt(patient, 10, 64); err != nil || filter.PatientID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid patient_id"})
			return
		}
	}

	page, err := h.sessions.FindAll(c.Request.Context(), principal.ID, filter)
	if err != nil {
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Msg("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not list sessions"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) listPatientSessions(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}
	patientID, err := strconv.ParseInt(c.Param("patientId"), 10, 64)
	if err != nil || patientID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid patient id"})
		return
	}

	sessions, err := h.sessions.FindByPatient(c.Request.Context(), patientID, principal.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Int64("patient_id", patientID).Msg("list patient sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not list patient sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) getSession(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}
	id, ok := h.sessionIDParam(c)
	if !ok {
		return
	}

	found, err := h.sessions.FindByID(c.Request.Context(), id, principal.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "session not found"})
			return
		}
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("get session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not fetch session"})
		return
	}
	c.JSON(http.StatusOK, found)
}

type updateSessionRequest struct {
	SessionDate  *string `json:"session_date"`
	StartTime    *string `json:"start_time"`
	EndTime      *string `json:"end_time"`
	SessionType  *string `json:"session_type"`
	Summary      *string `json:"summary"`
	ProgressNote *string `json:"progress_note"`
}

func (h *Handler) updateSession(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}
	id, ok := h.sessionIDParam(c)
	if !ok {
		return
	}
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	updated, err := h.sessions.Update(c.Request.Context(), id, principal.ID, session.UpdateInput{
		SessionDate:  req.SessionDate,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		SessionType:  req.SessionType,
		Summary:      req.Summary,
		ProgressNote: req.ProgressNote,
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "session not found"})
			return
		}
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("update session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not update session"})
		return
	}

	h.log.Info().Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("session updated")
	c.JSON(http.StatusOK, gin.H{
		"message": "session updated",
		"session": updated,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}
	id, ok := h.sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.sessions.Delete(c.Request.Context(), id, principal.ID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "session not found"})
			return
		}
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("delete session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not delete session"})
		return
	}

	h.log.Info().Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("session deleted")
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

type progressNoteRequest struct {
	ProgressNote string `json:"progress_note"`
}

func (h *Handler) recordProgressNote(c *gin.Context) {
	principal, ok := h.authorizedPractitioner(c)
	if !ok {
		return
	}
	id, ok := h.sessionIDParam(c)
	if !ok {
		return
	}
	var req progressNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	if req.ProgressNote == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "progress_note is required"})
		return
	}

	if err := h.sessions.AppendProgressNote(c.Request.Context(), id, principal.ID, req.ProgressNote); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "session not found"})
			return
		}
		h.log.Error().Err(err).Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("record progress note failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not record progress note"})
		return
	}

	h.log.Info().Int64("practitioner_id", principal.ID).Int64("session_id", id).Msg("progress note recorded")
	c.JSON(http.StatusOK, gin.H{
		"message": "progress note recorded",
		"session": gin.H{"id": id, "progress_note": req.ProgressNote},
	})
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		if err == nil {
			err = errors.New("value out of range")
		}
		return 0, err
	}
	return val, nil
}
