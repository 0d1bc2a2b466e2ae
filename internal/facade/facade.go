// Package facade is the HTTP and streaming boundary described in spec §6:
// a thin echo.Echo layer translating JSON requests into
// internal/registration.Service calls and internal/registration results
// back into the engine's response envelope. It never contains business
// logic itself, mirroring the teacher's seating.SeatingHandler shape
// (request struct -> c.Bind -> service call -> JSON response) generalized
// from one service to the registration engine's full operation set.
package facade

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/campusreg/registrar/internal/apierr"
	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/eventbus"
	"github.com/campusreg/registrar/internal/registration"
)

// Envelope is the shape every endpoint answers with, per spec §6: "All
// mutating endpoints return { success, status, message, ... }".
type Envelope struct {
	Success bool        `json:"success"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Handler wires the registration service into echo.
type Handler struct {
	svc *registration.Service
	bus *eventbus.Bus
}

// NewHandler builds a Handler.
func NewHandler(svc *registration.Service, bus *eventbus.Bus) *Handler {
	return &Handler{svc: svc, bus: bus}
}

func writeError(c echo.Context, err error) error {
	status := "error"
	if apierr.HTTPStatus(err) < http.StatusInternalServerError {
		status = "rejected"
	}
	return c.JSON(apierr.HTTPStatus(err), Envelope{
		Success: false,
		Status:  status,
		Message: apierr.Message(err),
		Code:    string(apierr.Code(err)),
	})
}

// RegisterRoutes attaches every endpoint of spec §6's HTTP surface to e,
// gating the admin-only course lifecycle endpoints behind jwtMW/roleMW.
// requestTimeout bounds every request/response handler below; the /ws
// upgrade is excluded since a streaming connection is meant to outlive it.
func RegisterRoutes(e *echo.Echo, h *Handler, jwtMW, roleMW echo.MiddlewareFunc, requestTimeout time.Duration) {
	api := e.Group("/api/registration")
	if requestTimeout > 0 {
		api.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: requestTimeout,
		}))
	}
	api.GET("/courses", h.ListCourses)
	api.GET("/classroom/:courseId", h.Classroom)
	api.POST("/apply", h.Apply)
	api.POST("/book-seat", h.BookSeat)
	api.POST("/drop", h.Drop)
	api.GET("/waitlist/:courseId", h.Waitlist)
	api.GET("/student/:id/status", h.StudentStatus)
	api.GET("/student/:id/preferences", h.Recommend)
	api.POST("/preferences", h.ReplacePreferences)

	admin := api.Group("/course")
	admin.Use(jwtMW, roleMW)
	admin.POST("/:id/open-booking", h.OpenBooking)
	admin.POST("/:id/close-booking", h.CloseBooking)

	e.GET("/ws", h.Stream)
}

// ListCourses is GET /api/registration/courses.
func (h *Handler) ListCourses(c echo.Context) error {
	rows, err := h.svc.ListCourses(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "ok", Data: rows})
}

// Classroom is GET /api/registration/classroom/:courseId.
func (h *Handler) Classroom(c echo.Context) error {
	state, err := h.svc.Classroom(c.Request().Context(), c.Param("courseId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "ok", Data: state})
}

type applyRequest struct {
	StudentID     string `json:"studentId"`
	CourseID      string `json:"courseId"`
	PreferredSeat string `json:"preferredSeat"`
	AutoRegister  bool   `json:"autoRegister"`
}

// Apply is POST /api/registration/apply.
func (h *Handler) Apply(c echo.Context) error {
	var req applyRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apierr.Wrap(apierr.ConfigurationInvalid, "invalid request body", err))
	}
	result, err := h.svc.Apply(c.Request().Context(), registration.ApplyRequest{
		StudentID:      req.StudentID,
		CourseIDOrCode: req.CourseID,
		PreferredSeat:  req.PreferredSeat,
		AutoRegister:   req.AutoRegister,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: result.Status, Data: result})
}

type bookSeatRequest struct {
	StudentID  string `json:"studentId"`
	CourseID   string `json:"courseId"`
	SeatNumber string `json:"seatNumber"`
}

// BookSeat is POST /api/registration/book-seat.
func (h *Handler) BookSeat(c echo.Context) error {
	var req bookSeatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apierr.Wrap(apierr.ConfigurationInvalid, "invalid request body", err))
	}
	if err := h.svc.BookSpecificSeat(c.Request().Context(), req.StudentID, req.CourseID, req.SeatNumber); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "enrolled"})
}

type dropRequest struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId"`
}

// Drop is POST /api/registration/drop.
func (h *Handler) Drop(c echo.Context) error {
	var req dropRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apierr.Wrap(apierr.ConfigurationInvalid, "invalid request body", err))
	}
	if err := h.svc.Drop(c.Request().Context(), req.StudentID, req.CourseID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "dropped"})
}

// Waitlist is GET /api/registration/waitlist/:courseId?limit=N.
func (h *Handler) Waitlist(c echo.Context) error {
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}
	entries, err := h.svc.WaitlistTopN(c.Request().Context(), c.Param("courseId"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "ok", Data: entries})
}

// StudentStatus is GET /api/registration/student/:id/status.
func (h *Handler) StudentStatus(c echo.Context) error {
	status, err := h.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "ok", Data: status})
}

// Recommend is GET /api/registration/student/:id/preferences ("Recommended courses").
func (h *Handler) Recommend(c echo.Context) error {
	recs, err := h.svc.Recommend(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "ok", Data: recs})
}

type replacePreferencesRequest struct {
	StudentID   string `json:"studentId"`
	Preferences []struct {
		CourseID    string `json:"courseId"`
		Priority    int    `json:"priority"`
		MatchReason string `json:"matchReason"`
	} `json:"preferences"`
}

// ReplacePreferences is POST /api/registration/preferences.
func (h *Handler) ReplacePreferences(c echo.Context) error {
	var req replacePreferencesRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apierr.Wrap(apierr.ConfigurationInvalid, "invalid request body", err))
	}
	prefs := make([]domain.CoursePreference, 0, len(req.Preferences))
	for _, p := range req.Preferences {
		courseID, err := h.svc.ResolveCourseID(c.Request().Context(), p.CourseID)
		if err != nil {
			return writeError(c, apierr.New(apierr.NotFound, "unknown courseId in preferences"))
		}
		prefs = append(prefs, domain.CoursePreference{
			StudentID:   req.StudentID,
			CourseID:    courseID,
			Priority:    p.Priority,
			MatchReason: p.MatchReason,
		})
	}
	if err := h.svc.ReplacePreferences(c.Request().Context(), req.StudentID, prefs); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "replaced"})
}

// OpenBooking is POST /api/registration/course/:id/open-booking (admin).
func (h *Handler) OpenBooking(c echo.Context) error {
	if err := h.svc.OpenBooking(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "opened"})
}

// CloseBooking is POST /api/registration/course/:id/close-booking (admin).
func (h *Handler) CloseBooking(c echo.Context) error {
	if err := h.svc.CloseBooking(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{Success: true, Status: "closed"})
}

func parsePositiveInt(raw string) (int, error) {
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, apierr.New(apierr.ConfigurationInvalid, "limit must be a positive integer")
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, apierr.New(apierr.ConfigurationInvalid, "limit must be a positive integer")
	}
	return n, nil
}
