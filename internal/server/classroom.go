package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nexuslearn/nexuslink/internal/classroom"
)

// ProviderHeader names the provider that issued the bearer token. Absent
// means google.
const ProviderHeader = "X-Auth-Provider"

// ClassroomReader serves Classroom data for the linked account.
type ClassroomReader interface {
	ListCourses(ctx context.Context, s classroom.Session) ([]classroom.Course, error)
	ListCourseWork(ctx context.Context, s classroom.Session, courseID string) ([]classroom.CourseWork, error)
	ListAnnouncements(ctx context.Context, s classroom.Session, courseID string) ([]classroom.Announcement, error)
	ListMaterials(ctx context.Context, s classroom.Session, courseID string) ([]classroom.Material, error)
}

// SetClassroom attaches the Classroom reader behind /classroom.
func (s *Server) SetClassroom(c ClassroomReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classroom = c
}

func (s *Server) currentClassroom(w http.ResponseWriter) ClassroomReader {
	s.mu.RLock()
	c := s.classroom
	s.mu.RUnlock()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, "classroom not available")
	}
	return c
}

// requestSession builds the session from the Authorization header.
func requestSession(r *http.Request) classroom.Session {
	session := classroom.Session{Provider: classroom.ProviderGoogle}
	if p := strings.TrimSpace(r.Header.Get(ProviderHeader)); p != "" {
		session.Provider = strings.ToLower(p)
	}
	auth := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
		session.AccessToken = strings.TrimSpace(token)
	}
	return session
}

func (s *Server) handleClassroomCourses(w http.ResponseWriter, r *http.Request) {
	c := s.currentClassroom(w)
	if c == nil {
		return
	}
	courses, err := c.ListCourses(r.Context(), requestSession(r))
	if err != nil {
		s.writeClassroomError(w, err)
		return
	}
	courses = classroom.FilterCoursesByName(courses, r.URL.Query().Get("filter"))
	if courses == nil {
		courses = []classroom.Course{}
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleClassroomCourseResource(w http.ResponseWriter, r *http.Request) {
	c := s.currentClassroom(w)
	if c == nil {
		return
	}
	ctx, session, courseID := r.Context(), requestSession(r), r.PathValue("id")

	var (
		items any
		err   error
	)
	switch r.PathValue("kind") {
	case "coursework":
		items, err = nonNil(c.ListCourseWork(ctx, session, courseID))
	case "announcements":
		items, err = nonNil(c.ListAnnouncements(ctx, session, courseID))
	case "materials":
		items, err = nonNil(c.ListMaterials(ctx, session, courseID))
	default:
		writeError(w, http.StatusNotFound, "unknown resource: use coursework, announcements, or materials")
		return
	}
	if err != nil {
		s.writeClassroomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T, err error) ([]T, error) {
	if items == nil && err == nil {
		items = []T{}
	}
	return items, err
}

func (s *Server) writeClassroomError(w http.ResponseWriter, err error) {
	var apiErr *classroom.APIError
	switch {
	case errors.Is(err, classroom.ErrNotLinked):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, classroom.ErrMissingCourseID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr) && !apiErr.Retryable():
		writeError(w, apiErr.StatusCode, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Warn("classroom request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
