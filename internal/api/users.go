package api

import (
	"io"
	"net/http"
)

// MeResponse is the JSON body of GET /v1/me: the user the API key belongs to.
type MeResponse struct {
	UserID       int64  `json:"userId"`
	CompanyID    int64  `json:"companyId"`
	GroupID      int64  `json:"groupId"`
	EmailAddress string `json:"emailAddress"`
	ScreenName   string `json:"screenName"`
}

// PortraitResponse is the JSON body of PUT /v1/users/{id}/portrait.
type PortraitResponse struct {
	UserID       int64 `json:"userId"`
	PortraitID   int64 `json:"portraitId"`
	ModifiedDate int64 `json:"modifiedDate"`
}

// handleMe handles GET /v1/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{
		UserID:       user.ID,
		CompanyID:    user.CompanyID,
		GroupID:      user.GroupID,
		EmailAddress: user.Email,
		ScreenName:   user.ScreenName,
	})
}

// handleGetPortrait handles GET /v1/users/{id}/portrait.
func (s *Server) handleGetPortrait(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetPortrait(id)
	if err != nil {
		logFor(r.Context()).Error("get portrait", "user", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get portrait")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "portrait not found")
		return
	}
	writeBytes(w, http.DetectContentType(p.Image), p.Image)
}

// handlePutPortrait handles PUT /v1/users/{id}/portrait. Users may only
// replace their own portrait.
func (s *Server) handlePutPortrait(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if user := getUserFromContext(r.Context()); user.ID != id {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "cannot change another user's portrait")
		return
	}
	image, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to read body")
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "empty image")
		return
	}
	p, err := s.store.PutPortrait(id, image)
	if err != nil {
		logFor(r.Context()).Error("put portrait", "user", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store portrait")
		return
	}
	s.metrics.RecordPortrait()
	writeJSON(w, http.StatusOK, PortraitResponse{UserID: p.UserID, PortraitID: p.PortraitID, ModifiedDate: p.ModifiedDate})
}
