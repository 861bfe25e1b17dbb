package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"github.com/marcus/offsync/internal/serverdb"
)

// UploadDocumentRequest is the JSON body for POST /v1/documents. Data is
// base64 in JSON.
type UploadDocumentRequest struct {
	GroupID      int64  `json:"groupId"`
	RepositoryID int64  `json:"repositoryId"`
	FolderID     int64  `json:"folderId"`
	FilePrefix   string `json:"filePrefix"`
	Name         string `json:"name"`
	Data         []byte `json:"data"`
}

// DocumentResponse is the JSON representation of an uploaded document.
type DocumentResponse struct {
	FileEntryID int64  `json:"fileEntryId"`
	URL         string `json:"url"`
	Title       string `json:"title"`
}

func (s *Server) documentURL(id int64) string {
	return s.config.BaseURL + "/v1/documents/" + strconv.FormatInt(id, 10)
}

// handleUploadDocument handles POST /v1/documents.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req UploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "name is required")
		return
	}
	if req.RepositoryID <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "repositoryId is required")
		return
	}
	if req.GroupID == 0 {
		req.GroupID = user.GroupID
	}

	doc, err := s.store.CreateDocument(&serverdb.Document{
		GroupID:      req.GroupID,
		RepositoryID: req.RepositoryID,
		FolderID:     req.FolderID,
		FilePrefix:   req.FilePrefix,
		Name:         req.Name,
		Data:         req.Data,
		UserID:       user.ID,
	})
	if err != nil {
		logFor(r.Context()).Error("create document", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store document")
		return
	}
	s.metrics.RecordDocument()
	logFor(r.Context()).Info("document uploaded", "file_entry", doc.FileEntryID, "bytes", len(doc.Data))
	writeJSON(w, http.StatusCreated, DocumentResponse{
		FileEntryID: doc.FileEntryID,
		URL:         s.documentURL(doc.FileEntryID),
		Title:       doc.Title(),
	})
}

// handleGetDocument handles GET /v1/documents/{id}, serving the file body.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.store.GetDocument(id)
	if err != nil {
		logFor(r.Context()).Error("get document", "file_entry", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get document")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "document not found")
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Title()}))
	writeBytes(w, http.DetectContentType(doc.Data), doc.Data)
}
