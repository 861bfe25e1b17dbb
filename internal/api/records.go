package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/serverdb"
)

// pathID parses a positive int64 path value, writing a 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func formToModel(f *serverdb.Form) (*models.Form, error) {
	out := &models.Form{StructureID: f.StructureID, Name: f.Name, UserID: f.UserID}
	if err := json.Unmarshal(f.Fields, &out.Fields); err != nil {
		return nil, fmt.Errorf("decode form fields: %w", err)
	}
	return out, nil
}

func recordToModel(r *serverdb.Record) (*models.Record, error) {
	out := &models.Record{
		RecordID:    models.Int64Ptr(r.RecordID),
		RecordSetID: r.RecordSetID,
		StructureID: r.StructureID,
		GroupID:     r.GroupID,
		UserID:      r.UserID,
		Attributes:  map[string]any{models.AttrModifiedDate: r.ModifiedDate},
	}
	if err := json.Unmarshal(r.Values, &out.Values); err != nil {
		return nil, fmt.Errorf("decode record values: %w", err)
	}
	if err := json.Unmarshal(r.Documents, &out.Documents); err != nil {
		return nil, fmt.Errorf("decode record documents: %w", err)
	}
	return out, nil
}

func modelToRecord(m *models.Record) (*serverdb.Record, error) {
	values, err := json.Marshal(m.Values)
	if err != nil {
		return nil, fmt.Errorf("encode record values: %w", err)
	}
	docs, err := json.Marshal(m.Documents)
	if err != nil {
		return nil, fmt.Errorf("encode record documents: %w", err)
	}
	return &serverdb.Record{
		RecordID:    m.ID(),
		RecordSetID: m.RecordSetID,
		StructureID: m.StructureID,
		GroupID:     m.GroupID,
		UserID:      m.UserID,
		Values:      values,
		Documents:   docs,
	}, nil
}

// handleGetForm handles GET /v1/forms/{id}.
func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	f, err := s.store.GetForm(id)
	if err != nil {
		logFor(r.Context()).Error("get form", "structure", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get form")
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "form not found")
		return
	}
	out, err := formToModel(f)
	if err != nil {
		logFor(r.Context()).Error("get form", "structure", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to decode form")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePutForm handles PUT /v1/forms/{id}.
func (s *Server) handlePutForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.Form
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "name is required")
		return
	}
	if req.StructureID != 0 && req.StructureID != id {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "structureId does not match path")
		return
	}
	fields, err := json.Marshal(req.Fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid fields")
		return
	}
	if req.UserID == 0 {
		req.UserID = getUserFromContext(r.Context()).ID
	}
	if err := s.store.PutForm(&serverdb.Form{StructureID: id, Name: req.Name, Fields: fields, UserID: req.UserID}); err != nil {
		logFor(r.Context()).Error("put form", "structure", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store form")
		return
	}
	req.StructureID = id
	writeJSON(w, http.StatusOK, req)
}

// handleGetRecord handles GET /v1/records/{id}.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.store.GetRecord(id)
	if err != nil {
		logFor(r.Context()).Error("get record", "record", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "record not found")
		return
	}
	s.writeRecord(w, r, http.StatusOK, rec)
}

// handleCreateRecord handles POST /v1/records.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req models.Record
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.HasIdentity() {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "new record must not carry recordId")
		return
	}
	if req.RecordSetID <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "recordSetId is required")
		return
	}
	if !s.validateRecord(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		req.UserID = user.ID
	}
	if req.GroupID == 0 {
		req.GroupID = user.GroupID
	}

	in, err := modelToRecord(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	rec, err := s.store.CreateRecord(in)
	if err != nil {
		logFor(r.Context()).Error("create record", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to create record")
		return
	}
	s.metrics.RecordWrite()
	logFor(r.Context()).Info("record created", "record", rec.RecordID, "set", rec.RecordSetID)
	s.writeRecord(w, r, http.StatusCreated, rec)
}

// handleUpdateRecord handles PUT /v1/records/{id}. The write always wins;
// the stored modifiedDate moves forward.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.Record
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.HasIdentity() && req.ID() != id {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "recordId does not match path")
		return
	}
	req.RecordID = models.Int64Ptr(id)

	existing, err := s.store.GetRecord(id)
	if err != nil {
		logFor(r.Context()).Error("update record", "record", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get record")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "record not found")
		return
	}
	if req.StructureID == 0 {
		req.StructureID = existing.StructureID
	}
	if !s.validateRecord(w, r, &req) {
		return
	}

	in, err := modelToRecord(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	rec, err := s.store.UpdateRecord(in)
	if err != nil {
		logFor(r.Context()).Error("update record", "record", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to update record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "record not found")
		return
	}
	s.metrics.RecordWrite()
	logFor(r.Context()).Info("record updated", "record", rec.RecordID, "modified", rec.ModifiedDate)
	s.writeRecord(w, r, http.StatusOK, rec)
}

// validateRecord checks required fields when the record's form is known.
func (s *Server) validateRecord(w http.ResponseWriter, r *http.Request, rec *models.Record) bool {
	if rec.StructureID <= 0 {
		return true
	}
	f, err := s.store.GetForm(rec.StructureID)
	if err != nil {
		logFor(r.Context()).Error("validate record", "structure", rec.StructureID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get form")
		return false
	}
	if f == nil {
		return true
	}
	form, err := formToModel(f)
	if err != nil {
		logFor(r.Context()).Error("validate record", "structure", rec.StructureID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to decode form")
		return false
	}
	if missing := form.MissingRequired(rec.Values); len(missing) > 0 {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, "missing required fields: "+strings.Join(missing, ", "))
		return false
	}
	return true
}

func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, status int, rec *serverdb.Record) {
	out, err := recordToModel(rec)
	if err != nil {
		logFor(r.Context()).Error("encode record", "record", rec.RecordID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to decode record")
		return
	}
	writeJSON(w, status, out)
}
