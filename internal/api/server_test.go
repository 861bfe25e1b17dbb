package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/serverdb"
)

func seedForm(t *testing.T, store *serverdb.ServerDB) {
	t.Helper()
	fields := `[{"name":"title","type":"text","required":true},{"name":"photo","type":"document"}]`
	if err := store.PutForm(&serverdb.Form{StructureID: 5, Name: "inspection", Fields: json.RawMessage(fields)}); err != nil {
		t.Fatalf("seed form: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv, "GET", "/healthz", "", nil)
	AssertStatus(t, w, http.StatusOK)
	if body := ReadJSON[map[string]string](t, w); body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	AssertErrorResponse(t, doRequest(srv, "GET", "/v1/records/1", "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	AssertErrorResponse(t, doRequest(srv, "GET", "/v1/records/1", "os_live_bogus", nil), http.StatusUnauthorized, ErrCodeUnauthorized)

	req := httptest.NewRequest("GET", "/v1/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	AssertErrorResponse(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestMe(t *testing.T) {
	srv, store := newTestServer(t)
	user, token := createTestUser(t, store, "me@test.com")

	w := doRequest(srv, "GET", "/v1/me", token, nil)
	AssertStatus(t, w, http.StatusOK)
	me := ReadJSON[MeResponse](t, w)
	if me.UserID != user.ID || me.GroupID != 7 || me.ScreenName != "me" {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestForms(t *testing.T) {
	srv, store := newTestServer(t)
	_, token := createTestUser(t, store, "forms@test.com")

	AssertErrorResponse(t, doRequest(srv, "GET", "/v1/forms/5", token, nil), http.StatusNotFound, ErrCodeNotFound)
	AssertErrorResponse(t, doRequest(srv, "GET", "/v1/forms/abc", token, nil), http.StatusBadRequest, ErrCodeBadRequest)

	form := models.Form{Name: "inspection", Fields: []models.Field{{Name: "title", Type: models.FieldText, Required: true}}}
	AssertStatus(t, doRequest(srv, "PUT", "/v1/forms/5", token, form), http.StatusOK)

	w := doRequest(srv, "GET", "/v1/forms/5", token, nil)
	AssertStatus(t, w, http.StatusOK)
	got := ReadJSON[models.Form](t, w)
	if got.StructureID != 5 || got.Name != "inspection" || len(got.Fields) != 1 || !got.Fields[0].Required {
		t.Fatalf("unexpected form: %+v", got)
	}

	form.StructureID = 6
	AssertErrorResponse(t, doRequest(srv, "PUT", "/v1/forms/5", token, form), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestCreateAndUpdateRecord(t *testing.T) {
	srv, store := newTestServer(t)
	seedForm(t, store)
	user, token := createTestUser(t, store, "rec@test.com")

	w := doRequest(srv, "POST", "/v1/records", token, models.Record{
		RecordSetID: 3,
		StructureID: 5,
		Values:      map[string]any{"title": "first"},
	})
	AssertStatus(t, w, http.StatusCreated)
	created := ReadJSON[models.Record](t, w)
	if !created.HasIdentity() {
		t.Fatal("created record has no identity")
	}
	if created.UserID != user.ID || created.GroupID != 7 {
		t.Fatalf("owner not filled from key: %+v", created)
	}
	md1, ok := created.ModifiedDate()
	if !ok || md1 <= 0 {
		t.Fatalf("created modifiedDate: %v %v", md1, ok)
	}

	path := fmt.Sprintf("/v1/records/%d", created.ID())
	created.Values["title"] = "second"
	w = doRequest(srv, "PUT", path, token, created)
	AssertStatus(t, w, http.StatusOK)
	updated := ReadJSON[models.Record](t, w)
	md2, _ := updated.ModifiedDate()
	if md2 <= md1 {
		t.Fatalf("modifiedDate did not advance: %d -> %d", md1, md2)
	}
	if updated.Values["title"] != "second" {
		t.Fatalf("values not updated: %v", updated.Values)
	}

	w = doRequest(srv, "GET", path, token, nil)
	AssertStatus(t, w, http.StatusOK)
	if got := ReadJSON[models.Record](t, w); got.Values["title"] != "second" {
		t.Fatalf("get after update: %v", got.Values)
	}
}

func TestRecordValidation(t *testing.T) {
	srv, store := newTestServer(t)
	seedForm(t, store)
	_, token := createTestUser(t, store, "val@test.com")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad json", "POST", "/v1/records", "not a record", http.StatusBadRequest, ErrCodeBadRequest},
		{"no record set", "POST", "/v1/records", models.Record{Values: map[string]any{"title": "x"}}, http.StatusBadRequest, ErrCodeBadRequest},
		{"identity on create", "POST", "/v1/records", models.Record{RecordID: models.Int64Ptr(9), RecordSetID: 1}, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing required", "POST", "/v1/records", models.Record{RecordSetID: 1, StructureID: 5, Values: map[string]any{"title": ""}}, http.StatusUnprocessableEntity, ErrCodeValidationFailed},
		{"update unknown", "PUT", "/v1/records/99", models.Record{RecordSetID: 1}, http.StatusNotFound, ErrCodeNotFound},
		{"update id mismatch", "PUT", "/v1/records/99", models.Record{RecordID: models.Int64Ptr(98), RecordSetID: 1}, http.StatusBadRequest, ErrCodeBadRequest},
		{"get unknown", "GET", "/v1/records/99", nil, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			AssertErrorResponse(t, doRequest(srv, tt.method, tt.path, token, tt.body), tt.status, tt.code)
		})
	}
}

func TestDocuments(t *testing.T) {
	srv, store := newTestServer(t)
	_, token := createTestUser(t, store, "doc@test.com")

	w := doRequest(srv, "POST", "/v1/documents", token, UploadDocumentRequest{
		RepositoryID: 2, FolderID: 3, FilePrefix: "form-", Name: "a.txt", Data: []byte("hello"),
	})
	AssertStatus(t, w, http.StatusCreated)
	doc := ReadJSON[DocumentResponse](t, w)
	if doc.FileEntryID <= 0 || doc.Title != "form-a.txt" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	wantURL := fmt.Sprintf("http://files.test/v1/documents/%d", doc.FileEntryID)
	if doc.URL != wantURL {
		t.Fatalf("url: got %q, want %q", doc.URL, wantURL)
	}

	w = doRequest(srv, "GET", strings.TrimPrefix(doc.URL, "http://files.test"), token, nil)
	AssertStatus(t, w, http.StatusOK)
	if w.Body.String() != "hello" {
		t.Fatalf("document body: got %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "form-a.txt") {
		t.Fatalf("content disposition: %q", cd)
	}

	AssertErrorResponse(t, doRequest(srv, "POST", "/v1/documents", token, UploadDocumentRequest{Name: "x"}), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestPortraits(t *testing.T) {
	srv, store := newTestServer(t)
	user, token := createTestUser(t, store, "face@test.com")
	other, _ := createTestUser(t, store, "other@test.com")
	path := fmt.Sprintf("/v1/users/%d/portrait", user.ID)

	AssertErrorResponse(t, doRequest(srv, "GET", path, token, nil), http.StatusNotFound, ErrCodeNotFound)

	put := func(p string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest("PUT", p, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/octet-stream")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w
	}

	w := put(path, []byte("png-bytes"))
	AssertStatus(t, w, http.StatusOK)
	if p := ReadJSON[PortraitResponse](t, w); p.PortraitID != 1 || p.UserID != user.ID {
		t.Fatalf("unexpected portrait: %+v", p)
	}

	w = doRequest(srv, "GET", path, token, nil)
	AssertStatus(t, w, http.StatusOK)
	if w.Body.String() != "png-bytes" {
		t.Fatalf("portrait body: %q", w.Body.String())
	}

	AssertErrorResponse(t, put(fmt.Sprintf("/v1/users/%d/portrait", other.ID), []byte("x")), http.StatusForbidden, ErrCodeForbidden)
	AssertErrorResponse(t, put(path, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestMaxBodyBytes(t *testing.T) {
	srv, store := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })
	_, token := createTestUser(t, store, "big@test.com")

	w := doRequest(srv, "POST", "/v1/documents", token, UploadDocumentRequest{RepositoryID: 1, Name: "big", Data: bytes.Repeat([]byte("x"), 1024)})
	AssertErrorResponse(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestMetricsCountWrites(t *testing.T) {
	srv, store := newTestServer(t)
	_, token := createTestUser(t, store, "m@test.com")

	doRequest(srv, "POST", "/v1/records", token, models.Record{RecordSetID: 1, Values: map[string]any{"a": 1}})
	doRequest(srv, "GET", "/v1/records/999", token, nil)

	w := doRequest(srv, "GET", "/metricz", "", nil)
	AssertStatus(t, w, http.StatusOK)
	m := ReadJSON[MetricsSnapshot](t, w)
	if m.RecordsWritten != 1 || m.ClientErrors != 1 || m.Requests < 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

// TestRemoteClientRoundTrip drives the server through the client package
// the CLI uses, over a real listener.
func TestRemoteClientRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	seedForm(t, h.Store)
	userID, token := h.CreateUser("client@test.com")
	c := remote.New(h.BaseURL, token)
	ctx := context.Background()

	if _, err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	me, err := c.Me(ctx)
	if err != nil || me.UserID != userID {
		t.Fatalf("me: %+v %v", me, err)
	}

	form, err := c.GetForm(ctx, 5)
	if err != nil || form.Field("title") == nil {
		t.Fatalf("get form: %+v %v", form, err)
	}

	doc, err := c.UploadDocument(ctx, remote.DocumentUpload{RepositoryID: 1, Name: "p.png", Data: []byte("img")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	rec := &models.Record{
		RecordSetID: 1,
		StructureID: 5,
		Values:      map[string]any{"title": "t"},
		Documents:   []models.Document{{Field: "photo", CachedKey: "document-1"}},
	}
	rec.ResolveDocument("document-1", doc.URL, doc.FileEntryID)
	created, err := c.CreateRecord(ctx, rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Values["photo"] != doc.URL || len(created.PendingDocuments()) != 0 {
		t.Fatalf("document not stored on record: %+v", created)
	}

	created.Values["title"] = "u"
	updated, err := c.UpdateRecord(ctx, created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	before, _ := created.ModifiedDate()
	after, _ := updated.ModifiedDate()
	if after <= before {
		t.Fatalf("modifiedDate %d -> %d", before, after)
	}

	_, err = c.CreateRecord(ctx, &models.Record{RecordSetID: 1, StructureID: 5, Values: map[string]any{}})
	if !errkind.Is(err, errkind.ValidationFailed) {
		t.Fatalf("missing field: got %v, want validation_failed", err)
	}
	_, err = c.GetRecord(ctx, 12345)
	if !errkind.Is(err, errkind.NotAvailable) {
		t.Fatalf("unknown record: got %v, want not_available", err)
	}

	if _, err := c.PutPortrait(ctx, userID, []byte("face")); err != nil {
		t.Fatalf("put portrait: %v", err)
	}
	img, err := c.GetPortrait(ctx, userID)
	if err != nil || string(img) != "face" {
		t.Fatalf("get portrait: %q %v", img, err)
	}
	_, err = c.PutPortrait(ctx, userID+100, []byte("x"))
	if !errkind.Is(err, errkind.AbortedDueToPreconditions) {
		t.Fatalf("foreign portrait: got %v, want aborted", err)
	}

	if _, err := remote.New(h.BaseURL, "os_live_wrong").Me(ctx); !errkind.Is(err, errkind.AbortedDueToPreconditions) {
		t.Fatalf("bad key: got %v", err)
	}
}
