package forms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/operation"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/session"
)

// LoadRecordRequest loads a record, and its form when StructureID is set.
// Form and Record hold the result after a successful run.
type LoadRecordRequest struct {
	Session     *session.Context
	RecordID    int64
	StructureID int64

	Form   *models.Form
	Record *models.Record

	op operation.Operation
}

// Operation returns a form+record chain when StructureID is set, otherwise a
// plain record load.
func (r *LoadRecordRequest) Operation() operation.Operation {
	load := &LoadRecord{RecordID: r.RecordID}
	if r.StructureID <= 0 {
		r.op = load
		return load
	}
	head := &LoadForm{StructureID: r.StructureID}
	r.op = operation.NewChain(head, func(prev operation.Operation, step int) operation.Operation {
		if _, ok := prev.(*LoadForm); ok {
			return load
		}
		return nil
	})
	return r.op
}

// remoteResult returns the outcome of the last built operation.
func (r *LoadRecordRequest) remoteResult() (*models.Form, *models.Record) {
	switch op := r.op.(type) {
	case *LoadRecord:
		return nil, op.Result
	case *operation.Chain:
		var (
			form *models.Form
			rec  *models.Record
		)
		if lf, ok := op.Head().(*LoadForm); ok {
			form = lf.Result
		}
		if lr, ok := op.Current().(*LoadRecord); ok {
			rec = lr.Result
		}
		return form, rec
	}
	return nil, nil
}

func (r *LoadRecordRequest) ReadFromCache(ctx context.Context) (bool, error) {
	store := r.Session.Cache()
	if r.StructureID <= 0 {
		_, attrs, ok, err := store.GetWithAttributes(ctx, Collection, RecordKey(r.RecordID))
		if err != nil || !ok {
			return false, err
		}
		rec, err := decodeRecord(attrs)
		if err != nil {
			return false, err
		}
		r.Record = rec
		return true, nil
	}

	entries, err := store.GetBatchWithAttributes(ctx, Collection, []string{StructureKey(r.StructureID), RecordKey(r.RecordID)})
	if err != nil {
		return false, err
	}
	if entries[0] == nil || entries[1] == nil {
		return false, nil
	}
	var form models.Form
	if err := json.Unmarshal(entries[0].Value, &form); err != nil {
		return false, fmt.Errorf("decode cached form: %w", err)
	}
	if uid, ok := entries[0].Attributes.Int64(AttrUserID); ok {
		form.UserID = uid
	}
	rec, err := decodeRecord(entries[1].Attributes)
	if err != nil {
		return false, err
	}
	r.Form = &form
	r.Record = rec
	return true, nil
}

// WriteToCache stores what the remote returned. Loads are never written
// dirty.
func (r *LoadRecordRequest) WriteToCache(ctx context.Context, sent bool) error {
	form, rec := r.remoteResult()
	if !sent || rec == nil {
		return nil
	}
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record values: %w", err)
	}
	keys := []string{RecordKey(rec.ID())}
	vals := [][]byte{values}
	attrs := []cache.Attributes{{AttrRecord: rec}}
	if form != nil {
		data, err := json.Marshal(form)
		if err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
		keys = append(keys, StructureKey(form.StructureID))
		vals = append(vals, data)
		attrs = append(attrs, cache.Attributes{AttrUserID: form.UserID})
	}
	return r.Session.Cache().SetCleanBatch(ctx, Collection, keys, vals, attrs)
}

// Done copies the remote result into Form and Record when the call reached
// the remote. A cache hit has already filled them.
func (r *LoadRecordRequest) Done(sent bool) {
	if !sent {
		return
	}
	form, rec := r.remoteResult()
	if form != nil {
		r.Form = form
	}
	r.Record = rec
}

// SubmitRecordRequest sends a record and keeps the cache in step with the
// outcome. Key is the cache key the record lives under; it changes from a
// draft key to a record key once the remote assigns an id.
type SubmitRecordRequest struct {
	Session *session.Context
	Record  *models.Record
	Form    *models.Form
	Key     string

	// Result is the record as stored remotely, after a successful send.
	Result *models.Record

	op *SubmitRecord
}

// NewSubmitRecordRequest keys rec by its id, or by a fresh draft key.
func NewSubmitRecordRequest(sc *session.Context, rec *models.Record, form *models.Form) *SubmitRecordRequest {
	return &SubmitRecordRequest{Session: sc, Record: rec, Form: form, Key: KeyFor(rec.RecordID)}
}

func (r *SubmitRecordRequest) Operation() operation.Operation {
	r.op = &SubmitRecord{Record: r.Record, Form: r.Form}
	return r.op
}

// ReadFromCache never hits: a submission always has something to send.
func (r *SubmitRecordRequest) ReadFromCache(ctx context.Context) (bool, error) {
	return false, nil
}

// WriteToCache stores a sent record clean, promoting a draft to its new
// record key, and an unsent one dirty under Key.
func (r *SubmitRecordRequest) WriteToCache(ctx context.Context, sent bool) error {
	store := r.Session.Cache()
	if sent && r.op != nil && r.op.Result != nil {
		r.Result = r.op.Result
		values, err := json.Marshal(r.Result.Values)
		if err != nil {
			return fmt.Errorf("encode record values: %w", err)
		}
		newKey := RecordKey(r.Result.ID())
		attrs := cache.Attributes{AttrRecord: r.Result}
		if IsDraftKey(r.Key) && !r.Record.HasIdentity() {
			if err := store.Promote(ctx, Collection, r.Key, newKey, values, attrs); err != nil {
				return err
			}
			r.Key = newKey
			return nil
		}
		return store.SetClean(ctx, Collection, r.Key, values, attrs)
	}

	values, err := json.Marshal(r.Record.Values)
	if err != nil {
		return fmt.Errorf("encode record values: %w", err)
	}
	return store.SetDirty(ctx, Collection, r.Key, values, cache.Attributes{AttrRecord: r.pendingRecord()})
}

// pendingRecord fills the owner fields a later replay needs.
func (r *SubmitRecordRequest) pendingRecord() *models.Record {
	rec := r.Record.Clone()
	if s, ok := r.Session.Current(); ok {
		if rec.UserID == 0 {
			rec.UserID = s.UserID
		}
		if rec.GroupID == 0 {
			rec.GroupID = s.GroupID
		}
	}
	return rec
}

// UploadDocumentRequest uploads a document blob kept under Key.
type UploadDocumentRequest struct {
	Session *session.Context
	Key     string
	Upload  remote.DocumentUpload

	Result *remote.UploadedDocument

	op *UploadDocument
}

// NewUploadDocumentRequest keys upload under a fresh document key.
func NewUploadDocumentRequest(sc *session.Context, upload remote.DocumentUpload) *UploadDocumentRequest {
	return &UploadDocumentRequest{Session: sc, Key: DocumentKey(), Upload: upload}
}

// LoadUploadDocumentRequest rebuilds the request for a cached document.
// A missing entry or missing upload attributes is NotAvailable.
func LoadUploadDocumentRequest(ctx context.Context, sc *session.Context, key string) (*UploadDocumentRequest, error) {
	data, attrs, ok, err := sc.Cache().GetWithAttributes(ctx, Collection, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkind.Newf(errkind.NotAvailable, "document %s not cached", key)
	}
	prefix := attrs.String(AttrFilePrefix)
	folder, okFolder := attrs.Int64(AttrFolderID)
	repo, okRepo := attrs.Int64(AttrRepositoryID)
	group, okGroup := attrs.Int64(AttrGroupID)
	if prefix == "" || !okFolder || !okRepo || !okGroup {
		return nil, errkind.Newf(errkind.NotAvailable, "document %s missing upload attributes", key)
	}
	return &UploadDocumentRequest{
		Session: sc,
		Key:     key,
		Upload: remote.DocumentUpload{
			GroupID:      group,
			RepositoryID: repo,
			FolderID:     folder,
			FilePrefix:   prefix,
			Name:         attrs.String(AttrName),
			Data:         data,
		},
	}, nil
}

func (r *UploadDocumentRequest) Operation() operation.Operation {
	r.op = &UploadDocument{Upload: r.Upload}
	return r.op
}

// ReadFromCache hits when the document was already uploaded.
func (r *UploadDocumentRequest) ReadFromCache(ctx context.Context) (bool, error) {
	e, err := r.Session.Cache().GetEntry(ctx, Collection, r.Key)
	if err != nil || e == nil || e.Dirty() {
		return false, err
	}
	url := e.Attributes.String(AttrURL)
	if url == "" {
		return false, nil
	}
	id, _ := e.Attributes.Int64(AttrFileEntryID)
	r.Result = &remote.UploadedDocument{URL: url, FileEntryID: id}
	return true, nil
}

func (r *UploadDocumentRequest) WriteToCache(ctx context.Context, sent bool) error {
	attrs := cache.Attributes{
		AttrFilePrefix:   r.Upload.FilePrefix,
		AttrFolderID:     r.Upload.FolderID,
		AttrRepositoryID: r.Upload.RepositoryID,
		AttrGroupID:      r.Upload.GroupID,
		AttrName:         r.Upload.Name,
	}
	store := r.Session.Cache()
	if sent && r.op != nil && r.op.Result != nil {
		r.Result = r.op.Result
		attrs[AttrURL] = r.Result.URL
		attrs[AttrFileEntryID] = r.Result.FileEntryID
		return store.SetClean(ctx, Collection, r.Key, r.Upload.Data, attrs)
	}
	return store.SetDirty(ctx, Collection, r.Key, r.Upload.Data, attrs)
}

// Document returns the record attachment for this upload: resolved when
// uploaded, otherwise pointing at the cached blob.
func (r *UploadDocumentRequest) Document(field string) models.Document {
	d := models.Document{Field: field, CachedKey: r.Key, Title: r.Upload.Name}
	if r.Result != nil {
		d.URL = r.Result.URL
		d.FileEntryID = r.Result.FileEntryID
	}
	return d
}

// decodeRecord reads the record attribute of a cached entry.
func decodeRecord(attrs cache.Attributes) (*models.Record, error) {
	var rec models.Record
	if err := attrs.Decode(AttrRecord, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DecodeRecord reads the record attribute of a cached entry.
func DecodeRecord(attrs cache.Attributes) (*models.Record, error) {
	return decodeRecord(attrs)
}
