package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/forms"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/operation"
	"github.com/marcus/offsync/internal/portrait"
	"github.com/marcus/offsync/internal/strategy"
)

// remoteRequest sends a bare operation with no cache side.
type remoteRequest struct {
	op operation.Operation
}

func (r remoteRequest) Operation() operation.Operation { return r.op }

func (r remoteRequest) ReadFromCache(context.Context) (bool, error) { return false, nil }

func (r remoteRequest) WriteToCache(context.Context, bool) error { return nil }

// send runs req's operation remotely and then writes the cache clean
// inline, so the entry is settled before the replay ends.
func (m *Manager) send(ctx context.Context, req strategy.Request) error {
	if _, err := m.engine.Run(ctx, strategy.Remote, req); err != nil {
		return err
	}
	return req.WriteToCache(ctx, true)
}

// syncForm replays a record. Records with an id are compared with the
// remote first; a newer remote version is a conflict.
func (m *Manager) syncForm(ctx context.Context, r *Replay) {
	// Documents are uploaded with the record that references them.
	if forms.IsDocumentKey(r.Key) {
		r.Done()
		return
	}

	rec, err := forms.DecodeRecord(r.Attributes)
	if err != nil {
		r.Fail(errkind.Wrap(errkind.AbortedDueToPreconditions, fmt.Errorf("entry %s: %w", r.Key, err)))
		return
	}

	if !rec.HasIdentity() {
		m.sendRecord(ctx, r, rec)
		return
	}

	load := &forms.LoadRecord{RecordID: rec.ID()}
	if _, err := m.engine.Run(ctx, strategy.Remote, remoteRequest{op: load}); err != nil {
		if errkind.Is(err, errkind.Cancelled) {
			r.Fail(err)
			return
		}
		r.Fail(errkind.Wrap(errkind.NotAvailable, err))
		return
	}
	remoteRec := load.Result
	remoteDate, ok := remoteRec.ModifiedDate()
	if !ok {
		r.Fail(errkind.Newf(errkind.InvalidServerResponse, "record %d: remote has no modifiedDate", rec.ID()))
		return
	}
	localDate, ok := rec.ModifiedDate()
	if !ok {
		r.Fail(errkind.Newf(errkind.InvalidServerResponse, "record %d: cached copy has no modifiedDate", rec.ID()))
		return
	}
	if remoteDate <= localDate {
		m.sendRecord(ctx, r, rec)
		return
	}

	r.Conflict(remoteRec, rec, func(res Resolution) {
		switch res {
		case UseLocal:
			m.sendRecord(ctx, r, rec)
		case UseRemote:
			if err := m.dropDocuments(ctx, rec); err != nil {
				r.Fail(err)
				return
			}
			m.keepRemote(ctx, r, remoteRec)
		case Discard:
			m.discardRecord(ctx, r, rec)
		default:
			r.Fail(errkind.Newf(errkind.AbortedDueToPreconditions, "record %d: conflict ignored", rec.ID()))
		}
	})
}

// sendRecord uploads the record's pending documents and then the record.
func (m *Manager) sendRecord(ctx context.Context, r *Replay, rec *models.Record) {
	if err := m.uploadDocuments(ctx, r, rec); err != nil {
		r.Fail(err)
		return
	}
	req := &forms.SubmitRecordRequest{Session: m.session, Record: rec, Key: r.Key}
	if err := m.send(ctx, req); err != nil {
		r.Fail(err)
		return
	}
	m.logger.Debug("sync: record sent", "key", r.Key, "record", req.Result.ID())
	r.Done()
}

// dropDocuments removes the cached documents only the local version of
// rec references. They were never uploaded.
func (m *Manager) dropDocuments(ctx context.Context, rec *models.Record) error {
	for _, d := range rec.PendingDocuments() {
		if err := m.store.Remove(ctx, forms.Collection, d.CachedKey); err != nil {
			return fmt.Errorf("drop document %s: %w", d.CachedKey, err)
		}
	}
	return nil
}

func (m *Manager) discardRecord(ctx context.Context, r *Replay, rec *models.Record) {
	if err := m.dropDocuments(ctx, rec); err != nil {
		r.Fail(err)
		return
	}
	if err := m.store.Remove(ctx, forms.Collection, r.Key); err != nil {
		r.Fail(err)
		return
	}
	r.Done()
}

func (m *Manager) keepRemote(ctx context.Context, r *Replay, remoteRec *models.Record) {
	values, err := json.Marshal(remoteRec.Values)
	if err != nil {
		r.Fail(fmt.Errorf("encode remote values: %w", err))
		return
	}
	attrs := r.Attributes.With(forms.AttrRecord, remoteRec)
	if err := m.store.SetClean(ctx, forms.Collection, r.Key, values, attrs); err != nil {
		r.Fail(err)
		return
	}
	r.Done()
}

// uploadDocuments uploads every document rec still holds only in the cache
// and points rec at the uploaded copies. The updated record is stored back
// dirty so a later failure does not upload twice.
func (m *Manager) uploadDocuments(ctx context.Context, r *Replay, rec *models.Record) error {
	pending := rec.PendingDocuments()
	if len(pending) == 0 {
		return nil
	}
	for _, d := range pending {
		req, err := forms.LoadUploadDocumentRequest(ctx, m.session, d.CachedKey)
		if err != nil {
			return err
		}
		hit, err := req.ReadFromCache(ctx)
		if err != nil {
			return err
		}
		if !hit {
			if err := m.send(ctx, req); err != nil {
				return fmt.Errorf("upload %s: %w", d.CachedKey, err)
			}
		}
		rec.ResolveDocument(d.CachedKey, req.Result.URL, req.Result.FileEntryID)
	}

	values, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record values: %w", err)
	}
	return m.store.SetDirty(ctx, forms.Collection, r.Key, values, r.Attributes.With(forms.AttrRecord, rec))
}

// syncPortrait uploads a cached portrait image.
func (m *Manager) syncPortrait(ctx context.Context, r *Replay) {
	userID, ok := r.Attributes.Int64(portrait.AttrUserID)
	if !ok {
		r.Fail(errkind.Newf(errkind.AbortedDueToPreconditions, "portrait %s: no userId attribute", r.Key))
		return
	}
	req, err := portrait.LoadUploadRequest(ctx, m.session, userID)
	if err != nil {
		r.Fail(err)
		return
	}
	if err := m.send(ctx, req); err != nil {
		r.Fail(err)
		return
	}
	r.Done()
}
