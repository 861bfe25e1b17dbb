package forms

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/session"
)

// LoadForm fetches a form structure.
type LoadForm struct {
	StructureID int64

	Result *models.Form
}

func (o *LoadForm) Name() string { return "load-form" }

func (o *LoadForm) Validate() error {
	if o.StructureID <= 0 {
		return errkind.New(errkind.ValidationFailed, "structure id required")
	}
	return nil
}

func (o *LoadForm) Run(ctx context.Context, s *session.Session) error {
	form, err := s.Client().GetForm(ctx, o.StructureID)
	if err != nil {
		return fmt.Errorf("load form %d: %w", o.StructureID, err)
	}
	o.Result = form
	return nil
}

// LoadRecord fetches a record by id.
type LoadRecord struct {
	RecordID int64

	Result *models.Record
}

func (o *LoadRecord) Name() string { return "load-record" }

func (o *LoadRecord) Validate() error {
	if o.RecordID <= 0 {
		return errkind.New(errkind.ValidationFailed, "record id required")
	}
	return nil
}

func (o *LoadRecord) Run(ctx context.Context, s *session.Session) error {
	rec, err := s.Client().GetRecord(ctx, o.RecordID)
	if err != nil {
		return fmt.Errorf("load record %d: %w", o.RecordID, err)
	}
	o.Result = rec
	return nil
}

// SubmitRecord creates a record without id or updates one with id. Form,
// when set, is used to check required fields.
type SubmitRecord struct {
	Record *models.Record
	Form   *models.Form

	Result *models.Record
}

func (o *SubmitRecord) Name() string { return "submit-record" }

func (o *SubmitRecord) Validate() error {
	if o.Record == nil {
		return errkind.New(errkind.ValidationFailed, "record required")
	}
	if o.Record.RecordSetID <= 0 {
		return errkind.New(errkind.ValidationFailed, "record set id required")
	}
	if len(o.Record.Values) == 0 {
		return errkind.New(errkind.ValidationFailed, "record has no values")
	}
	if o.Form != nil {
		if missing := o.Form.MissingRequired(o.Record.Values); len(missing) > 0 {
			return errkind.Newf(errkind.ValidationFailed, "missing required fields: %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

func (o *SubmitRecord) Run(ctx context.Context, s *session.Session) error {
	rec := o.Record.Clone()
	if rec.UserID == 0 {
		rec.UserID = s.UserID
	}
	if rec.GroupID == 0 {
		rec.GroupID = s.GroupID
	}

	client := s.Client()
	var (
		out *models.Record
		err error
	)
	if rec.HasIdentity() {
		out, err = client.UpdateRecord(ctx, rec)
	} else {
		out, err = client.CreateRecord(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("submit record: %w", err)
	}
	o.Result = out
	return nil
}

// UploadDocument stores a document blob on the remote.
type UploadDocument struct {
	Upload remote.DocumentUpload

	Result *remote.UploadedDocument
}

func (o *UploadDocument) Name() string { return "upload-document" }

func (o *UploadDocument) Validate() error {
	if len(o.Upload.Data) == 0 {
		return errkind.New(errkind.ValidationFailed, "document is empty")
	}
	if o.Upload.FilePrefix == "" {
		return errkind.New(errkind.ValidationFailed, "file prefix required")
	}
	return nil
}

func (o *UploadDocument) Run(ctx context.Context, s *session.Session) error {
	up := o.Upload
	if up.GroupID == 0 {
		up.GroupID = s.GroupID
	}
	out, err := s.Client().UploadDocument(ctx, up)
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	o.Result = out
	return nil
}
