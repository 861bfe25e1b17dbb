// Package portrait downloads and uploads user portrait images through the
// cache.
package portrait

import (
	"context"
	"fmt"
	"strconv"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/operation"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/session"
)

// Collection is the cache collection holding portraits.
const Collection = "portraits"

// AttrUserID names the owner attribute on cached portraits.
const AttrUserID = "userId"

// Key is the cache key of a user's portrait.
func Key(userID int64) string {
	return "userId-" + strconv.FormatInt(userID, 10)
}

// Download fetches a portrait image.
type Download struct {
	UserID int64

	Result []byte
}

func (o *Download) Name() string { return "download-portrait" }

func (o *Download) Validate() error {
	if o.UserID <= 0 {
		return errkind.New(errkind.ValidationFailed, "user id required")
	}
	return nil
}

func (o *Download) Run(ctx context.Context, s *session.Session) error {
	img, err := s.Client().GetPortrait(ctx, o.UserID)
	if err != nil {
		return fmt.Errorf("download portrait %d: %w", o.UserID, err)
	}
	if len(img) == 0 {
		return errkind.Newf(errkind.InvalidServerResponse, "empty portrait for user %d", o.UserID)
	}
	o.Result = img
	return nil
}

// Upload replaces a portrait image.
type Upload struct {
	UserID int64
	Image  []byte

	Result *remote.PortraitResponse
}

func (o *Upload) Name() string { return "upload-portrait" }

func (o *Upload) Validate() error {
	if o.UserID <= 0 {
		return errkind.New(errkind.ValidationFailed, "user id required")
	}
	if len(o.Image) == 0 {
		return errkind.New(errkind.ValidationFailed, "image is empty")
	}
	return nil
}

func (o *Upload) Run(ctx context.Context, s *session.Session) error {
	out, err := s.Client().PutPortrait(ctx, o.UserID, o.Image)
	if err != nil {
		return fmt.Errorf("upload portrait %d: %w", o.UserID, err)
	}
	o.Result = out
	return nil
}

// DownloadRequest loads a portrait from the remote or the cache. Image is
// filled by a cache hit, or by Done after a remote read.
type DownloadRequest struct {
	Session *session.Context
	UserID  int64

	Image []byte

	op *Download
}

func (r *DownloadRequest) Operation() operation.Operation {
	r.op = &Download{UserID: r.UserID}
	return r.op
}

func (r *DownloadRequest) ReadFromCache(ctx context.Context) (bool, error) {
	img, ok, err := r.Session.Cache().Get(ctx, Collection, Key(r.UserID))
	if err != nil || !ok {
		return false, err
	}
	r.Image = img
	return true, nil
}

func (r *DownloadRequest) WriteToCache(ctx context.Context, sent bool) error {
	if !sent || r.op == nil || r.op.Result == nil {
		return nil
	}
	return r.Session.Cache().SetClean(ctx, Collection, Key(r.UserID), r.op.Result, attrs(r.UserID))
}

// Done copies the downloaded image into Image when the call reached the
// remote.
func (r *DownloadRequest) Done(sent bool) {
	if sent && r.op != nil && r.op.Result != nil {
		r.Image = r.op.Result
	}
}

// UploadRequest sends a portrait, keeping it dirty in the cache until the
// remote accepts it.
type UploadRequest struct {
	Session *session.Context
	UserID  int64
	Image   []byte

	op *Upload
}

// LoadUploadRequest rebuilds an upload from the cached image. A missing
// image is NotAvailable.
func LoadUploadRequest(ctx context.Context, sc *session.Context, userID int64) (*UploadRequest, error) {
	img, ok, err := sc.Cache().Get(ctx, Collection, Key(userID))
	if err != nil {
		return nil, err
	}
	if !ok || len(img) == 0 {
		return nil, errkind.Newf(errkind.NotAvailable, "portrait of user %d not cached", userID)
	}
	return &UploadRequest{Session: sc, UserID: userID, Image: img}, nil
}

func (r *UploadRequest) Operation() operation.Operation {
	r.op = &Upload{UserID: r.UserID, Image: r.Image}
	return r.op
}

// ReadFromCache never hits: an upload always has something to send.
func (r *UploadRequest) ReadFromCache(ctx context.Context) (bool, error) {
	return false, nil
}

func (r *UploadRequest) WriteToCache(ctx context.Context, sent bool) error {
	store := r.Session.Cache()
	if sent {
		return store.SetClean(ctx, Collection, Key(r.UserID), r.Image, attrs(r.UserID))
	}
	return store.SetDirty(ctx, Collection, Key(r.UserID), r.Image, attrs(r.UserID))
}

func attrs(userID int64) cache.Attributes {
	return cache.Attributes{AttrUserID: userID}
}
