// Package models defines the entities exchanged with the remote API and kept
// in the offline cache.
package models

import (
	"encoding/json"
	"strconv"
)

// Attribute names carried on a Record.
const (
	AttrModifiedDate = "modifiedDate"
)

// Field describes one input of a form structure.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Field types with special handling.
const (
	FieldText     = "text"
	FieldNumber   = "number"
	FieldDocument = "document"
)

// Form is a record structure as served by the remote.
type Form struct {
	StructureID int64   `json:"structureId"`
	Name        string  `json:"name"`
	Fields      []Field `json:"fields"`
	UserID      int64   `json:"userId,omitempty"`
}

// Field returns the named field, or nil.
func (f *Form) Field(name string) *Field {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// MissingRequired lists required fields absent or empty in values.
func (f *Form) MissingRequired(values map[string]any) []string {
	var missing []string
	for _, fld := range f.Fields {
		if !fld.Required {
			continue
		}
		v, ok := values[fld.Name]
		if !ok || v == nil || v == "" {
			missing = append(missing, fld.Name)
		}
	}
	return missing
}

// Document is a file attached to a record field. A document with a
// CachedKey and no URL has not been uploaded yet.
type Document struct {
	Field       string `json:"field"`
	CachedKey   string `json:"cachedKey,omitempty"`
	URL         string `json:"url,omitempty"`
	FileEntryID int64  `json:"fileEntryId,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Pending reports whether the document still lives only in the cache.
func (d Document) Pending() bool {
	return d.CachedKey != "" && d.URL == ""
}

// Record is a set of form values. RecordID is nil until the remote assigns
// one.
type Record struct {
	RecordID    *int64         `json:"recordId,omitempty"`
	RecordSetID int64          `json:"recordSetId"`
	StructureID int64          `json:"structureId,omitempty"`
	GroupID     int64          `json:"groupId,omitempty"`
	UserID      int64          `json:"userId,omitempty"`
	Values      map[string]any `json:"values"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Documents   []Document     `json:"documents,omitempty"`
}

// HasIdentity reports whether the remote has assigned a durable id.
func (r *Record) HasIdentity() bool {
	return r.RecordID != nil && *r.RecordID > 0
}

// ModifiedDate returns the modifiedDate attribute in unix milliseconds.
// ok is false when the attribute is missing or not numeric.
func (r *Record) ModifiedDate() (int64, bool) {
	switch v := r.Attributes[AttrModifiedDate].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// PendingDocuments returns the documents not yet uploaded.
func (r *Record) PendingDocuments() []Document {
	var out []Document
	for _, d := range r.Documents {
		if d.Pending() {
			out = append(out, d)
		}
	}
	return out
}

// ResolveDocument records the uploaded location of the document stored
// under cachedKey and stores the URL as the field value.
func (r *Record) ResolveDocument(cachedKey, url string, fileEntryID int64) {
	for i := range r.Documents {
		d := &r.Documents[i]
		if d.CachedKey != cachedKey {
			continue
		}
		d.URL = url
		d.FileEntryID = fileEntryID
		if r.Values == nil {
			r.Values = map[string]any{}
		}
		r.Values[d.Field] = url
	}
}

// Clone returns a deep copy of r via JSON.
func (r *Record) Clone() *Record {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// ID returns RecordID or 0.
func (r *Record) ID() int64 {
	if r.RecordID == nil {
		return 0
	}
	return *r.RecordID
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
