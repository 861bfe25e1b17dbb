package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// Document is an uploaded file.
type Document struct {
	FileEntryID  int64
	GroupID      int64
	RepositoryID int64
	FolderID     int64
	FilePrefix   string
	Name         string
	Data         []byte
	UserID       int64
	CreatedAt    time.Time
}

// Title is the stored file name: prefix and name joined.
func (d *Document) Title() string {
	return d.FilePrefix + d.Name
}

// CreateDocument stores a document and assigns its FileEntryID.
func (db *ServerDB) CreateDocument(d *Document) (*Document, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("document name is required")
	}
	if d.Data == nil {
		d.Data = []byte{}
	}
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`INSERT INTO documents (group_id, repository_id, folder_id, file_prefix, name, data, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.GroupID, d.RepositoryID, d.FolderID, d.FilePrefix, d.Name, d.Data, d.UserID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	out := *d
	out.FileEntryID = id
	out.CreatedAt = now
	return &out, nil
}

// GetDocument returns the document with the given ID, or nil if not found.
func (db *ServerDB) GetDocument(fileEntryID int64) (*Document, error) {
	d := &Document{}
	err := db.conn.QueryRow(
		`SELECT file_entry_id, group_id, repository_id, folder_id, file_prefix, name, data, user_id, created_at FROM documents WHERE file_entry_id = ?`,
		fileEntryID,
	).Scan(&d.FileEntryID, &d.GroupID, &d.RepositoryID, &d.FolderID, &d.FilePrefix, &d.Name, &d.Data, &d.UserID, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}
