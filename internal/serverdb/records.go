package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Form is a stored form structure. Fields is the raw JSON field list.
type Form struct {
	StructureID int64
	Name        string
	Fields      json.RawMessage
	UserID      int64
	CreatedAt   time.Time
}

// Record is a stored form record. Values and Documents are raw JSON.
type Record struct {
	RecordID     int64
	RecordSetID  int64
	StructureID  int64
	GroupID      int64
	UserID       int64
	Values       json.RawMessage
	Documents    json.RawMessage
	ModifiedDate int64 // unix millis
	CreatedAt    time.Time
}

// PutForm creates or replaces a form structure.
func (db *ServerDB) PutForm(f *Form) error {
	if f.StructureID <= 0 {
		return fmt.Errorf("structure id is required")
	}
	fields := f.Fields
	if len(fields) == 0 {
		fields = json.RawMessage("[]")
	}
	_, err := db.conn.Exec(`
		INSERT INTO forms (structure_id, name, fields, user_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(structure_id) DO UPDATE SET name = excluded.name, fields = excluded.fields, user_id = excluded.user_id`,
		f.StructureID, f.Name, string(fields), f.UserID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put form: %w", err)
	}
	return nil
}

// GetForm returns the form with the given structure ID, or nil if not found.
func (db *ServerDB) GetForm(structureID int64) (*Form, error) {
	f := &Form{}
	var fields string
	err := db.conn.QueryRow(
		`SELECT structure_id, name, fields, user_id, created_at FROM forms WHERE structure_id = ?`, structureID,
	).Scan(&f.StructureID, &f.Name, &fields, &f.UserID, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}
	f.Fields = json.RawMessage(fields)
	return f, nil
}

const recordColumns = "record_id, record_set_id, structure_id, group_id, user_id, `values`, documents, modified_date, created_at"

// CreateRecord inserts rec, assigning RecordID and ModifiedDate.
func (db *ServerDB) CreateRecord(rec *Record) (*Record, error) {
	if rec.RecordSetID <= 0 {
		return nil, fmt.Errorf("record set id is required")
	}
	values, docs := rawOr(rec.Values, "{}"), rawOr(rec.Documents, "[]")
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		"INSERT INTO records (record_set_id, structure_id, group_id, user_id, `values`, documents, modified_date, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.RecordSetID, rec.StructureID, rec.GroupID, rec.UserID, string(values), string(docs), now.UnixMilli(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return db.GetRecord(id)
}

// UpdateRecord overwrites the values and documents of an existing record.
// ModifiedDate always moves forward, even within one millisecond. Returns
// nil if the record does not exist.
func (db *ServerDB) UpdateRecord(rec *Record) (*Record, error) {
	values, docs := rawOr(rec.Values, "{}"), rawOr(rec.Documents, "[]")
	res, err := db.conn.Exec(
		"UPDATE records SET `values` = ?, documents = ?, modified_date = MAX(?, modified_date + 1) WHERE record_id = ?",
		string(values), string(docs), time.Now().UnixMilli(), rec.RecordID,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	return db.GetRecord(rec.RecordID)
}

// GetRecord returns the record with the given ID, or nil if not found.
func (db *ServerDB) GetRecord(recordID int64) (*Record, error) {
	r := &Record{}
	var values, docs string
	err := db.conn.QueryRow(`SELECT `+recordColumns+` FROM records WHERE record_id = ?`, recordID).Scan(
		&r.RecordID, &r.RecordSetID, &r.StructureID, &r.GroupID, &r.UserID, &values, &docs, &r.ModifiedDate, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	r.Values, r.Documents = json.RawMessage(values), json.RawMessage(docs)
	return r, nil
}

func rawOr(m json.RawMessage, empty string) json.RawMessage {
	if len(m) == 0 || string(m) == "null" {
		return json.RawMessage(empty)
	}
	return m
}
