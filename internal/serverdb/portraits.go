package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// Portrait is a user's profile image.
type Portrait struct {
	UserID       int64
	PortraitID   int64
	Image        []byte
	ModifiedDate int64 // unix millis
}

// PutPortrait replaces the portrait of userID. Each write bumps PortraitID.
func (db *ServerDB) PutPortrait(userID int64, image []byte) (*Portrait, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("portrait image is empty")
	}
	_, err := db.conn.Exec(`
		INSERT INTO portraits (user_id, portrait_id, image, modified_date) VALUES (?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			portrait_id = portrait_id + 1,
			image = excluded.image,
			modified_date = MAX(excluded.modified_date, modified_date + 1)`,
		userID, image, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("put portrait: %w", err)
	}
	return db.GetPortrait(userID)
}

// GetPortrait returns the portrait of userID, or nil if none was uploaded.
func (db *ServerDB) GetPortrait(userID int64) (*Portrait, error) {
	p := &Portrait{}
	err := db.conn.QueryRow(
		`SELECT user_id, portrait_id, image, modified_date FROM portraits WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.PortraitID, &p.Image, &p.ModifiedDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get portrait: %w", err)
	}
	return p, nil
}
