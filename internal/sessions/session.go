// Package sessions models one browsing session of one visitor on one
// website. Sessions follow the append model: attributes are resolved at
// ingestion time and immutable once written, which keeps the
// high-throughput write path free of update contention.
package sessions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Session is one visitor session. The fingerprint is a derived hash,
// never raw PII; device, browser and geo attributes are resolved once
// at ingestion.
type Session struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	WebsiteID       uint      `gorm:"uniqueIndex:idx_session_fingerprint;index:idx_session_website_seen;not null" json:"website_id"`
	Fingerprint     string    `gorm:"uniqueIndex:idx_session_fingerprint;size:64;not null" json:"-"`
	Hostname        string    `gorm:"index" json:"hostname"`
	Browser         string    `json:"browser"`
	OperatingSystem string    `json:"os"`
	Device          string    `json:"device"`
	Country         string    `json:"country"`
	Language        string    `json:"language"`
	ScreenSize      string    `json:"screen"`
	IdentityID      string    `gorm:"index" json:"identity_id"`
	FirstSeen       time.Time `gorm:"index:idx_session_website_seen;not null" json:"first_seen"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate assigns the session id. UUIDs keep ids unique across
// engines: the same logical session resolves to the same entity
// whichever store answers.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Resolve finds or creates the session for a visitor fingerprint.
// Creation is an upsert keyed on (website_id, fingerprint), not a lock:
// a concurrent duplicate insert is swallowed by ON CONFLICT DO NOTHING
// and the winning row re-read, so resolving the same fingerprint twice
// inside one window always yields the same session id.
func Resolve(db *gorm.DB, candidate *Session) (*Session, bool, error) {
	var existing Session
	err := db.Where("website_id = ? AND fingerprint = ?", candidate.WebsiteID, candidate.Fingerprint).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, fmt.Errorf("failed to look up session: %w", err)
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "website_id"}, {Name: "fingerprint"}},
		DoNothing: true,
	}).Create(candidate)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return candidate, true, nil
	}

	// Lost the creation race; the other writer's row is the session.
	err = db.Where("website_id = ? AND fingerprint = ?", candidate.WebsiteID, candidate.Fingerprint).
		First(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-read session after conflict: %w", err)
	}
	return &existing, false, nil
}

// GetByID retrieves a session by id.
func GetByID(db *gorm.DB, id string) (*Session, error) {
	var session Session
	if err := db.Where("id = ?", id).First(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &session, nil
}

// SetIdentity records the caller-declared identity id on a session.
// This is the one field written after creation; it arrives through the
// identify flow, never through page-view traffic.
func SetIdentity(db *gorm.DB, sessionID, identityID string) error {
	err := db.Model(&Session{}).Where("id = ?", sessionID).
		Update("identity_id", identityID).Error
	if err != nil {
		return fmt.Errorf("failed to set identity on session %s: %w", sessionID, err)
	}
	return nil
}
