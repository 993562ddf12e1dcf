// Package websites holds the tenant boundary. A website owns every
// session and event below it; the query layer only ever reads it.
package websites

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebsiteNotFoundError represents an error when a website is not found
type WebsiteNotFoundError struct {
	Key string
}

func (e *WebsiteNotFoundError) Error() string {
	return fmt.Sprintf("website not found: %s", e.Key)
}

// NewWebsiteNotFoundError creates a new WebsiteNotFoundError
func NewWebsiteNotFoundError(key string) *WebsiteNotFoundError {
	return &WebsiteNotFoundError{Key: key}
}

// Website represents a tracked website. WebsiteKey is the stable opaque
// identifier the tracking script sends; it never changes and is never
// reused across engines.
type Website struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	WebsiteKey string         `gorm:"uniqueIndex;size:36;not null" json:"website_key"`
	Domain     string         `gorm:"uniqueIndex;not null" json:"domain"` // Base domain, e.g., "example.com"
	StripQuery bool           `gorm:"default:true" json:"strip_query"`    // Drop query strings from tracked URLs
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns the opaque key when not provided.
func (w *Website) BeforeCreate(tx *gorm.DB) error {
	if w.WebsiteKey == "" {
		w.WebsiteKey = uuid.NewString()
	}
	return nil
}

// Create registers a new website.
func Create(db *gorm.DB, website *Website) error {
	if err := db.Create(website).Error; err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}
	return nil
}

// GetByKey retrieves a website by its opaque identifier.
func GetByKey(db *gorm.DB, key string) (*Website, error) {
	var website Website
	if err := db.Where("website_key = ?", key).First(&website).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewWebsiteNotFoundError(key)
		}
		return nil, fmt.Errorf("unexpected error querying website: %w", err)
	}
	return &website, nil
}

// GetByDomain retrieves a website by exact domain match.
func GetByDomain(db *gorm.DB, domain string) (*Website, error) {
	var website Website
	if err := db.Where("domain = ?", domain).First(&website).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewWebsiteNotFoundError(domain)
		}
		return nil, fmt.Errorf("unexpected error querying website: %w", err)
	}
	return &website, nil
}

// List returns all registered websites.
func List(db *gorm.DB) ([]Website, error) {
	var all []Website
	if err := db.Order("domain ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}
	return all, nil
}

// BaseDomainForHost returns the canonical base domain for a hostname,
// preserving localhost semantics while collapsing subdomains
// (e.g. foo.example.com -> example.com).
func BaseDomainForHost(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) < 2 {
		return host // e.g., "localhost"
	}

	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	secondLast := parts[len(parts)-2]

	// Common ccTLD patterns that keep three parts (e.g. example.co.uk)
	ccTLDPatterns := map[string]bool{
		"co.uk": true, "co.jp": true, "co.za": true, "co.nz": true,
		"co.in": true, "com.au": true, "com.br": true, "org.uk": true,
		"gov.uk": true, "edu.au": true, "ac.uk": true, "ne.jp": true,
		"or.jp": true,
	}

	if len(parts) > 2 {
		twoPartTLD := fmt.Sprintf("%s.%s", secondLast, lastPart)
		if ccTLDPatterns[twoPartTLD] {
			return fmt.Sprintf("%s.%s.%s", parts[len(parts)-3], secondLast, lastPart)
		}
	}

	return fmt.Sprintf("%s.%s", secondLast, lastPart)
}
