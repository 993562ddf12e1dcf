// Package ingest is the event collection pipeline: validate the
// payload, resolve the visitor session, classify the event and hand the
// write to the query router. Enrichment (user agent, geo) happens here
// once; stores only ever see resolved attributes.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sitelens/internal/config"
	"sitelens/internal/events"
	"sitelens/internal/pkg/geoip"
	"sitelens/internal/pkg/useragent"
	"sitelens/internal/query"
	"sitelens/internal/sessions"
	"sitelens/internal/websites"
)

// Input is one raw collection request after transport decoding.
type Input struct {
	Payload   events.Payload
	IPAddress string
	UserAgent string
	Timestamp time.Time
}

// Outcome reports what the pipeline did with an input.
type Outcome struct {
	// Dropped is set when the input was discarded without a write
	// (bot traffic). Dropping is not an error.
	Dropped bool
	// SessionID is the resolved session, empty when dropped.
	SessionID string
	// SessionCreated reports whether this input started a new session.
	SessionCreated bool
}

// Pipeline collects tracking events.
type Pipeline struct {
	db     *gorm.DB
	router *query.Router
	geo    *geoip.Resolver
	cfg    *config.Config
	logger *logrus.Logger
}

// NewPipeline wires the collection pipeline.
func NewPipeline(db *gorm.DB, router *query.Router, geo *geoip.Resolver, cfg *config.Config, logger *logrus.Logger) *Pipeline {
	return &Pipeline{db: db, router: router, geo: geo, cfg: cfg, logger: logger}
}

// Collect runs one input through the pipeline. Validation failures
// return a *events.ValidationError before any store is touched; unknown
// website keys return a *websites.WebsiteNotFoundError.
func (p *Pipeline) Collect(ctx context.Context, input Input) (*Outcome, error) {
	if err := input.Payload.Validate(p.cfg.MaxEventDataProps); err != nil {
		return nil, err
	}

	parsed, err := useragent.Parse(input.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user agent: %w", err)
	}
	if parsed.Bot {
		p.logger.WithField("user_agent", input.UserAgent).Debug("dropping bot traffic")
		return &Outcome{Dropped: true}, nil
	}

	website, err := websites.GetByKey(p.db.WithContext(ctx), input.Payload.Website)
	if err != nil {
		return nil, err
	}

	hostname := input.Payload.EffectiveHostname()
	now := input.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	session, created, err := p.resolveSession(ctx, website, hostname, input, parsed, now)
	if err != nil {
		return nil, err
	}

	if input.Payload.IdentityID != "" && session.IdentityID != input.Payload.IdentityID {
		if err := sessions.SetIdentity(p.db.WithContext(ctx), session.ID, input.Payload.IdentityID); err != nil {
			return nil, err
		}
		session.IdentityID = input.Payload.IdentityID
	}

	event, err := p.buildEvent(website, session, input.Payload, now)
	if err != nil {
		return nil, err
	}

	if err := p.router.WriteEvent(ctx, event, session); err != nil {
		return nil, err
	}

	return &Outcome{SessionID: session.ID, SessionCreated: created}, nil
}

// Identify attaches a caller-declared identity to an existing session
// without recording an event.
func (p *Pipeline) Identify(ctx context.Context, sessionID, identityID string) error {
	if sessionID == "" || identityID == "" {
		return events.NewValidationError("id", "session and identity are required")
	}
	return sessions.SetIdentity(p.db.WithContext(ctx), sessionID, identityID)
}

func (p *Pipeline) resolveSession(ctx context.Context, website *websites.Website, hostname string, input Input, parsed *useragent.UserAgent, now time.Time) (*sessions.Session, bool, error) {
	fingerprint := sessions.Fingerprint(
		website.ID, hostname, input.IPAddress, input.UserAgent,
		p.cfg.PrivateKey, p.cfg.GetSessionWindow(), now,
	)

	candidate := &sessions.Session{
		WebsiteID:       website.ID,
		Fingerprint:     fingerprint,
		Hostname:        hostname,
		Browser:         parsed.Browser,
		OperatingSystem: parsed.OS,
		Device:          parsed.Device,
		Country:         p.geo.CountryCode(input.IPAddress),
		Language:        normalizeLanguage(input.Payload.Language),
		ScreenSize:      input.Payload.Screen,
		FirstSeen:       now,
	}

	return p.router.ResolveSession(ctx, candidate)
}

func (p *Pipeline) buildEvent(website *websites.Website, session *sessions.Session, payload events.Payload, now time.Time) (*events.Event, error) {
	trackedURL, err := url.Parse(payload.URL)
	if err != nil {
		return nil, events.NewValidationError("url", fmt.Sprintf("unparseable url: %v", err))
	}

	pathname := trackedURL.Path
	if pathname == "" {
		pathname = "/"
	}

	queryString := ""
	if !website.StripQuery {
		queryString = trackedURL.RawQuery
	}

	eventType := events.EventTypePageView
	if payload.Name != "" {
		eventType = events.EventTypeCustomEvent
	}

	eventData, dataTypes, err := events.EncodeEventData(payload.Data)
	if err != nil {
		return nil, events.NewValidationError("data", fmt.Sprintf("unencodable event data: %v", err))
	}

	referrerHost, referrerPath := splitReferrer(payload.Referrer, session.Hostname)

	return &events.Event{
		WebsiteID:        website.ID,
		SessionID:        session.ID,
		EventType:        eventType,
		Hostname:         session.Hostname,
		Pathname:         pathname,
		QueryString:      queryString,
		ReferrerHostname: referrerHost,
		ReferrerPathname: referrerPath,
		Title:            payload.Title,
		Tag:              payload.Tag,
		EventName:        payload.Name,
		EventData:        eventData,
		DataTypes:        dataTypes,
		Timestamp:        now,
	}, nil
}

// splitReferrer separates a referrer URL into hostname and pathname.
// Self-referrals collapse to empty: navigation inside the tracked site
// is not an acquisition source.
func splitReferrer(referrer, ownHostname string) (string, string) {
	if referrer == "" {
		return "", ""
	}

	parsed, err := url.Parse(referrer)
	if err != nil || parsed.Hostname() == "" {
		return "", ""
	}

	host := strings.ToLower(parsed.Hostname())
	if strings.EqualFold(host, ownHostname) {
		return "", ""
	}
	return host, parsed.Path
}

// normalizeLanguage reduces an Accept-Language style value to its first
// tag.
func normalizeLanguage(language string) string {
	if idx := strings.IndexAny(language, ",;"); idx >= 0 {
		language = language[:idx]
	}
	return strings.TrimSpace(language)
}
