// Package domain holds the canonical lead model shared across modules.
package domain

// Source identifies where a lead originated.
type Source string

const (
	SourceMetaAds     Source = "meta_ads"
	SourceGoogleAds   Source = "google_ads"
	SourceManual      Source = "manual"
	SourceExternalCRM Source = "external_crm"
	SourceAICall      Source = "ai_call"
	SourceOther       Source = "other"
)

var knownSources = []Source{
	SourceMetaAds,
	SourceGoogleAds,
	SourceManual,
	SourceExternalCRM,
	SourceAICall,
	SourceOther,
}

// KnownSources returns the enumerated valid source values.
func KnownSources() []Source {
	return append([]Source(nil), knownSources...)
}

// ParseSource validates a raw source string.
func ParseSource(raw string) (Source, bool) {
	for _, s := range knownSources {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// CanonicalInput is the normalized form of an external lead payload, ready
// for deduplication and persistence.
type CanonicalInput struct {
	Source     Source
	ExternalID string
	Name       string
	Phone      string
	Email      string
	Extra      map[string]string
	Raw        []byte
}

// HasContact reports whether at least one usable contact identifier survived
// normalization. Leads without one are rejected rather than persisted as
// unreachable records.
func (c CanonicalInput) HasContact() bool {
	return c.Phone != "" || c.Email != ""
}

// Fingerprint returns the identity key used for secondary deduplication when
// no external ID is present: the normalized phone when available, else the
// lower-cased email. Empty when the input has no contact identifier.
func (c CanonicalInput) Fingerprint() string {
	if c.Phone != "" {
		return "phone:" + c.Phone
	}
	if c.Email != "" {
		return "email:" + c.Email
	}
	return ""
}
