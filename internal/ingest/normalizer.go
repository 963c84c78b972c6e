// Package ingest is the entry surface for leads: payload normalization,
// deduplication, and the single/batch intake endpoints.
package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/phone"
)

// Normalizer turns a raw per-source payload into the canonical lead input.
// Field recognition is label-based so form builders with slightly different
// key names still map onto the same canonical fields.
type Normalizer struct {
	// DefaultRegion is used to resolve national-format phone numbers.
	DefaultRegion string
}

func NewNormalizer(region string) *Normalizer {
	return &Normalizer{DefaultRegion: region}
}

// Normalize produces a CanonicalInput from a raw payload. The raw bytes are
// retained verbatim for audit. A payload that yields neither a phone nor an
// email is rejected as malformed.
func (n *Normalizer) Normalize(source domain.Source, payload map[string]any, raw []byte) (domain.CanonicalInput, error) {
	flat := flatten(source, payload)

	input := domain.CanonicalInput{
		Source: source,
		Extra:  make(map[string]string),
		Raw:    raw,
	}

	for key, value := range flat {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(key))

		switch {
		case matchesAny(k, externalIDPatterns):
			input.ExternalID = value
		case matchesAny(k, fullNamePatterns):
			input.Name = collapseSpaces(value)
		case matchesAny(k, firstNamePatterns), matchesAny(k, lastNamePatterns):
			// Joined after the loop so a full name field always wins.
		case matchesAny(k, emailPatterns):
			if emailRegex.MatchString(value) {
				input.Email = strings.ToLower(value)
			}
		case matchesAny(k, phonePatterns):
			input.Phone = phone.NormalizeE164(value, n.DefaultRegion)
		default:
			input.Extra[k] = value
		}
	}

	if input.Name == "" {
		if first := flatLookup(flat, firstNamePatterns); first != "" {
			input.Name = collapseSpaces(strings.TrimSpace(first + " " + flatLookup(flat, lastNamePatterns)))
		}
	}

	if !input.HasContact() {
		return domain.CanonicalInput{}, apperr.Validation("payload has no usable phone or email").
			WithOp("ingest.Normalize")
	}
	return input, nil
}

// flatten reduces a payload to a flat string map. Nested objects get
// dot-joined keys; ad-platform answer arrays are unpacked into their
// question/answer pairs.
func flatten(source domain.Source, payload map[string]any) map[string]string {
	flat := make(map[string]string, len(payload))
	for key, value := range payload {
		flattenValue(flat, key, value)
	}

	// Meta lead ads nest answers under field_data, Google Ads lead forms
	// under user_column_data. Both reduce to name/value pairs.
	if source == domain.SourceMetaAds {
		unpackPairs(flat, payload, "field_data", "name", "values")
	}
	if source == domain.SourceGoogleAds {
		unpackPairs(flat, payload, "user_column_data", "column_id", "string_value")
	}
	return flat
}

func flattenValue(flat map[string]string, key string, value any) {
	switch v := value.(type) {
	case string:
		flat[key] = v
	case float64:
		flat[key] = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		flat[key] = strconv.FormatBool(v)
	case json.Number:
		flat[key] = v.String()
	case map[string]any:
		for nested, nv := range v {
			flattenValue(flat, key+"."+nested, nv)
		}
	case []any:
		// Arrays of objects are handled per source; scalar arrays join.
		var parts []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			flat[key] = strings.Join(parts, ", ")
		}
	case nil:
	default:
		flat[key] = fmt.Sprint(v)
	}
}

// unpackPairs lifts entries like {"name": "phone_number", "values": ["+31..."]}
// out of an answer array into top-level flat keys.
func unpackPairs(flat map[string]string, payload map[string]any, arrayKey, nameKey, valueKey string) {
	arr, ok := payload[arrayKey].([]any)
	if !ok {
		return
	}
	for _, item := range arr {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry[nameKey].(string)
		if name == "" {
			continue
		}
		switch v := entry[valueKey].(type) {
		case string:
			flat[name] = v
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					flat[name] = s
				}
			}
		}
	}
	delete(flat, arrayKey)
}

// Field label patterns recognized across sources.
var (
	externalIDPatterns = []string{"external_id", "externalid", "lead_id", "leadid", "leadgen_id", "leadgenid", "id", "crm_id", "crmid", "record_id", "conversation_id"}
	fullNamePatterns   = []string{"name", "full_name", "fullname", "your_name", "your name", "contact_name", "lead_name"}
	firstNamePatterns  = []string{"first_name", "firstname", "first name", "given_name", "givenname", "fname"}
	lastNamePatterns   = []string{"last_name", "lastname", "last name", "family_name", "familyname", "surname", "lname"}
	emailPatterns      = []string{"email", "e-mail", "e_mail", "emailaddress", "email_address", "mail", "work_email"}
	phonePatterns      = []string{"phone", "tel", "telephone", "phonenumber", "phone_number", "mobile", "mobile_number", "whatsapp", "contact_number", "cell"}
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func matchesAny(label string, patterns []string) bool {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "", ".", "").Replace(label)
	for _, p := range patterns {
		pNormalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(p)
		if normalized == pNormalized {
			return true
		}
	}
	return false
}

func flatLookup(flat map[string]string, patterns []string) string {
	for key, value := range flat {
		if matchesAny(strings.ToLower(key), patterns) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}
