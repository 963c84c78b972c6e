package ingest

import (
	"testing"

	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/platform/apperr"
)

func TestNormalizeMapsCommonFieldLabels(t *testing.T) {
	n := NewNormalizer("IN")

	payload := map[string]any{
		"lead_id":      "crm-42",
		"Full Name":    "  Asha   Verma ",
		"E-Mail":       "Asha.Verma@Example.com",
		"phone_number": "+91 98765 43210",
		"city":         "Pune",
		"budget":       50000.0,
	}

	input, err := n.Normalize(domain.SourceExternalCRM, payload, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}

	if input.ExternalID != "crm-42" {
		t.Errorf("external id = %q, want crm-42", input.ExternalID)
	}
	if input.Name != "Asha Verma" {
		t.Errorf("name = %q, want collapsed %q", input.Name, "Asha Verma")
	}
	if input.Email != "asha.verma@example.com" {
		t.Errorf("email = %q, want lower-cased", input.Email)
	}
	if input.Phone != "+919876543210" {
		t.Errorf("phone = %q, want E.164 +919876543210", input.Phone)
	}
	if input.Extra["city"] != "Pune" {
		t.Errorf("extra city = %q", input.Extra["city"])
	}
	if input.Extra["budget"] != "50000" {
		t.Errorf("extra budget = %q", input.Extra["budget"])
	}
}

func TestNormalizeJoinsSplitNames(t *testing.T) {
	n := NewNormalizer("IN")

	input, err := n.Normalize(domain.SourceManual, map[string]any{
		"first_name": "Ravi",
		"last_name":  "Kumar",
		"email":      "ravi@example.com",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if input.Name != "Ravi Kumar" {
		t.Errorf("name = %q, want %q", input.Name, "Ravi Kumar")
	}
}

func TestNormalizeUnpacksMetaFieldData(t *testing.T) {
	n := NewNormalizer("IN")

	payload := map[string]any{
		"leadgen_id": "meta-123",
		"field_data": []any{
			map[string]any{"name": "full_name", "values": []any{"Neha Singh"}},
			map[string]any{"name": "phone_number", "values": []any{"09876543210"}},
			map[string]any{"name": "preferred_city", "values": []any{"Mumbai"}},
		},
	}

	input, err := n.Normalize(domain.SourceMetaAds, payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if input.ExternalID != "meta-123" {
		t.Errorf("external id = %q", input.ExternalID)
	}
	if input.Name != "Neha Singh" {
		t.Errorf("name = %q", input.Name)
	}
	if input.Phone != "+919876543210" {
		t.Errorf("phone = %q, want national number resolved via region", input.Phone)
	}
	if input.Extra["preferred_city"] != "Mumbai" {
		t.Errorf("extra preferred_city = %q", input.Extra["preferred_city"])
	}
}

func TestNormalizeRejectsPayloadWithoutContact(t *testing.T) {
	n := NewNormalizer("IN")

	_, err := n.Normalize(domain.SourceManual, map[string]any{
		"name": "No Contact",
		"city": "Delhi",
	}, nil)
	if err == nil {
		t.Fatal("expected error for payload without phone or email")
	}
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestNormalizeIgnoresInvalidEmail(t *testing.T) {
	n := NewNormalizer("IN")

	input, err := n.Normalize(domain.SourceManual, map[string]any{
		"email": "not-an-email",
		"phone": "+919876543210",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if input.Email != "" {
		t.Errorf("email = %q, want empty for invalid address", input.Email)
	}
	if input.Phone == "" {
		t.Error("phone should survive")
	}
}

func TestFingerprintPrefersPhone(t *testing.T) {
	in := domain.CanonicalInput{Phone: "+919876543210", Email: "a@b.com"}
	if got := in.Fingerprint(); got != "phone:+919876543210" {
		t.Errorf("fingerprint = %q", got)
	}
	in.Phone = ""
	if got := in.Fingerprint(); got != "email:a@b.com" {
		t.Errorf("fingerprint = %q", got)
	}
}
