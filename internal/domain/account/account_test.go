package account_test

import (
	"errors"
	"strings"
	"testing"

	"delivery-userbot/internal/domain/account"
)

func TestParseCredentials(t *testing.T) {
	t.Parallel()

	validHash := strings.Repeat("a", 32)

	cases := []struct {
		name      string
		apiID     string
		apiHash   string
		phone     string
		wantField string
	}{
		{name: "valid", apiID: "12345678", apiHash: validHash, phone: "+15551234567"},
		{name: "validTrimmed", apiID: " 12345678 ", apiHash: " " + validHash, phone: "+15551234567 "},
		{name: "zeroID", apiID: "0", apiHash: validHash, phone: "+15551234567", wantField: "api_id"},
		{name: "negativeID", apiID: "-5", apiHash: validHash, phone: "+15551234567", wantField: "api_id"},
		{name: "textID", apiID: "abc", apiHash: validHash, phone: "+15551234567", wantField: "api_id"},
		{name: "shortHash", apiID: "1", apiHash: "abc123", phone: "+15551234567", wantField: "api_hash"},
		{name: "upperHash", apiID: "1", apiHash: strings.Repeat("A", 32), phone: "+15551234567", wantField: "api_hash"},
		{name: "nonHexHash", apiID: "1", apiHash: strings.Repeat("g", 32), phone: "+15551234567", wantField: "api_hash"},
		{name: "longHash", apiID: "1", apiHash: strings.Repeat("a", 33), phone: "+15551234567", wantField: "api_hash"},
		{name: "phoneNoPlus", apiID: "1", apiHash: validHash, phone: "15551234567", wantField: "phone_number"},
		{name: "phoneLetters", apiID: "1", apiHash: validHash, phone: "+1555abc4567", wantField: "phone_number"},
		{name: "phoneLeadingZero", apiID: "1", apiHash: validHash, phone: "+0555123456", wantField: "phone_number"},
		{name: "phoneTooLong", apiID: "1", apiHash: validHash, phone: "+1234567890123456", wantField: "phone_number"},
		{name: "phoneTooShort", apiID: "1", apiHash: validHash, phone: "+1", wantField: "phone_number"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			creds, err := account.ParseCredentials(tc.apiID, tc.apiHash, tc.phone)
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("ParseCredentials() error = %v", err)
				}
				if creds.APIID != 12345678 || creds.APIHash != validHash || creds.Phone != "+15551234567" {
					t.Fatalf("ParseCredentials() = %+v", creds)
				}
				return
			}

			var verr *account.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ParseCredentials() error = %v, want ValidationError", err)
			}
			if verr.Field != tc.wantField {
				t.Fatalf("field = %q, want %q", verr.Field, tc.wantField)
			}
		})
	}
}

func TestValidateCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "12345", want: "12345", ok: true},
		{in: " 1234\n", want: "1234", ok: true},
		{in: "12345678", want: "12345678", ok: true},
		{in: "123", ok: false},
		{in: "123456789", ok: false},
		{in: "12a45", ok: false},
		{in: "12 345", ok: false},
		{in: "", ok: false},
	}

	for _, tc := range cases {
		got, err := account.ValidateCode(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ValidateCode(%q) error = %v, want ok=%v", tc.in, err, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("ValidateCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "   ", "\t\n"} {
		if err := account.ValidatePassword(bad); err == nil {
			t.Fatalf("ValidatePassword(%q) = nil, want error", bad)
		}
	}
	if err := account.ValidatePassword(" secret "); err != nil {
		t.Fatalf("ValidatePassword() error = %v", err)
	}
}

func TestRecordFlags(t *testing.T) {
	t.Parallel()

	var empty account.Record
	if empty.HasCredentials() || empty.HasSession() {
		t.Fatalf("empty record reports data: %+v", empty)
	}

	partial := account.Record{Credentials: account.Credentials{APIID: 1, APIHash: "x", Phone: "+1"}}
	if !partial.HasCredentials() || partial.HasSession() {
		t.Fatalf("partial record flags wrong: %+v", partial)
	}

	full := partial
	full.Session = "v1:abc"
	if !full.HasSession() {
		t.Fatalf("full record has no session")
	}
}
