package logging

import "testing"

func TestMaskValue(t *testing.T) {
	if got := MaskValue("secret-token"); got != RedactedValue {
		t.Fatalf("expected redaction, got %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("blank value should pass through, got %q", got)
	}
}

func TestAuthorizationAttr(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig", "Bearer " + RedactedValue},
		{"Basic dXNlcjpwYXNz", "Basic " + RedactedValue},
		{"garbage-without-scheme", RedactedValue},
		{"", ""},
	}
	for _, tc := range cases {
		attr := AuthorizationAttr(tc.header)
		if attr.Key != "authorization" {
			t.Fatalf("unexpected key %q", attr.Key)
		}
		if got := attr.Value.String(); got != tc.want {
			t.Fatalf("header %q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
