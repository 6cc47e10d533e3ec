package policy

import (
	"strings"
	"testing"
)

func TestRedactPIIMasksSensitiveValues(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		want   string
		absent string
	}{
		{"email", `{"username":"ada","email":"ada@example.com"}`, "[REDACTED_EMAIL]", "ada@example.com"},
		{"card", "paid with 4242 4242 4242 4242 today", "[REDACTED_CARD]", "4242 4242"},
		{"phone", "call +1 (555) 123-9876", "[REDACTED_PHONE]", "123-9876"},
		{"mac", `{"interface":"en0","mac":"a4:83:e7:1b:22:0c"}`, "[REDACTED_MAC]", "a4:83:e7"},
		{"dashed mac", "hw 00-1A-2B-3C-4D-5E", "[REDACTED_MAC]", "4D-5E"},
		{"ipv4", `{"remote_address":"203.0.113.42","remote_port":"443"}`, "[REDACTED_IP]", "203.0.113.42"},
		{"json secret", `{"key":"db","password":"hunter2"}`, `"password":"[REDACTED_SECRET]"`, "hunter2"},
		{"env secret", "API_KEY=sk-live-123 make deploy", "API_KEY=[REDACTED_SECRET]", "sk-live-123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, changed := RedactPII(tc.input)
			if !changed {
				t.Fatalf("RedactPII(%q) changed = false, want true", tc.input)
			}
			if !strings.Contains(out, tc.want) {
				t.Fatalf("RedactPII(%q) = %q, want it to contain %q", tc.input, out, tc.want)
			}
			if strings.Contains(out, tc.absent) {
				t.Fatalf("RedactPII(%q) = %q, still contains %q", tc.input, out, tc.absent)
			}
		})
	}
}

func TestRedactPIIKeepsHostCounters(t *testing.T) {
	for _, input := range []string{
		`{"pid":"4242","start_time":"1697000000","physical_memory":"17179869184"}`,
		`{"address":"127.0.0.1","port":"5432"}`,
		`{"address":"0.0.0.0","port":"22"}`,
		`{"version":"5.12.1","build":"darwin"}`,
	} {
		out, changed := RedactPII(input)
		if changed || out != input {
			t.Fatalf("RedactPII(%q) = %q, want unchanged", input, out)
		}
	}
}
