package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		name   string
		region string
		input  string
		want   string
	}{
		{name: "uk mobile national", region: "GB", input: "07400 123456", want: "+447400123456"},
		{name: "already e164", region: "GB", input: "+447400123456", want: "+447400123456"},
		{name: "dutch with region", region: "NL", input: "06 12345678", want: "+31612345678"},
		{name: "garbage kept trimmed", region: "GB", input: "  not a number ", want: "not a number"},
		{name: "empty", region: "GB", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewNormalizer(tt.region).NormalizeE164(tt.input)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseReportsValidity(t *testing.T) {
	n := NewNormalizer("")
	if _, ok := n.Parse("12"); ok {
		t.Fatalf("expected short number to be invalid")
	}
	if got, ok := n.Parse("0121 234 5678"); !ok || got != "+441212345678" {
		t.Fatalf("expected birmingham landline to parse, got %q ok=%v", got, ok)
	}
}
