package messaging

import "testing"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"whatsapp:+15551234567", "15551234567"},
		{"+1 (555) 123-4567", "15551234567"},
		{"  15551234567 ", "15551234567"},
		{"tel:+44 20 7946 0958", "442079460958"},
		{"", ""},
		{"no digits", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeE164(t *testing.T) {
	if got := NormalizeE164("whatsapp:+1 555-123-4567"); got != "+15551234567" {
		t.Errorf("NormalizeE164 = %q", got)
	}
	if got := NormalizeE164("   "); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestStatusRank(t *testing.T) {
	if !(StatusRank(StatusSent) < StatusRank(StatusDelivered) && StatusRank(StatusDelivered) < StatusRank(StatusRead)) {
		t.Fatal("status ordering broken")
	}
	if StatusRank("bogus") != 0 {
		t.Fatal("unknown status should rank 0")
	}
}
