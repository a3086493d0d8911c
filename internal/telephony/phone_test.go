package telephony

import "testing"

func TestNumbersMatch(t *testing.T) {
	cases := []struct {
		name       string
		webhook    string
		configured string
		toCountry  string
		want       bool
	}{
		{"exact", "+14155551234", "+14155551234", "", true},
		{"missing plus", "+14155551234", "14155551234", "", true},
		{"national form with country", "+14155551234", "4155551234", "US", true},
		{"reversed national form", "4155551234", "+14155551234", "US", true},
		{"different country same suffix", "+14155551234", "+914155551234", "US", false},
		{"different country same suffix india", "+914155551234", "+14155551234", "IN", false},
		{"no country hint no prefix strip", "+14155551234", "4155551234", "", false},
		{"empty sides", "", "+14155551234", "US", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := NumbersMatch(c.webhook, c.configured, c.toCountry, ""); got != c.want {
				t.Fatalf("NumbersMatch(%q, %q, %q): got %v, want %v",
					c.webhook, c.configured, c.toCountry, got, c.want)
			}
		})
	}
}

func TestNormalizeNANP(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+14155551234", "+14155551234"},
		{"14155551234", "+14155551234"},
		{"4155551234", "+14155551234"},
		{"415 555-1234", "+14155551234"},
		{"919876543210", "+919876543210"},
		{"", ""},
	}
	for _, c := range cases {
		if got := normalizeNANP(c.in); got != c.want {
			t.Fatalf("normalizeNANP(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}
