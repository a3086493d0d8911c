package telephony

import "strings"

// countryDialPrefixes maps ISO 3166-1 alpha-2 codes to international dial
// prefixes for the countries the platform terminates calls in.
var countryDialPrefixes = map[string]string{
	"US": "1",
	"CA": "1",
	"GB": "44",
	"IN": "91",
	"AU": "61",
	"DE": "49",
	"FR": "33",
	"BR": "55",
	"MX": "52",
	"IT": "39",
	"ES": "34",
	"NL": "31",
	"SE": "46",
	"NO": "47",
	"DK": "45",
	"FI": "358",
	"CH": "41",
	"AT": "43",
	"BE": "32",
	"LU": "352",
	"IE": "353",
}

// NumbersMatch reports whether a webhook phone number refers to the same
// line as a configured from-number. It tolerates exact matches, a missing
// leading plus, and a missing dial prefix when the country is known, but
// never matches across different country prefixes that happen to share
// trailing digits.
func NumbersMatch(webhookNumber, configuredNumber, toCountry, fromCountry string) bool {
	a := strings.TrimSpace(webhookNumber)
	b := strings.TrimSpace(configuredNumber)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	aDigits := strings.TrimPrefix(a, "+")
	bDigits := strings.TrimPrefix(b, "+")
	if aDigits == bDigits {
		return true
	}

	for _, country := range []string{toCountry, fromCountry} {
		prefix, ok := countryDialPrefixes[strings.ToUpper(country)]
		if !ok {
			continue
		}
		aStripped, aHad := strings.CutPrefix(aDigits, prefix)
		bStripped, bHad := strings.CutPrefix(bDigits, prefix)
		// Require at least one side to have actually carried the prefix so
		// that two numbers in different countries never collapse onto the
		// same national form.
		if aStripped == bStripped && (aHad || bHad) {
			return true
		}
	}
	return false
}

// normalizeNANP cleans a phone number into E.164, assuming the North
// American numbering plan for bare 10-digit numbers. This mirrors how the
// US-centric vendors present numbers.
func normalizeNANP(raw string) string {
	if raw == "" {
		return ""
	}
	clean := strings.NewReplacer(" ", "", "-", "").Replace(raw)
	switch {
	case strings.HasPrefix(clean, "+"):
		return clean
	case strings.HasPrefix(clean, "1") && len(clean) == 11:
		return "+" + clean
	case len(clean) == 10:
		return "+1" + clean
	default:
		return "+" + clean
	}
}

// ensurePlus prefixes a plus without guessing a country, for vendors that
// always send full international numbers.
func ensurePlus(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return raw
	}
	return "+" + raw
}
