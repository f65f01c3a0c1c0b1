package domain

import (
	"strings"
	"unicode"
)

// taxIDWeights are the NIP checksum weights applied to digits 0-8.
var taxIDWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// NormalizeTaxID strips the separators commonly used when writing tax ids
// ("123-456-32-18", "PL 1234563218"): whitespace, dashes and a leading PL
// country prefix. Any other character is kept so ValidTaxID rejects it.
func NormalizeTaxID(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && strings.EqualFold(s[:2], "PL") {
		s = s[2:]
	}
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ValidTaxID reports whether id is a 10-digit tax id whose weighted digit sum
// mod 11 equals the last digit. A remainder of 10 can never match.
func ValidTaxID(id string) bool {
	if len(id) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
		if i < 9 {
			sum += int(id[i]-'0') * taxIDWeights[i]
		}
	}
	return sum%11 == int(id[9]-'0')
}

// MaskTaxID keeps the last three digits of a tax id for log output.
func MaskTaxID(id string) string {
	if len(id) <= 3 {
		return "***"
	}
	masked := make([]byte, len(id))
	for i := range masked {
		if i < len(id)-3 {
			masked[i] = '*'
		} else {
			masked[i] = id[i]
		}
	}
	return string(masked)
}
