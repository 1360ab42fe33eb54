// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164 formats a phone number to E.164 using the default region
// for numbers without a country prefix. If parsing fails, it returns the
// trimmed input so lookups still compare like-for-like raw values.
func NormalizeE164(input string) string {
	return NormalizeE164In(input, defaultRegion)
}

// NormalizeE164In formats a phone number to E.164 for the given region.
func NormalizeE164In(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}
