// Package email turns guest email addresses into presentable names. The
// booking platform does not always forward a display name with the bearer
// token; the flow still greets the guest by something better than their raw
// address.
package email

import (
	"strings"
	"unicode"
)

// fallback stands in when the address yields nothing usable.
const fallback = "Guest"

// DeriveNameFromEmail guesses a first and last name from the local part of
// an address: "ana.soares@mail.com" yields ("Ana", "Soares"). Either value
// falls back to "Guest" when the address has nothing to offer.
func DeriveNameFromEmail(addr string) (string, string) {
	local := addr
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		local = addr[:at]
	}
	// Plus-tags are routing hints, not name material.
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return fallback, fallback
	}

	first := capitalize(parts[0])
	last := fallback
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}
	return first, last
}

// DisplayName returns the greeting form of the guess: "Ana Soares", "Ana",
// or "Guest". A display name sent by the upstream platform always wins over
// this; callers only reach for it when that field is empty.
func DisplayName(addr string) string {
	first, last := DeriveNameFromEmail(addr)
	switch {
	case first == fallback:
		return fallback
	case last == fallback:
		return first
	}
	return first + " " + last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
