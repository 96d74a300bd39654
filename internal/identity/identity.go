// Package identity turns raw gateway identifiers into canonical phones and
// individual messaging addresses.
package identity

import (
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// MinPhoneDigits is the shortest phone accepted as a real person.
const MinPhoneDigits = 10

// MaxPhoneDigits is the E.164 maximum.
const MaxPhoneDigits = 15

// Address is a validated individual messaging address.
type Address struct {
	JID   string
	Phone string
}

func (a Address) String() string {
	return a.JID
}

// NormalizeAddress accepts individual chat addresses (s.whatsapp.net, legacy
// c.us, or a bare phone number) and returns the canonical s.whatsapp.net form.
// Groups, broadcast lists, newsletters, hidden (lid) users and anything else
// report false.
func NormalizeAddress(raw string) (Address, bool) {
	phone, ok := ExtractPhone(raw)
	if !ok {
		return Address{}, false
	}
	return Address{JID: types.NewJID(phone, types.DefaultUserServer).String(), Phone: phone}, true
}

// ExtractPhone returns the phone behind an individual address, dropping any
// device suffix (5511999999999:12@s.whatsapp.net). Non-individual addresses
// report false.
func ExtractPhone(address string) (string, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", false
	}
	if !strings.Contains(address, "@") {
		return barePhone(address)
	}

	jid, err := types.ParseJID(strings.ToLower(address))
	if err != nil {
		return "", false
	}
	switch jid.Server {
	case types.DefaultUserServer, types.LegacyUserServer:
	default:
		return "", false
	}
	if !isDigits(jid.User) {
		return "", false
	}
	return phoneLength(jid.User)
}

// IsIndividual reports whether raw normalizes to an individual address.
func IsIndividual(raw string) bool {
	_, ok := NormalizeAddress(raw)
	return ok
}

// legacy group ids without a server: <creator phone>-<creation timestamp>
var legacyGroupID = regexp.MustCompile(`^\d{10,15}-\d{9,10}$`)

// barePhone accepts a typed phone number: digits with the usual + ( ) - . and
// space separators. Letters and other symbols reject the input.
func barePhone(s string) (string, bool) {
	if legacyGroupID.MatchString(s) {
		return "", false
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("+()-. ", r):
		default:
			return "", false
		}
	}
	return phoneLength(b.String())
}

func phoneLength(digits string) (string, bool) {
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return "", false
	}
	return digits, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
