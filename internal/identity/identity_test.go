package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddressAcceptsIndividuals(t *testing.T) {
	cases := []struct {
		raw   string
		jid   string
		phone string
	}{
		{"5511987654321@s.whatsapp.net", "5511987654321@s.whatsapp.net", "5511987654321"},
		{"5511987654321@c.us", "5511987654321@s.whatsapp.net", "5511987654321"},
		{"5511987654321:12@s.whatsapp.net", "5511987654321@s.whatsapp.net", "5511987654321"},
		{"  5511987654321@S.WHATSAPP.NET ", "5511987654321@s.whatsapp.net", "5511987654321"},
		{"+55 (11) 98765-4321", "5511987654321@s.whatsapp.net", "5511987654321"},
	}
	for _, tc := range cases {
		addr, ok := NormalizeAddress(tc.raw)
		if assert.True(t, ok, tc.raw) {
			assert.Equal(t, tc.jid, addr.JID, tc.raw)
			assert.Equal(t, tc.phone, addr.Phone, tc.raw)
		}
	}
}

func TestNormalizeAddressRejectsNonIndividuals(t *testing.T) {
	for _, raw := range []string{
		"120363025246125888@g.us",
		"1203xxxx@g.us",
		"status@broadcast",
		"5511987654321@broadcast",
		"120363123456789012@newsletter",
		"198765432101234@lid",
		"5511987654321@example.com",
		"abc5511987654321@s.whatsapp.net",
		"12345@s.whatsapp.net",
		"0@s.whatsapp.net",
		"@s.whatsapp.net",
		"",
		"   ",
		"12345",
		"5511987654321-1612345678",
		"5511987654321-1612345678@g.us",
		"abc5511987654321xyz",
		"5511987654321#",
		"5511987654321123456",
		"5511987654321123456@s.whatsapp.net",
	} {
		_, ok := NormalizeAddress(raw)
		assert.False(t, ok, raw)
		assert.False(t, IsIndividual(raw), raw)
	}
}

func TestExtractPhone(t *testing.T) {
	phone, ok := ExtractPhone("5511987654321@s.whatsapp.net")
	assert.True(t, ok)
	assert.Equal(t, "5511987654321", phone)

	phone, ok = ExtractPhone("5511987654321:3@s.whatsapp.net")
	assert.True(t, ok)
	assert.Equal(t, "5511987654321", phone)

	_, ok = ExtractPhone("123456789@s.whatsapp.net")
	assert.False(t, ok, "nine digits is too short")

	phone, ok = ExtractPhone("+55 11 98765-4321")
	assert.True(t, ok)
	assert.Equal(t, "5511987654321", phone)

	_, ok = ExtractPhone("")
	assert.False(t, ok)

	_, ok = ExtractPhone("120363041234567890@g.us")
	assert.False(t, ok, "groups have no phone")

	_, ok = ExtractPhone("198765432101234@lid")
	assert.False(t, ok)

	_, ok = ExtractPhone("1234567890123456@s.whatsapp.net")
	assert.False(t, ok, "sixteen digits exceeds E.164")
}
