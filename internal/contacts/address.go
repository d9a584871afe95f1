package contacts

import "strings"

// Ordinary gateway addresses end in this suffix and carry the phone number.
// Everything else, "@lid" pseudonyms and "@g.us" group chats included, is
// opaque and never converts to a phone.
const ordinarySuffix = "@s.whatsapp.net"

// Address is a parsed sender address. Phone is empty for opaque addresses.
type Address struct {
	Raw    string
	Phone  string
	Opaque bool
}

// ParseAddress classifies a raw remote identifier. Only ordinary addresses
// yield a phone; lid and group addresses are treated as opaque.
func ParseAddress(remoteJID string) Address {
	raw := strings.TrimSpace(remoteJID)
	addr := Address{Raw: raw, Opaque: true}

	if strings.HasSuffix(raw, ordinarySuffix) {
		phone := digitsOnly(strings.TrimSuffix(raw, ordinarySuffix))
		if phone != "" {
			addr.Phone = phone
			addr.Opaque = false
		}
		return addr
	}
	return addr
}

// PhoneToAddress reconstructs the gateway address form from a canonical phone.
func PhoneToAddress(phone string) string {
	digits := digitsOnly(phone)
	if digits == "" {
		return ""
	}
	return digits + ordinarySuffix
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
