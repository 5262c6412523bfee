package nodeid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MAC is a six-byte hardware address, kept as a distinct type from ID so
// the two can never be silently confused at compile time even though they
// are both six raw bytes.
type MAC [6]byte

// ParseMAC accepts the six colon-separated lowercase (or uppercase) hex
// octets form, e.g. "aa:bb:cc:dd:ee:ff".
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("mac: %q is not six colon-separated octets", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return m, fmt.Errorf("mac: %q: invalid octet %q", s, p)
		}
		m[i] = b[0]
	}
	return m, nil
}

// String renders the canonical lowercase colon-separated form.
func (m MAC) String() string {
	parts := make([]string, 6)
	for i, b := range m {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
