// Package nodeid implements the two six-byte identifier types used
// throughout the mesh: NodeId (opaque node identity) and MacAddress (a
// hardware address that some firmware versions confuse NodeId with).
package nodeid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ID is a six-byte node identifier. Its canonical text form is twelve
// lowercase hex characters with no separators; colon-separated input is
// accepted for robustness since it is how firmware sometimes renders it.
type ID [6]byte

// Parse accepts both "aabbccddeeff" and "aa:bb:cc:dd:ee:ff" forms.
func Parse(s string) (ID, error) {
	var id ID
	stripped := strings.ReplaceAll(s, ":", "")
	if len(stripped) != 12 {
		return id, fmt.Errorf("nodeid: %q is not 12 hex characters", s)
	}
	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return id, fmt.Errorf("nodeid: %q: %w", s, err)
	}
	copy(id[:], raw)
	return id, nil
}

// String renders the canonical twelve-character lowercase hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the underlying six bytes.
func (id ID) Bytes() []byte {
	return id[:]
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// LooksLikeMAC reports whether s has the colon-separated form used by
// MacAddress text rendering rather than the bare-hex form used by ID. Some
// firmware versions incorrectly put a MAC address (colon form) into a field
// typed as a node identifier; this lets callers detect and recover from
// that before parsing.
func LooksLikeMAC(s string) bool {
	return strings.Contains(s, ":")
}
