package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC_RoundTrip(t *testing.T) {
	m, err := ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", m.String())
}

func TestParseMAC_UppercaseAccepted(t *testing.T) {
	m, err := ParseMAC("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", m.String())
}

func TestParseMAC_WrongOctetCount(t *testing.T) {
	_, err := ParseMAC("aa:bb:cc")
	assert.Error(t, err)
}

func TestParseMAC_DistinctFromNodeID(t *testing.T) {
	// The same six bytes parsed as a MAC and as a NodeID must render in
	// their own distinct text forms, and LooksLikeMAC must distinguish them.
	id, err := Parse("aabbccddeeff")
	require.NoError(t, err)
	mac, err := ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	assert.Equal(t, id.Bytes(), mac[:])
	assert.NotEqual(t, id.String(), mac.String())
	assert.False(t, LooksLikeMAC(id.String()))
	assert.True(t, LooksLikeMAC(mac.String()))
}
