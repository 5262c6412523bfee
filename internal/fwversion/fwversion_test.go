package fwversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_Ordering(t *testing.T) {
	cmp, ok := Compare("1.2.0", "1.3.0")
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestCompare_UnparseableIsNotOK(t *testing.T) {
	_, ok := Compare("gluon-v2023.1", "not-a-version-at-all-??")
	assert.False(t, ok)
}

func TestRegressed(t *testing.T) {
	assert.True(t, Regressed("2.0.0", "1.9.0"))
	assert.False(t, Regressed("1.0.0", "2.0.0"))
	assert.False(t, Regressed("unparseable", "2.0.0"))
}
