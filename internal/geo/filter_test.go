package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "33602", Normalize("33602"))
	assert.Equal(t, "00601", Normalize("601"))
	assert.Equal(t, "33602", Normalize("  33602 "))
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("336021"))
	assert.Equal(t, "", Normalize("3360a"))
	assert.Equal(t, "", Normalize("Zip Code: 33602"))
}

func TestFilterAllows(t *testing.T) {
	f := NewFilter([]string{"33602", "601", "bogus", ""})

	assert.Equal(t, 2, f.Size())
	assert.True(t, f.Allows("33602"))
	assert.True(t, f.Allows("601"))   // normalized to 00601
	assert.True(t, f.Allows("00601"))
	assert.False(t, f.Allows("90210"))
	assert.False(t, f.Allows(""))
	assert.Equal(t, []string{"00601", "33602"}, f.Codes())
}

func TestDefaultFilterIsTampaBay(t *testing.T) {
	f := DefaultFilter()
	assert.True(t, f.Size() > 100)
	assert.True(t, f.Allows("33602"))
	assert.False(t, f.Allows("10001"))
}
