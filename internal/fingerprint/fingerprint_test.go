package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashDeterministic(t *testing.T) {
	assert.Equal(t, Hash("the same content"), Hash("the same content"))
}

func TestHashDistinguishesContent(t *testing.T) {
	assert.NotEqual(t, Hash("alpha"), Hash("beta"))
	assert.NotEqual(t, Hash(""), Hash(" "))
}

func TestHashLength(t *testing.T) {
	assert.Len(t, Hash(""), Size)
	assert.Len(t, Hash("some longer content with unicode: héllo wörld"), Size)
}

func TestHashKnownVector(t *testing.T) {
	// sha256("") is a fixed value; guards against accidental algorithm swaps.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
}
