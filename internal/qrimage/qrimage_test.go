package qrimage

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampSize(t *testing.T) {
	cases := map[int]int{
		-5:      DefaultSize,
		0:       DefaultSize,
		1:       MinSize,
		64:      64,
		300:     300,
		1024:    1024,
		100_000: MaxSize,
	}
	for in, want := range cases {
		assert.Equal(t, want, ClampSize(in), "size %d", in)
	}
}

func TestEncodeBoundsOversizedRequests(t *testing.T) {
	raw, err := Encode("5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", 1<<20)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), MaxSize)
	assert.LessOrEqual(t, img.Bounds().Dy(), MaxSize)
}
