package encstage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRawFrameRelease(t *testing.T) {
	calls := 0
	var got []byte
	data := []byte{1, 2, 3}
	f := NewRawFrame(data, BGR24, 1, 1, 33*time.Millisecond, func(b []byte) {
		calls++
		got = b
	})
	assert.Equal(t, 3, f.Size)
	assert.False(t, f.Released())

	f.Release()
	f.Release()

	assert.Equal(t, 1, calls)
	assert.Equal(t, data, got)
	assert.Nil(t, f.Data)
	assert.True(t, f.Released())
}

func TestRawFrameReleaseWithoutCallback(t *testing.T) {
	f := NewRawFrame([]byte{1}, I420, 2, 2, 0, nil)
	assert.NotPanics(t, f.Release)
	assert.True(t, f.Released())
}

func TestPixelFormatFrameSize(t *testing.T) {
	assert.Equal(t, 640*480*3, BGR24.FrameSize(640, 480))
	assert.Equal(t, 640*480*4, RGBA.FrameSize(640, 480))
	assert.Equal(t, 640*480*3/2, I420.FrameSize(640, 480))
	assert.Equal(t, 0, PixelFormat(42).FrameSize(640, 480))
}

func TestNewCodec(t *testing.T) {
	for _, c := range []Codec{H264, VP8, VP9} {
		parsed, err := NewCodec(c.String())
		assert.NoError(t, err)
		assert.Equal(t, c, parsed)
		assert.Equal(t, 90_000, parsed.ClockRate())
		assert.Equal(t, "video", parsed.MediaType())
	}
	_, err := NewCodec("AV1")
	assert.Error(t, err)
}
