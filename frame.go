package encstage

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PixelFormat is the memory layout of a RawFrame's pixel buffer.
type PixelFormat int

const (
	// BGR24 is packed 8 bit blue, green, red. Capture devices deliver this by
	// default.
	BGR24 PixelFormat = iota
	RGBA
	// I420 is planar 4:2:0 YCbCr: a full resolution Y plane followed by
	// quarter resolution Cb and Cr planes.
	I420
)

func (f PixelFormat) String() string {
	switch f {
	case BGR24:
		return "bgr24"
	case RGBA:
		return "rgba"
	case I420:
		return "i420"
	}
	return "unknown"
}

func NewPixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "bgr24", "BGR24":
		return BGR24, nil
	case "rgba", "RGBA":
		return RGBA, nil
	case "i420", "I420":
		return I420, nil
	}
	return BGR24, fmt.Errorf("unknown pixel format: %s", s)
}

// FrameSize returns the number of bytes a width x height frame occupies in
// format f, or 0 if the format is unknown.
func (f PixelFormat) FrameSize(width, height int) int {
	switch f {
	case BGR24:
		return width * height * 3
	case RGBA:
		return width * height * 4
	case I420:
		return width*height + 2*((width/2)*(height/2))
	}
	return 0
}

// RawFrame is one captured, uncompressed video frame. The pixel buffer is
// owned by the frame until Release hands it back to whoever allocated it.
type RawFrame struct {
	Data   []byte
	Format PixelFormat
	Width  int
	Height int

	// Size is the number of valid bytes in Data as reported by the producer.
	// Frames with Size <= 0 are malformed.
	Size int

	// PTS is the presentation timestamp on the capture clock.
	PTS time.Duration

	release  func([]byte)
	released atomic.Bool
}

// NewRawFrame creates a frame over data. release, if not nil, is called with
// data exactly once when the frame is released.
func NewRawFrame(
	data []byte,
	format PixelFormat,
	width, height int,
	pts time.Duration,
	release func([]byte),
) *RawFrame {
	return &RawFrame{
		Data:    data,
		Format:  format,
		Width:   width,
		Height:  height,
		Size:    len(data),
		PTS:     pts,
		release: release,
	}
}

// Release returns the pixel buffer to its owner. Only the first call has an
// effect; Data is cleared afterwards.
func (f *RawFrame) Release() {
	if f.released.Swap(true) {
		return
	}
	data := f.Data
	f.Data = nil
	if f.release != nil {
		f.release(data)
	}
}

func (f *RawFrame) Released() bool {
	return f.released.Load()
}
