package codec

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/mengelbart/encstage"
)

// Compressor turns adapted frames into encoded access units. A Compressor is
// not safe for concurrent use.
type Compressor interface {
	// Configure initializes the encoder. It is called once before the first
	// Encode.
	Configure(Config) error

	// Encode compresses img. A nil payload with a nil error means the
	// encoder produced no output for this frame.
	Encode(img *image.YCbCr, pts time.Duration) (payload []byte, keyFrame bool, err error)

	// FrameInterval is the encoder's native duration of one frame.
	FrameInterval() time.Duration

	Codec() encstage.Codec

	Close() error
}

type Config struct {
	Codec            encstage.Codec
	Width            uint
	Height           uint
	TimebaseNum      int
	TimebaseDen      int
	TargetRate       uint
	KeyFrameInterval uint
}

func (c Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.TimebaseNum <= 0 || c.TimebaseDen <= 0 {
		return fmt.Errorf("invalid frame rate %d/%d", c.TimebaseNum, c.TimebaseDen)
	}
	if c.TargetRate == 0 {
		return errors.New("target rate must be positive")
	}
	return nil
}

// FrameInterval derives the duration of one frame from the configured frame
// rate TimebaseNum/TimebaseDen.
func (c Config) FrameInterval() time.Duration {
	if c.TimebaseNum <= 0 || c.TimebaseDen <= 0 {
		return 0
	}
	fps := float64(c.TimebaseNum) / float64(c.TimebaseDen)
	return time.Duration(float64(time.Second) / fps)
}

func (c Config) Info() Info {
	return Info{
		Width:       c.Width,
		Height:      c.Height,
		TimebaseNum: c.TimebaseNum,
		TimebaseDen: c.TimebaseDen,
	}
}
