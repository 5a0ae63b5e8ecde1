package codec

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/mengelbart/encstage"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrInvalidDimensions = errors.New("invalid frame dimensions")
	ErrShortFrame        = errors.New("frame buffer shorter than its layout")
)

// FormatAdapter converts a raw frame into the planar layout a Compressor
// consumes. Implementations must not retain the frame or its buffer: the
// frame is released as soon as Convert returns.
type FormatAdapter interface {
	Convert(*encstage.RawFrame) (*image.YCbCr, error)
}

type AdapterFunc func(*encstage.RawFrame) (*image.YCbCr, error)

func (f AdapterFunc) Convert(frame *encstage.RawFrame) (*image.YCbCr, error) {
	return f(frame)
}

// I420Adapter converts BGR24, RGBA and I420 frames into a newly allocated
// 4:2:0 YCbCr image. Chroma is averaged over 2x2 pixel blocks.
type I420Adapter struct{}

func (I420Adapter) Convert(f *encstage.RawFrame) (*image.YCbCr, error) {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 || w%2 != 0 || h%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	need := f.Format.FrameSize(w, h)
	if need == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f.Format)
	}
	if f.Size < need || len(f.Data) < need {
		return nil, fmt.Errorf("%w: need %d bytes, got size=%d len=%d", ErrShortFrame, need, f.Size, len(f.Data))
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	switch f.Format {
	case encstage.I420:
		ySize := w * h
		cSize := (w / 2) * (h / 2)
		copy(img.Y, f.Data[:ySize])
		copy(img.Cb, f.Data[ySize:ySize+cSize])
		copy(img.Cr, f.Data[ySize+cSize:ySize+2*cSize])
	case encstage.BGR24:
		packedToI420(img, f.Data, w, h, 3, 2, 1, 0)
	case encstage.RGBA:
		packedToI420(img, f.Data, w, h, 4, 0, 1, 2)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f.Format)
	}
	return img, nil
}

// packedToI420 converts packed pixels with bpp bytes per pixel and the given
// byte offsets of the red, green and blue components.
func packedToI420(img *image.YCbCr, data []byte, w, h, bpp, ro, gro, bo int) {
	for y := 0; y < h; y += 2 {
		for x := 0; x < w; x += 2 {
			var cbSum, crSum int
			for dy := range 2 {
				for dx := range 2 {
					off := ((y+dy)*w + x + dx) * bpp
					yy, cb, cr := color.RGBToYCbCr(data[off+ro], data[off+gro], data[off+bo])
					img.Y[(y+dy)*img.YStride+x+dx] = yy
					cbSum += int(cb)
					crSum += int(cr)
				}
			}
			ci := (y/2)*img.CStride + x/2
			img.Cb[ci] = uint8((cbSum + 2) / 4)
			img.Cr[ci] = uint8((crSum + 2) / 4)
		}
	}
}
