// Package vpx implements a codec.Compressor on top of libvpx.
package vpx

/*
#cgo pkg-config: vpx
#include <stdlib.h>
#include "vpx/vpx_encoder.h"
#include "vpx/vp8cx.h"
#include "vpx/vpx_image.h"

vpx_codec_err_t vpx_codec_enc_init_macro(
	vpx_codec_ctx_t *ctx,
	vpx_codec_iface_t *iface,
	const vpx_codec_enc_cfg_t *cfg,
	vpx_codec_flags_t flags
) {
	return vpx_codec_enc_init(ctx, iface, cfg, flags);
}

void *pktBuf(vpx_codec_cx_pkt_t *pkt) {
  return pkt->data.frame.buf;
}

int pktSz(vpx_codec_cx_pkt_t *pkt) {
  return pkt->data.frame.sz;
}

vpx_codec_frame_flags_t pktFrameFlags(vpx_codec_cx_pkt_t *pkt) {
  return pkt->data.frame.flags;
}

*/
import "C"
import (
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/codec"
)

var (
	ErrNotConfigured = errors.New("vpx encoder not configured")
	ErrConfigured    = errors.New("vpx encoder already configured")
)

func getEncoderByCodec(c encstage.Codec) (*C.vpx_codec_iface_t, error) {
	switch c {
	case encstage.VP8:
		return C.vpx_codec_vp8_cx(), nil
	case encstage.VP9:
		return C.vpx_codec_vp9_cx(), nil
	}
	return nil, fmt.Errorf("unsupported codec: %v", c)
}

// Encoder is a realtime, constant bitrate VP8/VP9 encoder. Presentation
// timestamps are passed to libvpx in milliseconds.
type Encoder struct {
	// libvpx keeps pointers to the config and image, so they live in C
	// memory.
	ctx *C.vpx_codec_ctx_t
	cfg *C.vpx_codec_enc_cfg_t
	img *C.vpx_image_t
	buf unsafe.Pointer

	codec            encstage.Codec
	width            int
	height           int
	interval         time.Duration
	keyFrameInterval uint
	frameCount       uint

	frame []byte
}

func NewEncoder() *Encoder {
	return &Encoder{
		frame: make([]byte, 0),
	}
}

// Configure implements codec.Compressor.
func (e *Encoder) Configure(c codec.Config) error {
	if e.ctx != nil {
		return ErrConfigured
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("resolution %dx%d must be even", c.Width, c.Height)
	}
	iface, err := getEncoderByCodec(c.Codec)
	if err != nil {
		return err
	}
	cfg := (*C.vpx_codec_enc_cfg_t)(C.calloc(1, C.size_t(unsafe.Sizeof(C.vpx_codec_enc_cfg_t{}))))
	if cfg == nil {
		return errors.New("failed to allocate encoder config")
	}
	if res := C.vpx_codec_enc_config_default(iface, cfg, 0); res != 0 {
		C.free(unsafe.Pointer(cfg))
		return fmt.Errorf("failed to get encoder default config: %v", res)
	}
	e.cfg = cfg

	e.cfg.g_w = C.uint(c.Width)
	e.cfg.g_h = C.uint(c.Height)
	e.cfg.g_timebase.num = 1
	e.cfg.g_timebase.den = 1000
	e.cfg.rc_end_usage = C.VPX_CBR
	e.cfg.rc_target_bitrate = C.uint(max(c.TargetRate/1000, 1))
	e.cfg.g_error_resilient = C.vpx_codec_er_flags_t(0)
	e.cfg.g_pass = C.VPX_RC_ONE_PASS
	e.cfg.g_threads = 4
	e.cfg.g_lag_in_frames = 0
	e.cfg.rc_resize_allowed = 0
	if c.KeyFrameInterval > 0 {
		e.cfg.kf_max_dist = C.uint(c.KeyFrameInterval)
	}

	ctx := (*C.vpx_codec_ctx_t)(C.calloc(1, C.size_t(unsafe.Sizeof(C.vpx_codec_ctx_t{}))))
	if ctx == nil {
		e.free()
		return errors.New("failed to allocate codec context")
	}
	if res := C.vpx_codec_enc_init_macro(ctx, iface, e.cfg, 0); res != 0 {
		C.free(unsafe.Pointer(ctx))
		e.free()
		return fmt.Errorf("failed to init encoder: %v", res)
	}

	e.width = int(c.Width)
	e.height = int(c.Height)
	size := e.width*e.height + 2*((e.width/2)*(e.height/2))
	e.buf = C.malloc(C.size_t(size))
	e.img = (*C.vpx_image_t)(C.calloc(1, C.size_t(unsafe.Sizeof(C.vpx_image_t{}))))
	if e.buf == nil || e.img == nil {
		C.vpx_codec_destroy(ctx)
		C.free(unsafe.Pointer(ctx))
		e.free()
		return errors.New("failed to allocate image buffer")
	}
	C.vpx_img_wrap(e.img, C.VPX_IMG_FMT_I420, C.uint(c.Width), C.uint(c.Height), 1, (*C.uchar)(e.buf))

	e.ctx = ctx
	e.codec = c.Codec
	e.interval = c.FrameInterval()
	e.keyFrameInterval = c.KeyFrameInterval
	return nil
}

// Encode implements codec.Compressor.
func (e *Encoder) Encode(img *image.YCbCr, pts time.Duration) ([]byte, bool, error) {
	if e.ctx == nil {
		return nil, false, ErrNotConfigured
	}
	if img.Rect.Dx() != e.width || img.Rect.Dy() != e.height {
		return nil, false, fmt.Errorf("image size %dx%d does not match encoder size %dx%d",
			img.Rect.Dx(), img.Rect.Dy(), e.width, e.height)
	}
	e.copyPlanes(img)

	var flags C.vpx_enc_frame_flags_t
	if e.keyFrameInterval > 0 && e.frameCount%e.keyFrameInterval == 0 {
		flags |= C.VPX_EFLAG_FORCE_KF
	}
	e.frameCount++

	res := C.vpx_codec_encode(
		e.ctx,
		e.img,
		C.vpx_codec_pts_t(pts.Milliseconds()),
		C.ulong(max(e.interval.Milliseconds(), 1)),
		flags,
		C.VPX_DL_REALTIME,
	)
	if res != C.VPX_CODEC_OK {
		return nil, false, fmt.Errorf("failed to encode frame: %v", res)
	}

	var iter C.vpx_codec_iter_t
	keyFrame := false
	e.frame = e.frame[:0]
	for {
		pkt := C.vpx_codec_get_cx_data(e.ctx, &iter)
		if pkt == nil {
			break
		}
		if pkt.kind == C.VPX_CODEC_CX_FRAME_PKT {
			keyFrame = keyFrame || C.pktFrameFlags(pkt)&C.VPX_FRAME_IS_KEY == C.VPX_FRAME_IS_KEY
			encoded := C.GoBytes(unsafe.Pointer(C.pktBuf(pkt)), C.pktSz(pkt))
			e.frame = append(e.frame, encoded...)
		}
	}
	if len(e.frame) == 0 {
		return nil, false, nil
	}
	payload := make([]byte, len(e.frame))
	copy(payload, e.frame)
	return payload, keyFrame, nil
}

func (e *Encoder) copyPlanes(img *image.YCbCr) {
	w, h := e.width, e.height
	cw, ch := w/2, h/2
	dst := unsafe.Slice((*byte)(e.buf), w*h+2*cw*ch)
	for y := range h {
		copy(dst[y*w:(y+1)*w], img.Y[y*img.YStride:y*img.YStride+w])
	}
	cb := dst[w*h:]
	cr := dst[w*h+cw*ch:]
	for y := range ch {
		copy(cb[y*cw:(y+1)*cw], img.Cb[y*img.CStride:y*img.CStride+cw])
		copy(cr[y*cw:(y+1)*cw], img.Cr[y*img.CStride:y*img.CStride+cw])
	}
}

// FrameInterval implements codec.Compressor.
func (e *Encoder) FrameInterval() time.Duration {
	return e.interval
}

// Codec implements codec.Compressor.
func (e *Encoder) Codec() encstage.Codec {
	return e.codec
}

// Close implements codec.Compressor.
func (e *Encoder) Close() error {
	if e.ctx == nil {
		return nil
	}
	var err error
	if res := C.vpx_codec_destroy(e.ctx); res != C.VPX_CODEC_OK {
		err = fmt.Errorf("failed to destroy encoder: %v", res)
	}
	C.free(unsafe.Pointer(e.ctx))
	e.ctx = nil
	e.free()
	return err
}

func (e *Encoder) free() {
	C.free(unsafe.Pointer(e.cfg))
	C.free(unsafe.Pointer(e.img))
	C.free(e.buf)
	e.cfg = nil
	e.img = nil
	e.buf = nil
}

// Version returns the version string of the linked libvpx.
func Version() string {
	return C.GoString(C.vpx_codec_version_str())
}

// Codecs lists the codecs Encoder supports.
func Codecs() []encstage.Codec {
	return []encstage.Codec{encstage.VP8, encstage.VP9}
}
