package encstage

import "fmt"

// Codec tags the elementary stream type carried by an EncodedPacket.
type Codec int

const (
	H264 Codec = iota
	VP8
	VP9
)

func (c Codec) ClockRate() int {
	switch c {
	default:
		return 90_000
	}
}

func NewCodec(s string) (Codec, error) {
	switch s {
	case "H264", "h264":
		return H264, nil
	case "VP8", "vp8":
		return VP8, nil
	case "VP9", "vp9":
		return VP9, nil
	}
	return H264, fmt.Errorf("unknown codec: %s", s)
}

func (c Codec) String() string {
	switch c {
	case H264:
		return "H264"
	case VP8:
		return "VP8"
	case VP9:
		return "VP9"
	}
	return "unknown"
}

func (c Codec) MediaType() string {
	switch c {
	case H264, VP8, VP9:
		return "video"
	}
	return "video"
}
