package codec

import (
	"fmt"
	"time"

	"github.com/mengelbart/encstage"
)

type AttributeKey int

const (
	IsKeyFrame AttributeKey = iota
	PTS
	FrameDuration
	PacketType
)

type Attributes map[any]any

func getPTS(attrs Attributes) (time.Duration, error) {
	ptsAttr, ok := attrs[PTS]
	if !ok {
		return 0, fmt.Errorf("PTS attribute not found")
	}
	ptsVal, ok := ptsAttr.(time.Duration)
	if !ok {
		return 0, fmt.Errorf("PTS attribute is not time.Duration")
	}
	return ptsVal, nil
}

func getPacketType(attrs Attributes) (encstage.Codec, error) {
	ptAttr, ok := attrs[PacketType]
	if !ok {
		return 0, fmt.Errorf("PacketType attribute not found")
	}
	ptVal, ok := ptAttr.(encstage.Codec)
	if !ok {
		return 0, fmt.Errorf("PacketType attribute is not encstage.Codec")
	}
	return ptVal, nil
}

func getKeyFrame(attrs Attributes) bool {
	kf, ok := attrs[IsKeyFrame].(bool)
	return ok && kf
}

// getFrameDuration returns the FrameDuration attribute, or def if it is
// missing.
func getFrameDuration(attrs Attributes, def time.Duration) time.Duration {
	if d, ok := attrs[FrameDuration].(time.Duration); ok {
		return d
	}
	return def
}
