package encstage

import "time"

// EncodedPacket is one compressed access unit ready for transport. PTS is
// copied from the RawFrame the unit was encoded from.
type EncodedPacket struct {
	Payload  []byte
	Type     Codec
	PTS      time.Duration
	KeyFrame bool
}

// OutPacket is the record kept for pull-based inspection of encoder output.
type OutPacket struct {
	PTS     time.Duration
	Payload []byte
}
