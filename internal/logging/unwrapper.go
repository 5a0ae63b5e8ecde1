package logging

// Unwrapper extends 16 bit RTP sequence numbers into a monotonic 64 bit
// counter across wrap-arounds.
type Unwrapper struct {
	started bool
	last    uint16
	cycles  int64
}

func (u *Unwrapper) Unwrap(seq uint16) int64 {
	if !u.started {
		u.started = true
		u.last = seq
		return int64(seq)
	}
	diff := int16(seq - u.last)
	if diff > 0 && seq < u.last {
		u.cycles++
	} else if diff < 0 && seq > u.last {
		u.cycles--
	}
	u.last = seq
	return u.cycles<<16 | int64(seq)
}
