// Package model defines the JSON documents served by the diagnostics API.
package model

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Packet is one encoded access unit kept for inspection. Payload is encoded
// as base64.
type Packet struct {
	PTSMillis int64  `json:"pts_ms"`
	Size      int    `json:"size"`
	Payload   []byte `json:"payload"`
}

type Queue struct {
	Length int    `json:"length"`
	Pushed uint64 `json:"pushed"`
	Drops  uint64 `json:"drops"`
}

type Stats struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Drained    uint64 `json:"drained"`
	Skipped    uint64 `json:"skipped"`
	Failed     uint64 `json:"failed"`
	Encoded    uint64 `json:"encoded"`
	Published  uint64 `json:"published"`
	EmptyPolls uint64 `json:"empty_polls"`
	Queue      *Queue `json:"queue,omitempty"`
}
