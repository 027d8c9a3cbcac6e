package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeObs     = "OBS"
	TypeCmd     = "CMD"
	TypeAck     = "ACK"
)

// Command operations.
const (
	OpSpawn       = "SPAWN"
	OpMove        = "MOVE"
	OpMoveAfter   = "MOVE_AFTER"
	OpStop        = "STOP"
	OpGroupAssign = "GROUP_ASSIGN"
	OpGroupMove   = "GROUP_MOVE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
