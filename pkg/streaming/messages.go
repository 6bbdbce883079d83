// Package streaming defines the wire protocol used to stream a run to an
// observer dashboard over WebSocket.
package streaming

import (
	"encoding/json"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartRun     = "start_run"
	TypeEndRun       = "end_run"
	TypeModeSample   = "mode_sample"
	TypeCollision    = "collision"
	TypeNotification = "notification"
	TypeSnapshot     = "snapshot"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload carries the run metadata.
type StartRunPayload struct {
	Run *core.Run `json:"run"`
}

// EndRunPayload carries the finalized telemetry record.
type EndRunPayload struct {
	RunID  string                `json:"runId"`
	Record *core.TelemetryRecord `json:"record"`
}
