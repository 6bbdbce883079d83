package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/drivelab/copilot-sim/pkg/core"
	"github.com/drivelab/copilot-sim/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	Logger *slog.Logger
}

// Backend streams run telemetry over WebSocket to an observer dashboard.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn  *connection
	cfg   Config
	runID string
}

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("component", "websocket")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartRun sends the run metadata and waits for server ack.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.setStartMessage(data)
	b.runID = run.RunID

	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends the final record and waits for server ack.
func (b *Backend) EndRun(record *core.TelemetryRecord) error {
	data, err := marshalEnvelope(streaming.TypeEndRun, streaming.EndRunPayload{RunID: b.runID, Record: record})
	if err == nil {
		err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)
	}

	b.conn.setStartMessage(nil)
	b.runID = ""

	return err
}

func (b *Backend) RecordModeSample(s *core.ModeSample) error {
	return b.sendEnvelope(streaming.TypeModeSample, s)
}

func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	return b.sendEnvelope(streaming.TypeCollision, e)
}

func (b *Backend) RecordNotification(n *core.NotificationRecord) error {
	return b.sendEnvelope(streaming.TypeNotification, n)
}

// PublishSnapshot streams one rendered frame. A frame that is still unsent
// when the next one arrives is replaced, so frames never queue behind telemetry.
func (b *Backend) PublishSnapshot(s core.Snapshot) error {
	data, err := marshalEnvelope(streaming.TypeSnapshot, s)
	if err != nil {
		return err
	}
	b.conn.sendFrame(data)
	return nil
}

// Dropped returns how many telemetry messages were discarded because the send queue was full.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

// Coalesced returns how many snapshots were replaced before being sent.
func (b *Backend) Coalesced() uint64 {
	return b.conn.coalesced.Load()
}
