package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Inbound message types
const (
	TypeAudio = "audio"
	TypeChunk = "chunk"
	TypeFlush = "flush"
	TypeStop  = "stop"
)

// Outbound event types
const (
	TypeReady      = "ready"
	TypePartial    = "partial"
	TypeFinal      = "final"
	TypeTranscript = "transcript"
	TypeError      = "error"
	TypeLog        = "log"
)

// Error codes carried by error events
const (
	CodeParse          = "parse_error"
	CodeChunkDecode    = "chunk_decode_error"
	CodeInference      = "inference_error"
	CodeUnknownMessage = "unknown_message"
	CodeModelLoad      = "model_load_error"
	CodeImport         = "import_error"
)

var (
	ErrParse  = errors.New("invalid message")
	ErrDecode = errors.New("invalid audio payload")
)

// Message is an inbound command line. Audio may arrive either in "payload"
// (type audio) or in "data" (type chunk); unknown fields are ignored.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsAudio reports whether the message carries audio samples.
func (m Message) IsAudio() bool {
	return m.Type == TypeAudio || m.Type == TypeChunk
}

// AudioField returns the base64 audio payload of an ingestion message.
// The field matching the message type wins; the other spelling is accepted as
// a fallback. An absent or null field yields "".
func (m Message) AudioField() (string, error) {
	primary, fallback := m.Payload, m.Data
	if m.Type == TypeChunk {
		primary, fallback = m.Data, m.Payload
	}

	raw := primary
	if isEmptyRaw(raw) {
		raw = fallback
	}
	if isEmptyRaw(raw) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: audio field is not a string", ErrDecode)
	}
	return s, nil
}

func isEmptyRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode parses one protocol line. A line without a non-empty string type
// is rejected.
func Decode(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing message type", ErrParse)
	}
	return msg, nil
}

// DecodeSamples turns a base64 string of little-endian float32 PCM into samples.
func DecodeSamples(b64 string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: buffer size %d is not a multiple of 4", ErrDecode, len(raw))
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// EncodeSamples is the inverse of DecodeSamples.
func EncodeSamples(samples []float32) string {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// EncodeAudio builds an "audio" command line for the given samples.
func EncodeAudio(samples []float32) ([]byte, error) {
	payload, err := json.Marshal(EncodeSamples(samples))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: TypeAudio, Payload: payload})
}

// EncodeCommand builds a bare command line such as flush or stop.
func EncodeCommand(msgType string) ([]byte, error) {
	return json.Marshal(Message{Type: msgType})
}
