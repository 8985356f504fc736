package protocol

import "encoding/json"

// PartialPayload is the work-in-progress hint of the segment-commit policy.
type PartialPayload struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	AvgLogProb  float64 `json:"avgLogProb"`
	Temperature float64 `json:"temperature"`
}

// FinalPayload is a committed segment; it is never revised.
type FinalPayload struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type ReadyEvent struct {
	Type string `json:"type"`
}

type PayloadEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TranscriptEvent is emitted by the prefix-diff policy. Text is the delta;
// a delta that does not extend the previous text replaces it.
type TranscriptEvent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	IsFinal  bool   `json:"is_final"`
	FullText string `json:"full_text,omitempty"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type LogEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Ready() ReadyEvent {
	return ReadyEvent{Type: TypeReady}
}

func Partial(p PartialPayload) PayloadEvent {
	return PayloadEvent{Type: TypePartial, Payload: p}
}

func Final(p FinalPayload) PayloadEvent {
	return PayloadEvent{Type: TypeFinal, Payload: p}
}

func Transcript(text, fullText string, isFinal bool) TranscriptEvent {
	return TranscriptEvent{Type: TypeTranscript, Text: text, IsFinal: isFinal, FullText: fullText}
}

func Error(message, code string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message, Code: code}
}

func Log(message string) LogEvent {
	return LogEvent{Type: TypeLog, Message: message}
}

// Encode serializes an event as a single line without the trailing newline.
func Encode(event any) ([]byte, error) {
	return json.Marshal(event)
}
