// Package models defines the data structures for transcript events.
package models

// Event types carried in the eventType field.
const (
	EventTypePiece = "transcript.piece"
	EventTypeFinal = "final_transcript"
	EventTypeError = "error"
)

// Final transcript status values.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusError    = "error"
)

// Meeting is the client-supplied metadata carried on final events.
type Meeting struct {
	Name         string `json:"meetingName"`
	Topic        string `json:"meetingTopic"`
	Participants string `json:"participants"`
	UserEmail    string `json:"userEmail,omitempty"`
}

// TranscriptPiece reports the outcome of one segment as soon as it lands.
type TranscriptPiece struct {
	EventType    string `json:"eventType"`
	SessionID    string `json:"sessionId"`
	Timestamp    int64  `json:"timestamp"`
	SegmentID    string `json:"segmentId"`
	SegmentIndex int    `json:"segmentIndex"`
	Text         string `json:"text"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

// FinalTranscript carries the assembled transcript of a session.
type FinalTranscript struct {
	EventType       string  `json:"eventType"`
	SessionID       string  `json:"sessionId"`
	Timestamp       int64   `json:"timestamp"`
	Status          string  `json:"status"`
	Text            string  `json:"text"`
	Segments        int     `json:"segments"`
	FailedSegments  []int   `json:"failedSegments,omitempty"`
	MissingSegments []int   `json:"missingSegments,omitempty"`
	DurationMs      int64   `json:"durationMs"`
	Meeting         Meeting `json:"meeting"`
}

// SessionError reports a session entering the error state.
type SessionError struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}
