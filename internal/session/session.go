// Package session defines the message vocabulary between a download run and
// whatever surface renders it, plus a small in-process bus carrying those
// messages. The orchestrator emits exactly one start message before any
// progress, and exactly one terminal message (done, error or cancelled) after
// which nothing follows.
package session

import "gallerygrab/internal/gallery"

// Kind discriminates the message union.
type Kind string

const (
	KindStart     Kind = "start"
	KindStatus    Kind = "status"
	KindLog       Kind = "log"
	KindProgress  Kind = "progress"
	KindDone      Kind = "done"
	KindError     Kind = "error"
	KindCancelled Kind = "cancelled"
)

// LogLevel classifies log messages.
type LogLevel string

const (
	LevelInfo LogLevel = "info"
	LevelWarn LogLevel = "warn"
)

// Message is one event of the session protocol. Only the fields relevant to
// its Kind are populated.
type Message struct {
	Kind        Kind     `json:"kind"`
	Total       int      `json:"total,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	Text        string   `json:"message,omitempty"`
	Level       LogLevel `json:"level,omitempty"`
	Completed   int      `json:"completed,omitempty"`
	CurrentID   string   `json:"current_id,omitempty"`
	Succeeded   int      `json:"succeeded,omitempty"`
	Failed      int      `json:"failed,omitempty"`
	Processed   int      `json:"processed,omitempty"`
	SinkHandle  string   `json:"sink_handle,omitempty"`
}

// Terminal reports whether the message ends a run.
func (m Message) Terminal() bool {
	return m.Kind == KindDone || m.Kind == KindError || m.Kind == KindCancelled
}

func Start(total, concurrency int) Message {
	return Message{Kind: KindStart, Total: total, Concurrency: concurrency}
}

func Status(text string) Message {
	return Message{Kind: KindStatus, Text: text}
}

func Log(level LogLevel, text string) Message {
	return Message{Kind: KindLog, Level: level, Text: text}
}

func Progress(completed, total int, currentID string, succeeded, failed int) Message {
	return Message{
		Kind:      KindProgress,
		Completed: completed,
		Total:     total,
		CurrentID: currentID,
		Succeeded: succeeded,
		Failed:    failed,
	}
}

func Done(total, succeeded, failed, processed int, sinkHandle string) Message {
	return Message{
		Kind:       KindDone,
		Total:      total,
		Succeeded:  succeeded,
		Failed:     failed,
		Processed:  processed,
		SinkHandle: sinkHandle,
	}
}

func Error(text string) Message {
	return Message{Kind: KindError, Text: text}
}

func Cancelled() Message {
	return Message{Kind: KindCancelled}
}

// StartRequest is the inbound message asking for a new run. Items may carry
// a pre-fetched listing, skipping metadata collection entirely.
type StartRequest struct {
	Concurrency int            `json:"concurrency"`
	Sequential  bool           `json:"sequential"`
	ThrottleMs  int            `json:"throttle_ms"`
	Items       []gallery.Item `json:"items,omitempty"`
}
