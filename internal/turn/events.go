package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/voxgate/voxgate/pkg/types"
)

// EventType discriminates the events on a turn stream.
type EventType string

const (
	EventText        EventType = "text"
	EventAudio       EventType = "audio"
	EventMetadata    EventType = "metadata"
	EventError       EventType = "error"
	EventInterrupted EventType = "interrupted"
	EventComplete    EventType = "complete"
)

// Metadata summarizes a finished turn. Emitted once, right before the
// complete event.
type Metadata struct {
	TurnID      string
	Path        types.Path
	Emotion     types.Emotion
	Model       string
	TokenCount  int
	Duration    time.Duration
	TextChunks  int
	AudioFrames int
	ToolCalls   int
}

// Interrupted is the terminal event of a preempted turn. AtText and AtAudio
// are the last content indices emitted per modality; zero means the modality
// never emitted.
type Interrupted struct {
	TurnID  string
	Reason  string
	AtText  int
	AtAudio int
}

// Interruption reasons.
const (
	ReasonNewMessage = "new_message"
	ReasonCancelled  = "cancelled"
)

// Event is one entry on a turn stream. Exactly one payload field matching
// Type is set. An error event is terminal for the whole turn unless text
// keeps flowing after it, which happens only when audio synthesis failed
// mid-turn.
type Event struct {
	Type        EventType
	Text        *types.TextChunk
	Audio       *types.AudioFrame
	Metadata    *Metadata
	Err         error
	Interrupted *Interrupted
}

// Stream is the ordered event sequence of one turn. The producing goroutine
// closes the channel after the terminal event; consumers must drain it.
type Stream struct {
	turnID string
	events chan Event
}

func newStream(turnID string) *Stream {
	// Buffered so short turns complete even against a briefly stalled
	// consumer; sustained back-pressure still reaches the pipeline.
	return &Stream{turnID: turnID, events: make(chan Event, 64)}
}

// TurnID returns the turn this stream belongs to.
func (s *Stream) TurnID() string {
	return s.turnID
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// emit delivers one event, giving up when ctx is cancelled.
func (s *Stream) emit(ctx context.Context, e Event) error {
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitTimed delivers a terminal event with a grace period instead of a
// context, so interruption notices still reach consumers of a cancelled
// turn. Reports whether the event was delivered.
func (s *Stream) emitTimed(e Event, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case s.events <- e:
		return true
	case <-t.C:
		return false
	}
}

func (s *Stream) close() {
	close(s.events)
}

// CollectText drains a stream and returns the accumulated assistant text.
// Used by request/response channels (webhooks) that need one final string
// instead of a live stream. Audio events are discarded; an audio error with
// text still flowing does not fail the collection.
func CollectText(ctx context.Context, s *Stream) (string, error) {
	var (
		text     []byte
		lastErr  error
		complete bool
	)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case e, ok := <-s.Events():
			if !ok {
				if complete {
					return string(text), nil
				}
				if lastErr != nil {
					return "", lastErr
				}
				return "", fmt.Errorf("turn: stream ended without completion")
			}
			switch e.Type {
			case EventText:
				if !e.Text.Final {
					text = append(text, e.Text.Text...)
				}
			case EventError:
				lastErr = e.Err
			case EventInterrupted:
				lastErr = fmt.Errorf("turn: interrupted at text chunk %d", e.Interrupted.AtText)
			case EventComplete:
				complete = true
			}
		}
	}
}
