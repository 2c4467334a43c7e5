package tui

import (
	"context"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"

	"github.com/libris/librarian/internal/librarian"
)

// streamBufferSize is sized for ~1.5s burst at 60 FPS refresh rate.
// This prevents backpressure during UI render delays while keeping
// memory bounded.
const streamBufferSize = 100

// streamEvent is a discriminated union for all stream events.
// Using a single channel with union type simplifies select logic
// and eliminates complex multi-channel closure handling.
type streamEvent struct {
	// Exactly one of these fields is set per event
	text    string                    // Answer token (when non-empty)
	status  string                    // Pipeline progress label (when non-empty)
	sources *librarian.SourcesPayload // Citations, arrives just before done
	err     error                     // Error (when non-nil)
	done    bool                      // True when stream completed successfully
}

// Stream message types for Bubble Tea.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamTextMsg struct {
	text string
}

type streamStatusMsg struct {
	status string
}

type streamSourcesMsg struct {
	sources *librarian.SourcesPayload
}

type streamDoneMsg struct{}

type streamErrorMsg struct {
	err error
}

// stepLabels maps pipeline step names to display text.
var stepLabels = map[string]string{
	librarian.StepResolvingSession: "Loading session",
	librarian.StepCheckingMemory:   "Checking remembered answers",
	librarian.StepSearchingCorpus:  "Searching the corpus",
	librarian.StepPreparingContext: "Preparing document context",
	librarian.StepGenerating:       "Writing answer",
	librarian.StepFallingBack:      "Full documents unavailable, switching to excerpts",
}

func stepLabel(step string) string {
	if label, ok := stepLabels[step]; ok {
		return label
	}
	return step
}

// startStream creates a command that initiates one question.
//
// Goroutine lifecycle: the spawned goroutine exits when the librarian
// closes its event channel or the context is canceled. Channel closure
// signals completion, no WaitGroup needed.
func (t *TUI) startStream(query string) tea.Cmd {
	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)

		ctx, cancel := context.WithTimeout(t.ctx, streamTimeout)

		req := t.baseRequest
		req.Query = query

		events, err := t.asker.Ask(ctx, req)
		if err != nil {
			cancel()
			return streamErrorMsg{err: err}
		}

		go func() {
			defer cancel()
			defer close(eventCh)

			// Panic recovery to prevent TUI lockup
			defer func() {
				if r := recover(); r != nil {
					slog.Error("stream panic recovered", "panic", r)
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("stream panic: %v", r)}:
					default:
					}
				}
			}()

			for ev := range events {
				var out streamEvent
				switch ev.Kind {
				case librarian.KindStep:
					out = streamEvent{status: stepLabel(ev.Step)}
				case librarian.KindToken:
					out = streamEvent{text: ev.Token}
				case librarian.KindSources:
					out = streamEvent{sources: ev.Sources}
				case librarian.KindError:
					out = streamEvent{err: fmt.Errorf("%s", ev.Error)}
				case librarian.KindDone:
					out = streamEvent{done: true}
				default:
					continue
				}

				select {
				case eventCh <- out:
				case <-ctx.Done():
					return
				}

				if out.err != nil || out.done {
					return
				}
			}

			// The librarian closed the channel without a terminal event.
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("stream ended unexpectedly without completion")
				slog.Warn("stream exited without completion signal")
			}
			select {
			case eventCh <- streamEvent{err: err}:
			default:
			}
		}()

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// listenForStream creates a command to wait for the next stream event.
// Empty events are skipped via loop instead of recursion to prevent
// stack growth under pathological conditions.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				return streamErrorMsg{err: fmt.Errorf("stream ended without completion signal")}
			}

			switch {
			case event.err != nil:
				return streamErrorMsg{err: event.err}
			case event.done:
				return streamDoneMsg{}
			case event.sources != nil:
				return streamSourcesMsg{sources: event.sources}
			case event.status != "":
				return streamStatusMsg{status: event.status}
			case event.text != "":
				return streamTextMsg{text: event.text}
			default:
				continue
			}
		}
	}
}
