package tui

import (
	"context"
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/libris/librarian/internal/librarian"
)

type stubAsker struct {
	events []librarian.Event
	err    error
}

func (s *stubAsker) Ask(context.Context, librarian.Request) (<-chan librarian.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan librarian.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestTUI(t *testing.T, asker Asker) *TUI {
	t.Helper()
	m, err := New(context.Background(), asker, librarian.Request{UserID: "u-1", AppID: "app-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.cleanup() })
	return m
}

func TestNewValidation(t *testing.T) {
	if _, err := New(context.Background(), nil, librarian.Request{UserID: "u-1"}); err == nil {
		t.Error("expected error for nil asker")
	}
	if _, err := New(context.Background(), &stubAsker{}, librarian.Request{}); err == nil {
		t.Error("expected error for missing user id")
	}
}

func TestStepLabels(t *testing.T) {
	if got := stepLabel(librarian.StepSearchingCorpus); got != "Searching the corpus" {
		t.Errorf("label = %q", got)
	}
	// Unknown steps pass through untranslated.
	if got := stepLabel("custom_step"); got != "custom_step" {
		t.Errorf("unknown label = %q", got)
	}
}

func TestHandleSubmitStartsThinking(t *testing.T) {
	m := newTestTUI(t, &stubAsker{events: []librarian.Event{{Kind: librarian.KindDone}}})
	m.input.SetValue("what is the vacation policy?")

	_, cmd := m.handleSubmit()
	if cmd == nil {
		t.Fatal("expected command")
	}
	if m.state != StateThinking {
		t.Errorf("state = %v, want StateThinking", m.state)
	}
	if len(m.messages) != 1 || m.messages[0].Role != roleUser {
		t.Fatalf("messages = %+v", m.messages)
	}
	if m.input.Value() != "" {
		t.Error("input not cleared")
	}
	if len(m.history) != 1 {
		t.Errorf("history = %v", m.history)
	}
}

func TestHandleSubmitEmptyInputIsNoop(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	m.input.SetValue("   ")

	_, cmd := m.handleSubmit()
	if cmd != nil {
		t.Error("expected no command for empty input")
	}
	if m.state != StateInput {
		t.Errorf("state = %v", m.state)
	}
}

func TestStreamTextAccumulates(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	m.state = StateStreaming
	m.streamEventCh = make(chan streamEvent)

	m.Update(streamTextMsg{text: "Ten days "})
	m.Update(streamTextMsg{text: "per year."})

	if got := m.output.String(); got != "Ten days per year." {
		t.Errorf("output = %q", got)
	}
}

func TestStreamDoneAppendsAnswerWithSources(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	m.state = StateStreaming
	m.output.WriteString("Ten days per year.")
	m.sources = &librarian.SourcesPayload{Sources: []librarian.Source{
		{Filename: "handbook.md", PageStart: 4, PageEnd: 5, SectionTitle: "Leave"},
	}}

	m.Update(streamDoneMsg{})

	if m.state != StateInput {
		t.Errorf("state = %v, want StateInput", m.state)
	}
	if len(m.messages) != 1 {
		t.Fatalf("messages = %+v", m.messages)
	}
	text := m.messages[0].Text
	if !strings.Contains(text, "Ten days per year.") {
		t.Errorf("answer missing: %q", text)
	}
	if !strings.Contains(text, "handbook.md (pages 4-5), Leave") {
		t.Errorf("sources footer missing: %q", text)
	}
	if m.output.Len() != 0 || m.sources != nil {
		t.Error("stream state not reset")
	}
}

func TestStreamErrorCanceledShowsSystemMessage(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	m.state = StateStreaming

	m.Update(streamErrorMsg{err: context.Canceled})

	if len(m.messages) != 1 || m.messages[0].Role != roleSystem {
		t.Fatalf("messages = %+v", m.messages)
	}
	if m.messages[0].Text != "(Canceled)" {
		t.Errorf("text = %q", m.messages[0].Text)
	}
}

func TestStreamErrorShowsErrorMessage(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	m.state = StateStreaming

	m.Update(streamErrorMsg{err: context.DeadlineExceeded})

	if len(m.messages) != 1 || m.messages[0].Role != roleError {
		t.Fatalf("messages = %+v", m.messages)
	}
}

func TestRenderSources(t *testing.T) {
	tests := []struct {
		name    string
		payload *librarian.SourcesPayload
		want    []string
		empty   bool
	}{
		{name: "nil payload", payload: nil, empty: true},
		{
			name:    "no sources",
			payload: &librarian.SourcesPayload{Sources: []librarian.Source{}},
			empty:   true,
		},
		{
			name: "single page",
			payload: &librarian.SourcesPayload{Sources: []librarian.Source{
				{Filename: "notes.md", PageStart: 3, PageEnd: 3},
			}},
			want: []string{"notes.md (page 3)"},
		},
		{
			name: "page range and section",
			payload: &librarian.SourcesPayload{Sources: []librarian.Source{
				{Filename: "handbook.md", PageStart: 4, PageEnd: 7, SectionTitle: "Leave"},
			}},
			want: []string{"handbook.md (pages 4-7), Leave"},
		},
		{
			name: "no pages",
			payload: &librarian.SourcesPayload{Sources: []librarian.Source{
				{Filename: "memo.txt"},
			}},
			want: []string{"memo.txt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderSources(tt.payload)
			if tt.empty {
				if got != "" {
					t.Errorf("got %q, want empty", got)
				}
				return
			}
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("footer %q missing %q", got, want)
				}
			}
		})
	}
}

func TestListenForStreamDispatch(t *testing.T) {
	ch := make(chan streamEvent, 4)
	ch <- streamEvent{} // empty events are skipped
	ch <- streamEvent{status: "Searching the corpus"}

	msg := listenForStream(ch)()
	status, ok := msg.(streamStatusMsg)
	if !ok {
		t.Fatalf("msg type %T", msg)
	}
	if status.status != "Searching the corpus" {
		t.Errorf("status = %q", status.status)
	}

	ch <- streamEvent{done: true}
	if _, ok := listenForStream(ch)().(streamDoneMsg); !ok {
		t.Error("expected streamDoneMsg")
	}

	close(ch)
	if _, ok := listenForStream(ch)().(streamErrorMsg); !ok {
		t.Error("expected streamErrorMsg on closed channel")
	}
}

func TestSlashCommands(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})

	m.input.SetValue(cmdHelp)
	m.handleSubmit()
	if len(m.messages) != 1 || m.messages[0].Role != roleSystem {
		t.Fatalf("help: messages = %+v", m.messages)
	}

	m.input.SetValue(cmdClear)
	m.handleSubmit()
	if len(m.messages) != 0 {
		t.Errorf("clear: messages = %+v", m.messages)
	}

	m.input.SetValue("/bogus")
	m.handleSubmit()
	if len(m.messages) != 1 || m.messages[0].Role != roleError {
		t.Fatalf("unknown: messages = %+v", m.messages)
	}
}

func TestNavigateHistory(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	m.history = []string{"first", "second"}
	m.historyIdx = 2

	m.navigateHistory(-1)
	if got := m.input.Value(); got != "second" {
		t.Errorf("value = %q", got)
	}
	m.navigateHistory(-1)
	if got := m.input.Value(); got != "first" {
		t.Errorf("value = %q", got)
	}
	// Clamped at the oldest entry.
	m.navigateHistory(-1)
	if got := m.input.Value(); got != "first" {
		t.Errorf("value = %q", got)
	}
	m.navigateHistory(1)
	m.navigateHistory(1)
	if got := m.input.Value(); got != "" {
		t.Errorf("value past end = %q", got)
	}
}

func TestAddMessageBound(t *testing.T) {
	m := newTestTUI(t, &stubAsker{})
	for i := 0; i < maxMessages+10; i++ {
		m.addMessage(Message{Role: roleUser, Text: "x"})
	}
	if len(m.messages) != maxMessages {
		t.Errorf("messages = %d, want %d", len(m.messages), maxMessages)
	}
}

var _ tea.Model = (*TUI)(nil)
