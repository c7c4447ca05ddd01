package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationState_lifecycle(t *testing.T) {
	s := NewConversationState(Topic{ID: "t"}, []string{"a", "b"})
	assert.EqualValues(t, StatusWaiting, s.Status)
	assert.EqualValues(t, map[string]int{"a": 0, "b": 0}, s.Intensity)

	s.Append(ConversationEvent{TurnIndex: 0, SpeakerID: "a", Triggered: []string{"x"}})
	s.Append(ConversationEvent{TurnIndex: 1, SpeakerID: "b"})
	assert.EqualValues(t, 2, s.TurnIndex)
	assert.Len(t, s.History, s.TurnIndex)

	s.PendingEnd = "walkout"
	assert.True(t, s.End(EndReasonTrigger))
	assert.EqualValues(t, "", s.PendingEnd)
	assert.False(t, s.End(EndReasonCancelled))
	assert.EqualValues(t, EndReasonTrigger, s.EndReason)
	assert.True(t, s.IsEnded())
}

func TestConversationState_snapshotIsolated(t *testing.T) {
	s := NewConversationState(Topic{ID: "t"}, []string{"a"})
	s.Append(ConversationEvent{SpeakerID: "a", Triggered: []string{"x"}})

	snap := s.HistorySnapshot()
	snap[0].Triggered[0] = "changed"
	snap[0].Text = "changed"
	assert.EqualValues(t, "x", s.History[0].Triggered[0])
	assert.EqualValues(t, "", s.History[0].Text)
}

func TestConversationState_Window(t *testing.T) {
	s := NewConversationState(Topic{ID: "t"}, []string{"a"})
	for i := 0; i < 5; i++ {
		s.Append(ConversationEvent{TurnIndex: i})
	}
	cases := []struct {
		name  string
		n     int
		first int
		size  int
	}{
		{name: "zero means all", n: 0, first: 0, size: 5},
		{name: "trailing two", n: 2, first: 3, size: 2},
		{name: "larger than history", n: 9, first: 0, size: 5},
	}
	for _, tc := range cases {
		w := s.Window(tc.n)
		assert.Len(t, w, tc.size, tc.name)
		assert.EqualValues(t, tc.first, w[0].TurnIndex, tc.name)
	}
}

func TestConversationState_cancelFlag(t *testing.T) {
	s := NewConversationState(Topic{ID: "t"}, nil)
	assert.False(t, s.CancelRequested())
	s.RequestCancel()
	assert.True(t, s.CancelRequested())
}

func TestErrors(t *testing.T) {
	wrapped := fmt.Errorf("session: %w", &ConfigError{Source: "personas", ID: "a", Reason: "duplicate id"})
	assert.True(t, IsConfigError(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.EqualValues(t, `session: config personas "a": duplicate id`, wrapped.Error())

	nf := fmt.Errorf("lookup: %w", &NotFoundError{Kind: "topic", ID: "x"})
	assert.True(t, IsNotFound(nf))
	assert.EqualValues(t, `lookup: topic "x" not found`, nf.Error())

	gen := &GenerationError{PersonaID: "a", Turn: 2, Err: ErrEmptyGeneration}
	assert.True(t, errors.Is(gen, ErrEmptyGeneration))
}

func TestParseAudioFormat(t *testing.T) {
	for _, f := range []AudioEncodingFormat{PCM, ULAW, WAV} {
		got, ok := ParseAudioFormat(f.String())
		assert.True(t, ok, f.String())
		assert.EqualValues(t, f, got)
	}
	_, ok := ParseAudioFormat("mp3")
	assert.False(t, ok)
	assert.EqualValues(t, "unknown", AudioEncodingFormat(9).String())
	assert.EqualValues(t, "audio/basic", ULAW.MimeType())
}

func TestAudioChunk_duration(t *testing.T) {
	chunk := AudioChunk{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1, Format: PCM}
	assert.InDelta(t, 1.0, chunk.GetDurationInSeconds(), 0.001)
}
