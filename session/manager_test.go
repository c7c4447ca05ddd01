package session

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"debatekit/core"
	"debatekit/engine"
	"debatekit/registry"
	"debatekit/scheduler"
	mockllm "debatekit/services/mock/llm"
	mocktts "debatekit/services/mock/tts"
	"debatekit/triggers"
	"debatekit/voice"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func newManager(t *testing.T, maxTurns int, config Config) *Manager {
	t.Helper()
	logger := core.NewNopLogger()
	personas, err := registry.LoadPersonas([]registry.PersonaDefinition{
		{ID: "a", DisplayName: "Alpha", StylePrompt: "s", VoiceBackend: "cloned_voice", VoiceID: "va"},
		{ID: "b", DisplayName: "Beta", StylePrompt: "s", VoiceBackend: "system_voice"},
	})
	require.NoError(t, err)
	topics, err := registry.LoadTopics([]registry.TopicDefinition{{ID: "tariffs", PromptText: "Debate tariffs."}})
	require.NoError(t, err)
	index, err := triggers.Load([]triggers.Definition{
		{ID: "insult", MatchPhrases: []string{"idiot"}, Scope: "global", Effect: "raise_intensity", CooldownTurns: intPtr(0)},
	}, personas)
	require.NoError(t, err)
	sched, err := scheduler.NewTurnScheduler(personas, scheduler.Config{MaxTurns: maxTurns, MaxIntensity: 3}, logger)
	require.NoError(t, err)

	generator := mockllm.NewMockLLM(mockllm.Config{Lines: map[string][]string{
		"Alpha": {"you idiot"},
		"Beta":  {"calm down"},
	}})
	dialogue := engine.NewDialogueEngine(personas, index, sched, generator, engine.Config{}, logger)
	router := voice.NewRouter(mocktts.NewMockTTS(mocktts.Config{Name: "cloned"}), mocktts.NewMockTTS(mocktts.Config{Name: "system"}), voice.Config{OutputFormat: core.WAV}, logger)
	return NewManager(personas, topics, dialogue, router, config, logger)
}

func TestManager_fullSession(t *testing.T) {
	m := newManager(t, 4, Config{})
	id, err := m.Start("tariffs")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var turns []Turn
	for {
		turn, err := m.Advance(context.Background(), id)
		require.NoError(t, err)
		if turn.Ended {
			assert.EqualValues(t, core.EndReasonMaxTurns, turn.EndReason)
			break
		}
		turns = append(turns, turn)
	}
	require.Len(t, turns, 4)
	assert.EqualValues(t, "a", turns[0].Event.SpeakerID)
	assert.EqualValues(t, "cloned", turns[0].Audio.Backend)
	assert.EqualValues(t, "system", turns[1].Audio.Backend)

	again, err := m.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, again.Ended)

	history, err := m.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	sum, err := m.Summary(id)
	require.NoError(t, err)
	assert.EqualValues(t, core.StatusEnded, sum.Status)
	assert.EqualValues(t, 4, sum.Turns)
	assert.EqualValues(t, 2, sum.TriggerCounts["insult"])
	assert.EqualValues(t, 2, sum.Intensity["a"])
	assert.EqualValues(t, []string{}, sum.Breakpoints)
}

func TestManager_mutualMeltdownBreakpoints(t *testing.T) {
	m := newManager(t, 20, Config{})
	id, err := m.Start("tariffs")
	require.NoError(t, err)
	for {
		turn, err := m.Advance(context.Background(), id)
		require.NoError(t, err)
		if turn.Ended {
			assert.EqualValues(t, core.EndReasonMutualMeltdown, turn.EndReason)
			break
		}
	}
	sum, err := m.Summary(id)
	require.NoError(t, err)
	assert.EqualValues(t, []string{"a", "b"}, sum.Breakpoints)
	// intensity 3 for both is reached on Alpha's third line, turn 4
	assert.EqualValues(t, 5, sum.Turns)

	lead := []string{"Beta: calm down", "Alpha: you idiot", "Beta: calm down"}
	assert.EqualValues(t, []Highlight{
		{TurnIndex: 4, PersonaID: "a", SpeakerID: "a", TriggerIDs: []string{"insult"}, Text: "you idiot", Context: lead},
		{TurnIndex: 4, PersonaID: "b", SpeakerID: "a", TriggerIDs: []string{"insult"}, Text: "you idiot", Context: lead},
	}, sum.Highlights)
}

func TestManager_noHighlightsBelowMax(t *testing.T) {
	m := newManager(t, 2, Config{})
	id, err := m.Start("tariffs")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := m.Advance(context.Background(), id)
		require.NoError(t, err)
	}
	sum, err := m.Summary(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.TriggerCounts["insult"])
	assert.EqualValues(t, []Highlight{}, sum.Highlights)
}

func TestManager_unknownIDs(t *testing.T) {
	m := newManager(t, 2, Config{})
	_, err := m.Start("missing")
	assert.True(t, core.IsNotFound(err))

	_, err = m.Advance(context.Background(), "nope")
	assert.True(t, core.IsNotFound(err))
	_, err = m.History("nope")
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(m.Cancel("nope")))
	_, err = m.Summary("nope")
	assert.True(t, core.IsNotFound(err))
}

func TestManager_cancelIsIdempotent(t *testing.T) {
	m := newManager(t, 10, Config{})
	id, err := m.Start("tariffs")
	require.NoError(t, err)

	_, err = m.Advance(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	require.NoError(t, m.Cancel(id))

	turn, err := m.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, turn.Ended)
	assert.EqualValues(t, core.EndReasonCancelled, turn.EndReason)

	history, err := m.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestManager_cancelEndedSessionKeepsReason(t *testing.T) {
	m := newManager(t, 1, Config{})
	id, err := m.Start("tariffs")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := m.Advance(context.Background(), id)
		require.NoError(t, err)
	}
	require.NoError(t, m.Cancel(id))
	sum, err := m.Summary(id)
	require.NoError(t, err)
	assert.EqualValues(t, core.EndReasonMaxTurns, sum.EndReason)
}

func TestManager_sessionsAreIndependent(t *testing.T) {
	m := newManager(t, 6, Config{})
	const sessions = 4

	ids := make([]string, sessions)
	for i := range ids {
		id, err := m.Start("tariffs")
		require.NoError(t, err)
		ids[i] = id
	}
	assert.EqualValues(t, sessions, m.Len())

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for {
				turn, err := m.Advance(context.Background(), id)
				if err != nil || turn.Ended {
					return
				}
			}
		}(id)
	}
	wg.Wait()

	// Alpha's third insult at turn 4 puts both personas at max intensity.
	for _, id := range ids {
		history, err := m.History(id)
		require.NoError(t, err)
		assert.Len(t, history, 5)
		for i, ev := range history {
			assert.EqualValues(t, i, ev.TurnIndex)
		}
		sum, err := m.Summary(id)
		require.NoError(t, err)
		assert.EqualValues(t, core.EndReasonMutualMeltdown, sum.EndReason)
	}

	m.CloseAll()
	assert.EqualValues(t, 0, m.Len())
}

func TestManager_logDir(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, 2, Config{LogDir: dir})
	id, err := m.Start("tariffs")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, id+".active"))
	assert.NoError(t, err)

	for {
		turn, err := m.Advance(context.Background(), id)
		require.NoError(t, err)
		if turn.Ended {
			break
		}
	}

	_, err = os.Stat(filepath.Join(dir, id+".active"))
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(filepath.Join(dir, id+".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var meta core.SessionMetadata
	var turnLines int
	scanner := bufio.NewScanner(f)
	for first := true; scanner.Scan(); first = false {
		if first {
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &meta))
			continue
		}
		var entry core.LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry.Level == "TURN" {
			turnLines++
		}
	}
	assert.EqualValues(t, id, meta.SessionID)
	assert.EqualValues(t, "tariffs", meta.TopicID)
	assert.EqualValues(t, 2, turnLines)
}

func TestManager_withoutVoice(t *testing.T) {
	base := newManager(t, 1, Config{})
	m := NewManager(base.personas, base.topics, base.engine, nil, Config{}, nil)
	id, err := m.Start("tariffs")
	require.NoError(t, err)
	turn, err := m.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, turn.Audio.IsSilent())
	assert.EqualValues(t, "voice disabled", turn.Audio.Reason)
}

type recordingTranscript struct {
	mu     sync.Mutex
	meta   core.SessionMetadata
	lines  []string
	events []core.ConversationEvent
	closed int
}

func (r *recordingTranscript) Write(level, msg string, attrs map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, msg)
}

func (r *recordingTranscript) WriteEvent(event core.ConversationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTranscript) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func TestManager_mirror(t *testing.T) {
	mirror := &recordingTranscript{}
	m := newManager(t, 3, Config{
		LogDir: t.TempDir(),
		Mirror: func(meta core.SessionMetadata) Transcript {
			mirror.meta = meta
			return mirror
		},
	})
	id, err := m.Start("tariffs")
	require.NoError(t, err)
	for {
		turn, err := m.Advance(context.Background(), id)
		require.NoError(t, err)
		if turn.Ended {
			break
		}
	}
	require.NoError(t, m.Close(id))

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.EqualValues(t, id, mirror.meta.SessionID)
	assert.EqualValues(t, []string{"a", "b"}, mirror.meta.Personas)
	assert.Len(t, mirror.events, 3)
	assert.Contains(t, mirror.lines, "session started")
	assert.Contains(t, mirror.lines, "session ended")
	assert.EqualValues(t, 1, mirror.closed)
}
