package engine

import (
	"fmt"
	"strings"

	"debatekit/core"
)

// ToneHint maps a persona's intensity to the mood the model is asked to play.
func ToneHint(intensity, maxIntensity int) string {
	switch {
	case maxIntensity <= 0 || intensity <= 0:
		return "calm and composed, happy to trade friendly jabs"
	case intensity >= maxIntensity:
		return "in full meltdown, emotional and blurting out what you really think"
	case intensity*2 < maxIntensity:
		return "a little irritated, your replies are getting sharper"
	default:
		return "heated and close to losing your temper"
	}
}

// BuildPrompt assembles the context for speaker's next line: one system message,
// the transcript window, and a closing cue. Lines spoken by speaker become
// assistant messages; everyone else's are user messages prefixed by name.
func BuildPrompt(state *core.ConversationState, speaker core.Persona, participants []core.Persona, window, maxIntensity int) core.LLMContext {
	names := make(map[string]string, len(participants))
	var others []string
	for _, p := range participants {
		names[p.ID] = p.DisplayName
		if p.ID != speaker.ID {
			others = append(others, p.DisplayName)
		}
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s.\n%s\n\n", speaker.DisplayName, strings.TrimSpace(speaker.StylePrompt))
	topic := state.Topic
	if topic.Title != "" && topic.Title != topic.ID {
		fmt.Fprintf(&sys, "Topic: %s\n", topic.Title)
	}
	fmt.Fprintf(&sys, "%s\n\n", strings.TrimSpace(topic.PromptText))
	if len(others) > 0 {
		fmt.Fprintf(&sys, "You are debating with: %s.\n", strings.Join(others, ", "))
	}
	intensity := state.Intensity[speaker.ID]
	fmt.Fprintf(&sys, "Your current intensity is %d/%d: you are %s.\n", intensity, maxIntensity, ToneHint(intensity, maxIntensity))
	sys.WriteString("Stay in character. Answer with one to three short spoken sentences, no stage directions and no name prefix.")

	var ctx core.LLMContext
	ctx.AddSystemMessage(sys.String())

	history := state.Window(window)
	for _, ev := range history {
		if ev.SpeakerID == speaker.ID {
			ctx.AddAssistantMessage(ev.Text)
			continue
		}
		name := names[ev.SpeakerID]
		if name == "" {
			name = ev.SpeakerID
		}
		ctx.AddUserMessage(name + ": " + ev.Text)
	}

	if len(history) == 0 {
		ctx.AddUserMessage(fmt.Sprintf("%s, open the debate with your take on the topic.", speaker.DisplayName))
	} else {
		ctx.AddUserMessage(fmt.Sprintf("%s, it's your turn. Reply in character.", speaker.DisplayName))
	}
	return ctx
}

// cleanGeneration trims the reply and drops a leading "Name:" the model may echo.
func cleanGeneration(text string, speaker core.Persona) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{speaker.DisplayName + ":", speaker.DisplayName + "："} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}
	return strings.Trim(text, "\"")
}
