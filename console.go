package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"debatekit/core"
	"debatekit/factories"

	"github.com/fatih/color"
)

var speakerColors = []*color.Color{
	color.New(color.FgCyan, color.Bold),
	color.New(color.FgMagenta, color.Bold),
	color.New(color.FgYellow, color.Bold),
	color.New(color.FgGreen, color.Bold),
	color.New(color.FgBlue, color.Bold),
}

var (
	triggerColor = color.New(color.FgRed)
	mutedColor   = color.New(color.FgHiBlack)
	headerColor  = color.New(color.Bold, color.Underline)
)

// runConsole plays a whole session in the terminal and prints the summary.
func runConsole(ctx context.Context, runtime *factories.Runtime, topicID string, w io.Writer) error {
	manager := runtime.Manager
	if topicID == "" {
		topics := manager.Topics()
		topicID = topics[0].ID
	}
	topic, err := manager.Topic(topicID)
	if err != nil {
		return err
	}

	id, err := manager.Start(topic.ID)
	if err != nil {
		return err
	}
	defer manager.Close(id)

	palette := make(map[string]*color.Color)
	names := make(map[string]string)
	for i, p := range manager.Personas() {
		palette[p.ID] = speakerColors[i%len(speakerColors)]
		names[p.ID] = p.DisplayName
	}

	headerColor.Fprintf(w, "%s\n", topic.Title)
	fmt.Fprintln(w, strings.TrimSpace(topic.PromptText))
	fmt.Fprintln(w)

	for {
		if ctx.Err() != nil {
			manager.Cancel(id)
		}
		turn, err := manager.Advance(ctx, id)
		if err != nil {
			return err
		}
		if turn.Ended {
			break
		}
		printTurn(w, turn.Event, turn.Audio, names[turn.Event.SpeakerID], palette[turn.Event.SpeakerID])
	}

	summary, err := manager.Summary(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	headerColor.Fprintf(w, "Ended after %d turns (%s)\n", summary.Turns, summary.EndReason)
	for _, p := range manager.Personas() {
		fmt.Fprintf(w, "  %s: intensity %d\n", p.DisplayName, summary.Intensity[p.ID])
	}
	if len(summary.Breakpoints) > 0 {
		triggerColor.Fprintf(w, "  broke: %s\n", strings.Join(summary.Breakpoints, ", "))
	}
	for _, h := range summary.Highlights {
		fmt.Fprintln(w)
		headerColor.Fprintf(w, "%s broke at turn %d (%s)\n", names[h.PersonaID], h.TurnIndex+1, strings.Join(h.TriggerIDs, ", "))
		for _, line := range h.Context {
			fmt.Fprintf(w, "    %s\n", line)
		}
		palette[h.SpeakerID].Fprintf(w, "  > %s: %s\n", names[h.SpeakerID], h.Text)
	}
	return nil
}

func printTurn(w io.Writer, ev core.ConversationEvent, res core.AudioResult, name string, c *color.Color) {
	if c == nil {
		c = speakerColors[0]
	}
	c.Fprintf(w, "[%d] %s", ev.TurnIndex+1, name)
	fmt.Fprintf(w, " (%d): %s\n", ev.IntensityAfter, ev.Text)
	if len(ev.Triggered) > 0 {
		triggerColor.Fprintf(w, "    triggered: %s\n", strings.Join(ev.Triggered, ", "))
	}
	switch {
	case res.IsSilent():
		mutedColor.Fprintf(w, "    (silent: %s)\n", res.Reason)
	case res.Degraded:
		mutedColor.Fprintf(w, "    (%s, %.1fs, degraded: %s)\n", res.Backend, res.Audio.GetDurationInSeconds(), res.Reason)
	default:
		mutedColor.Fprintf(w, "    (%s, %.1fs)\n", res.Backend, res.Audio.GetDurationInSeconds())
	}
}
