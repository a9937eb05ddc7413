package infer

import (
	"fmt"
	"strings"

	"github.com/kalambet/flowx/internal/llm"
	"github.com/kalambet/flowx/internal/model"
)

// maxTitleSamples bounds how many window titles go into the prompt so a
// long session does not blow up the context window of a small model.
const maxTitleSamples = 12

const systemPromptTemplate = `You are a work-session classifier. You receive a summary of one block of computer activity: which applications were used, for how long, and a sample of window titles. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- "intent" is a short lowercase task description from the user's point of view, e.g. "competitive research on pricing" or "triaging support tickets".
- Base the intent on the window titles and app mix, not on guesses about the person.
- "confidence" reflects how clearly the titles point at one task. Mixed or generic titles mean low confidence.
- "friction_details" names what made the session inefficient (rapid app switching, repeated copy-paste between tools), or is empty.`

// BuildPrompt constructs the chat messages for classifying one session.
func BuildPrompt(s model.WorkflowSession) []llm.Message {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Session on %s, %.0f minutes, %d app switches.\n",
		s.StartTime.Format("Mon 15:04"), s.TotalDurationMinutes, s.ContextSwitches)
	fmt.Fprintf(&sb, "Apps: %s\n", strings.Join(s.AppsUsed, ", "))

	titles := titleSamples(s.Events)
	if len(titles) > 0 {
		sb.WriteString("Window titles:\n")
		for _, title := range titles {
			fmt.Fprintf(&sb, "- %s\n", title)
		}
	}

	return []llm.Message{
		{Role: "system", Content: systemPromptTemplate},
		{Role: "user", Content: sb.String()},
	}
}

// titleSamples returns up to maxTitleSamples distinct non-empty window
// titles, spread across the whole session rather than just its start.
func titleSamples(events []model.RawEvent) []string {
	var titles []string
	seen := make(map[string]bool)
	for _, e := range events {
		title := strings.TrimSpace(e.WindowTitle)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	if len(titles) <= maxTitleSamples {
		return titles
	}

	step := len(titles) / maxTitleSamples
	sampled := make([]string, 0, maxTitleSamples)
	for i := 0; i < len(titles) && len(sampled) < maxTitleSamples; i += step {
		sampled = append(sampled, titles[i])
	}
	return sampled
}
