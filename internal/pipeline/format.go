package pipeline

import (
	"fmt"
	"strings"

	"github.com/MrWong99/lingobot/internal/tutor"
)

const reinforcementHeader = "🔔 You've made this type of error a few times. Let's focus on it!"

var tips = map[tutor.ErrorType]string{
	tutor.ErrorTense:       "Tenses tell you when an action happens (e.g., 'I walk' vs. 'I walked'). Let's focus on getting them right!",
	tutor.ErrorPreposition: "Prepositions like 'in', 'on', 'at' show relationships. They often require practice.",
	tutor.ErrorWordChoice:  "Choosing the most accurate word is key. Similar words can have very different meanings.",
}

const defaultTip = "Grammar rules can be complex, but mastering them makes a big difference."

// Tip returns the study tip shown in a reinforcement reminder for t.
func Tip(t tutor.ErrorType) string {
	if tip, ok := tips[t]; ok {
		return tip
	}
	return defaultTip
}

// Reinforcement renders the reminder block for t.
func Reinforcement(t tutor.ErrorType) string {
	return fmt.Sprintf("%s\n\n**Focus Area: %s**\n%s", reinforcementHeader, t.Label(), Tip(t))
}

// Format renders c as reply text, prefixed by the reminder block when
// reinforce is set.
//
// A correct message renders as the bot's conversational reply alone; when the
// model gave no reply it falls back to a short confirmation of the corrected
// text.
func Format(c tutor.Correction, reinforce bool) string {
	var b strings.Builder
	if reinforce && !c.ErrorType.IsNone() {
		b.WriteString(Reinforcement(c.ErrorType))
		b.WriteString("\n\n")
	}

	if c.ErrorType.IsNone() {
		if strings.TrimSpace(c.Reply) == "" {
			fmt.Fprintf(&b, "\"%s\" is correct! Keep it up.", c.Corrected)
		} else {
			b.WriteString("🤖 " + c.Reply)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "🤔\nCorrection: \"%s\"\nExplanation: %s\nError Type: %s", c.Corrected, c.Explanation, c.ErrorType)
	if strings.TrimSpace(c.Reply) != "" {
		b.WriteString("\n\n🤖 " + c.Reply)
	}
	return b.String()
}
