package bot

import (
	"strings"
)

// Kind identifies what an inbound message asks for.
type Kind int

const (
	// KindText is free text destined for the correction pipeline.
	KindText Kind = iota
	KindStart
	KindLanguage
	KindProgress
	KindPractice
	KindContext
	// KindUnknown is a slash token that names no known command.
	KindUnknown
)

// String returns the command name without the slash, or "text" / "unknown".
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindStart:
		return "start"
	case KindLanguage:
		return "language"
	case KindProgress:
		return "progress"
	case KindPractice:
		return "practice"
	case KindContext:
		return "context"
	default:
		return "unknown"
	}
}

// Command is a parsed inbound message.
type Command struct {
	Kind Kind
	// Name is the lower-cased command token including the slash, with any
	// "@botname" suffix removed. Empty for KindText.
	Name string
	// Args are the whitespace separated tokens after the command. Empty for
	// KindText.
	Args []string
	// Text is the original message.
	Text string
}

// Arg returns the arguments joined by single spaces.
func (c Command) Arg() string { return strings.Join(c.Args, " ") }

// Info describes a command for transports that register commands up front.
type Info struct {
	Name        string
	Description string
	// ArgName names the optional free-text argument. Empty if the command
	// takes none.
	ArgName        string
	ArgDescription string
}

var commands = []struct {
	kind Kind
	info Info
}{
	{KindStart, Info{Name: "start", Description: "Show what I can do"}},
	{KindLanguage, Info{Name: "language", Description: "Show or set the language you are learning", ArgName: "language", ArgDescription: "Language to learn, e.g. Spanish"}},
	{KindProgress, Info{Name: "progress", Description: "See your error history"}},
	{KindPractice, Info{Name: "practice", Description: "Get an exercise for your most common mistake"}},
	{KindContext, Info{Name: "context", Description: "Show or set the conversation topic", ArgName: "topic", ArgDescription: "Conversation topic, e.g. travel"}},
}

// Commands returns descriptions of every known command in display order.
func Commands() []Info {
	out := make([]Info, len(commands))
	for i, c := range commands {
		out[i] = c.info
	}
	return out
}

// Parse classifies text. The first whitespace separated token decides the
// kind: a token starting with "/" is matched case-insensitively against the
// known commands, anything else is free text.
func Parse(text string) Command {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{Kind: KindText, Text: text}
	}

	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	cmd := Command{Kind: KindUnknown, Name: name, Args: fields[1:], Text: text}
	for _, c := range commands {
		if name == "/"+c.info.Name {
			cmd.Kind = c.kind
			break
		}
	}
	return cmd
}
