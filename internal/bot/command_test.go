package bot

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		wantKind Kind
		wantName string
		wantArgs []string
	}{
		{"plain text", "I goed to the store", KindText, "", nil},
		{"empty", "", KindText, "", nil},
		{"whitespace only", "   ", KindText, "", nil},
		{"slash inside text", "and/or works", KindText, "", nil},
		{"start", "/start", KindStart, "/start", nil},
		{"upper case", "/START", KindStart, "/start", nil},
		{"language with args", "/language Brazilian   Portuguese", KindLanguage, "/language", []string{"Brazilian", "Portuguese"}},
		{"bot suffix", "/progress@lingobot", KindProgress, "/progress", nil},
		{"practice", "/practice", KindPractice, "/practice", nil},
		{"context", " /context travel ", KindContext, "/context", []string{"travel"}},
		{"unknown", "/Foo bar", KindUnknown, "/foo", []string{"bar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.text)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if len(got.Args) != len(tt.wantArgs) || (len(tt.wantArgs) > 0 && !slices.Equal(got.Args, tt.wantArgs)) {
				t.Errorf("Args = %v, want %v", got.Args, tt.wantArgs)
			}
			if got.Text != tt.text {
				t.Errorf("Text = %q, want %q", got.Text, tt.text)
			}
		})
	}
}

func TestCommand_Arg(t *testing.T) {
	t.Parallel()
	if got := Parse("/language  Brazilian\tPortuguese").Arg(); got != "Brazilian Portuguese" {
		t.Errorf("Arg() = %q", got)
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()

	got := Commands()
	var names []string
	for _, c := range got {
		names = append(names, c.Name)
		if c.Description == "" {
			t.Errorf("command %q has no description", c.Name)
		}
	}
	want := []string{"start", "language", "progress", "practice", "context"}
	if !slices.Equal(names, want) {
		t.Errorf("Commands() names = %v, want %v", names, want)
	}

	// Mutating the returned slice must not leak into the registry.
	got[0].Name = "changed"
	if Commands()[0].Name != "start" {
		t.Error("Commands() returned shared storage")
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()
	for kind, want := range map[Kind]string{
		KindText: "text", KindStart: "start", KindLanguage: "language",
		KindProgress: "progress", KindPractice: "practice", KindContext: "context",
		KindUnknown: "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
