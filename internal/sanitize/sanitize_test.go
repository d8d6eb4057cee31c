package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCleanExample(t *testing.T) {
	raw := "Nova: *giggles* I'm *so* happy to see you! Extra sentence overflow here."
	if got := Clean(raw, 40); got != "I'm happy to see you!" {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanStripsAstralSymbols(t *testing.T) {
	got := Clean("Hello 😀 chat 🎉!", 0)
	if got != "Hello chat !" {
		t.Fatalf("Clean() = %q", got)
	}
	if Clean("café ñ", 0) != "café ñ" {
		t.Fatal("BMP characters must survive")
	}
}

func TestCleanSpeakerLabel(t *testing.T) {
	cases := map[string]string{
		"Corelia: hi there":            "hi there",
		"Wow. Note: this stays":        "Wow. Note: this stays",
		"No label here":                "No label here",
		"Time is 10:30 now":            "Time is 10:30 now",
		"Really? Answer: yes":          "Really? Answer: yes",
		"  Nova:   spaced out reply  ": "spaced out reply",
		"Nova: Corelia: stacked":       "stacked",
		"Fun fact: cats sleep a lot.":  "Fun fact: cats sleep a lot.",
		"Nova: Fun fact: cats nap.":    "Fun fact: cats nap.",
	}
	for in, want := range cases {
		if got := Clean(in, 0); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanRemovesStageDirections(t *testing.T) {
	got := Clean("*waves* Hi *leans in* there *unfinished", 0)
	if strings.Contains(got, "*") {
		t.Fatalf("asterisk survived: %q", got)
	}
	if got != "Hi there unfinished" {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanNeverExceedsMax(t *testing.T) {
	raw := "First sentence is here. Second one follows! Third? Fourth sentence is rather long indeed."
	for max := 1; max <= 100; max++ {
		got := Clean(raw, max)
		if utf8.RuneCountInString(got) > max {
			t.Fatalf("max %d: got %d runes (%q)", max, utf8.RuneCountInString(got), got)
		}
	}
}

func TestCleanKeepsWholeSentences(t *testing.T) {
	raw := "First sentence is here. Second one follows! Third?"
	if got := Clean(raw, 45); got != "First sentence is here. Second one follows!" {
		t.Fatalf("Clean() = %q", got)
	}
	if got := Clean(raw, 10); got != "" {
		t.Fatalf("expected empty when first sentence does not fit, got %q", got)
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"Nova: *giggles* I'm *so* happy to see you! Extra sentence overflow here.",
		"Hello   there.\n\nHow are you?",
		"😀 *wink* Welcome back everyone!",
		"Plain reply.",
		"Nova: Fun fact: cats sleep a lot.",
		"Nova: Note: remember to hydrate.",
		"",
	}
	for _, in := range inputs {
		once := Clean(in, 40)
		if twice := Clean(once, 40); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCleanEmpty(t *testing.T) {
	if got := Clean("*only an aside*", 100); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
