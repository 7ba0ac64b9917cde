package phonetic_test

import (
	"testing"

	"github.com/MrWong99/hark/internal/transcript/phonetic"
)

func TestMatch_ReturnsConfiguredCasing(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.Prepare([]string{"Spotify", "thermostat"})

	corrected, conf, matched := m.Match("SPOTIFY", v)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "SPOTIFY")
	}
	if corrected != "Spotify" {
		t.Errorf("corrected = %q, want %q", corrected, "Spotify")
	}
	if conf < 0.99 {
		t.Errorf("confidence = %f, want >= 0.99 for an exact match", conf)
	}
}

func TestMatch_NearMiss(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.Prepare([]string{"Spotify", "kitchen lights"})

	tests := []struct {
		in   string
		want string
	}{
		{in: "spotifie", want: "Spotify"},
		{in: "kitchen lites", want: "kitchen lights"},
	}
	for _, tt := range tests {
		got, _, matched := m.Match(tt.in, v)
		if !matched {
			t.Errorf("Match(%q): matched=false, want true", tt.in)
			continue
		}
		if got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatch_WordCountMustAgree(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.Prepare([]string{"Spotify"})

	if got, _, matched := m.Match("on spotify", v); matched {
		t.Fatalf("Match(%q) = %q, want no match across word counts", "on spotify", got)
	}
}

func TestMatch_UnrelatedWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.Prepare([]string{"thermostat"})

	corrected, conf, matched := m.Match("banana", v)
	if matched {
		t.Fatalf("Match(%q) = %q, want no match", "banana", corrected)
	}
	if corrected != "banana" || conf != 0 {
		t.Errorf("Match(%q) = (%q, %f), want input unchanged and 0", "banana", corrected, conf)
	}
}

func TestMatch_Thresholds(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.999),
		phonetic.WithFuzzyThreshold(0.999),
	)
	v := phonetic.Prepare([]string{"Spotify"})

	if _, _, matched := m.Match("spotifie", v); matched {
		t.Fatal("Match with threshold 0.999 accepted a near miss")
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	if _, _, matched := m.Match("spotify", nil); matched {
		t.Error("Match with nil vocabulary: matched=true")
	}
	if _, _, matched := m.Match("spotify", phonetic.Prepare([]string{"", "  "})); matched {
		t.Error("Match with blank vocabulary: matched=true")
	}
	corrected, conf, matched := m.Match("", phonetic.Prepare([]string{"Spotify"}))
	if matched || corrected != "" || conf != 0 {
		t.Errorf("Match(\"\") = (%q, %f, %v), want (\"\", 0, false)", corrected, conf, matched)
	}
}

func TestVocabulary_Known(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"Kitchen Lights", "timer"})
	if v.Len() != 2 {
		t.Fatalf("Len = %d, want 2", v.Len())
	}
	for _, w := range []string{"kitchen", "LIGHTS", "timer"} {
		if !v.Known(w) {
			t.Errorf("Known(%q) = false, want true", w)
		}
	}
	if v.Known("time") {
		t.Error("Known(\"time\") = true, want false")
	}
	if got := v.Terms()[0].Words(); got != 2 {
		t.Errorf("Terms()[0].Words() = %d, want 2", got)
	}
}
