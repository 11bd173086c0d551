package companion_test

import (
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/nihara/internal/companion"
)

func TestSystemInstruction(t *testing.T) {
	t.Parallel()

	base := companion.DefaultProfiles()[companion.PersonaNihara]

	tests := []struct {
		name     string
		mode     companion.Mode
		megaPro  bool
		contains []string
		absent   []string
	}{
		{
			name:     "chat adds nothing",
			mode:     companion.ModeChat,
			contains: []string{base.Instructions + " The user's name is Ada."},
			absent:   []string{"Mega Pro", "mode."},
		},
		{
			name:     "image generation",
			mode:     companion.ModeImageGen,
			contains: []string{"You are in Image Generation mode."},
		},
		{
			name:     "deep research",
			mode:     companion.ModeDeepResearch,
			contains: []string{"You are in Deep Research mode."},
		},
		{
			name:     "code writer",
			mode:     companion.ModeCodeWriter,
			contains: []string{"You are in Code Writer mode."},
		},
		{
			name:     "study buddy",
			mode:     companion.ModeStudyBuddy,
			contains: []string{"You are in Study & Learn mode."},
		},
		{
			name:   "astro guide adds nothing",
			mode:   companion.ModeAstroGuide,
			absent: []string{"mode."},
		},
		{
			name:     "mega pro before mode paragraph",
			mode:     companion.ModeCodeWriter,
			megaPro:  true,
			contains: []string{"Ada. " + companion.MegaProInstructions + " You are in Code Writer mode."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := companion.SystemInstruction(base, tt.mode, tt.megaPro, "Ada")
			if !strings.HasPrefix(got, base.Instructions) {
				t.Errorf("instruction does not start with persona text: %q", got)
			}
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("instruction missing %q:\n%s", s, got)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(got, s) {
					t.Errorf("instruction unexpectedly contains %q:\n%s", s, got)
				}
			}
		})
	}
}

func TestModes(t *testing.T) {
	t.Parallel()

	if companion.ModeAIDiary.VoiceSwitchable() {
		t.Error("AI Diary must not be voice switchable")
	}
	switchable := companion.VoiceSwitchableModes()
	if len(switchable) != len(companion.Modes())-1 {
		t.Errorf("switchable modes = %v", switchable)
	}
	if slices.Contains(switchable, companion.ModeAIDiary) {
		t.Error("switchable modes contain AI Diary")
	}
	if _, err := companion.ParseMode("Image Generation"); err != nil {
		t.Errorf("ParseMode: %v", err)
	}
	if _, err := companion.ParseMode("image generation"); err == nil {
		t.Error("ParseMode is case sensitive; expected error")
	}
	if _, err := companion.ParsePersona("Luna"); err != nil {
		t.Errorf("ParsePersona: %v", err)
	}
	if _, err := companion.ParsePersona("Bob"); err == nil {
		t.Error("expected error for unknown persona")
	}
}

func TestLanguageCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"English", "en-US", true},
		{" german ", "de-DE", true},
		{"Malayalam", "ml-IN", true},
		{"fr-CA", "fr-CA", true},
		{"Klingon", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := companion.LanguageCode(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LanguageCode(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStore_Defaults(t *testing.T) {
	t.Parallel()

	s := companion.NewStore()
	snap := s.Snapshot()
	if snap.Persona != companion.PersonaNihara || snap.Mode != companion.ModeChat {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Preferences.Voice != "Zephyr" || snap.Preferences.Language != "English" {
		t.Errorf("preferences = %+v", snap.Preferences)
	}
}

func TestStore_SetPersonaNotifies(t *testing.T) {
	t.Parallel()

	s := companion.NewStore()
	var (
		mu      sync.Mutex
		changes []companion.Change
	)
	unsub := s.Subscribe(func(c companion.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	if err := s.SetPersona(companion.PersonaLuna); err != nil {
		t.Fatalf("SetPersona: %v", err)
	}
	// Same value again is not a change.
	if err := s.SetPersona(companion.PersonaLuna); err != nil {
		t.Fatalf("SetPersona: %v", err)
	}
	if err := s.SetPersona("Bob"); err == nil {
		t.Error("expected error for unknown persona")
	}

	unsub()
	_ = s.SetPersona(companion.PersonaNiru)

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	if changes[0].Kind != companion.ChangePersona || changes[0].Snapshot.Persona != companion.PersonaLuna {
		t.Errorf("change = %+v", changes[0])
	}
	if got := s.Persona(); got != companion.PersonaNiru {
		t.Errorf("Persona() = %q, want Niru", got)
	}
}

func TestStore_SetModeAcceptsDiary(t *testing.T) {
	t.Parallel()

	s := companion.NewStore()
	if err := s.SetMode(companion.ModeAIDiary); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if got := s.Mode(); got != companion.ModeAIDiary {
		t.Errorf("Mode() = %q", got)
	}
	if err := s.SetMode("Karaoke"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestStore_Preferences(t *testing.T) {
	t.Parallel()

	s := companion.NewStore(companion.WithPreferences(companion.Preferences{UserName: "Ada"}))
	if got := s.Preferences(); got.Voice != "Zephyr" || got.UserName != "Ada" {
		t.Errorf("seeded preferences = %+v", got)
	}

	if err := s.SetPreferences(companion.Preferences{Voice: "Robot"}); err == nil {
		t.Error("expected error for unknown voice")
	}
	if err := s.UpdatePreferences(func(p *companion.Preferences) {
		p.Voice = " Puck "
		p.MegaPro = true
	}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	got := s.Preferences()
	if got.Voice != "Puck" || !got.MegaPro || got.UserName != "Ada" || got.Language != "English" {
		t.Errorf("preferences = %+v", got)
	}
}

func TestStore_InstructionsFollowState(t *testing.T) {
	t.Parallel()

	s := companion.NewStore(
		companion.WithProfiles(map[companion.Persona]companion.Profile{
			companion.PersonaLuna: {Instructions: "You are Luna the test moon."},
		}),
		companion.WithPersona(companion.PersonaLuna),
		companion.WithMode(companion.ModeStudyBuddy),
		companion.WithPreferences(companion.Preferences{UserName: "Ada", MegaPro: true}),
	)

	got := s.Instructions()
	want := "You are Luna the test moon. The user's name is Ada. " + companion.MegaProInstructions +
		" You are in Study & Learn mode. Act as a helpful and patient tutor. Explain concepts clearly, create quizzes, and help the user learn new topics."
	if got != want {
		t.Errorf("Instructions() =\n%q\nwant\n%q", got, want)
	}
	if p := s.Profile(companion.PersonaLuna); p.Name != "Luna" {
		t.Errorf("profile name = %q, want built-in fallback Luna", p.Name)
	}
}
