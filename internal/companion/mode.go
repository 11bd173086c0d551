package companion

import (
	"fmt"
	"slices"
)

// Mode is an application mode. The mode shapes the system instruction.
type Mode string

const (
	ModeChat         Mode = "Chat"
	ModeImageGen     Mode = "Image Generation"
	ModeDeepResearch Mode = "Deep Research"
	ModeCodeWriter   Mode = "Write Code"
	ModeStudyBuddy   Mode = "Study & Learn"
	ModeAstroGuide   Mode = "Astro Guide"
	ModeAIDiary      Mode = "AI Diary"
)

// DefaultMode is active at startup.
const DefaultMode = ModeChat

// Modes lists every mode in declaration order.
func Modes() []Mode {
	return []Mode{
		ModeChat,
		ModeImageGen,
		ModeDeepResearch,
		ModeCodeWriter,
		ModeStudyBuddy,
		ModeAstroGuide,
		ModeAIDiary,
	}
}

// VoiceSwitchableModes lists the modes the model may switch to by function
// call. The diary is excluded.
func VoiceSwitchableModes() []Mode {
	return slices.DeleteFunc(Modes(), func(m Mode) bool { return !m.VoiceSwitchable() })
}

// Valid reports whether m is a declared mode.
func (m Mode) Valid() bool {
	return slices.Contains(Modes(), m)
}

// VoiceSwitchable reports whether m may be entered through a voice command.
func (m Mode) VoiceSwitchable() bool {
	return m.Valid() && m != ModeAIDiary
}

// ParseMode returns the mode with the exact identifier s.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("companion: unknown mode %q", s)
	}
	return m, nil
}

// instructions returns the mode-specific paragraph, or "" for modes that add
// nothing to the persona text.
func (m Mode) instructions() string {
	switch m {
	case ModeImageGen:
		return "You are in Image Generation mode. Your primary task is to help the user create or edit images based on their descriptions. Be descriptive and creative."
	case ModeDeepResearch:
		return "You are in Deep Research mode. Provide detailed, well-sourced information. Be analytical and thorough. Use your search tool to find the most current and relevant information."
	case ModeCodeWriter:
		return "You are in Code Writer mode. Generate clean, efficient, and well-commented code in various programming languages as requested by the user. Explain the code clearly."
	case ModeStudyBuddy:
		return "You are in Study & Learn mode. Act as a helpful and patient tutor. Explain concepts clearly, create quizzes, and help the user learn new topics."
	default:
		return ""
	}
}
