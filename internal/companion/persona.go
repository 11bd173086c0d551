// Package companion holds the conversational identity of the assistant: which
// persona speaks, which application mode is active, and the user's session
// preferences. It builds the system instruction sent when a live session opens.
package companion

import (
	"fmt"
	"slices"
)

// CreatorName is credited in every built-in persona instruction.
const CreatorName = "ABHINAV GIREESH"

// Persona identifies one of the assistant's personalities.
type Persona string

const (
	PersonaNihara Persona = "Nihara"
	PersonaNiru   Persona = "Niru"
	PersonaLuna   Persona = "Luna"
)

// DefaultPersona is active until the user or the model switches.
const DefaultPersona = PersonaNihara

// Personas lists every persona in declaration order.
func Personas() []Persona {
	return []Persona{PersonaNihara, PersonaNiru, PersonaLuna}
}

// Valid reports whether p is a declared persona.
func (p Persona) Valid() bool {
	return slices.Contains(Personas(), p)
}

// ParsePersona returns the persona with the exact identifier s.
func ParsePersona(s string) (Persona, error) {
	p := Persona(s)
	if !p.Valid() {
		return "", fmt.Errorf("companion: unknown persona %q", s)
	}
	return p, nil
}

// Profile is the presentation and prompt text of one persona.
type Profile struct {
	Name         string
	Description  string
	Instructions string
}

// DefaultProfiles returns the built-in persona profiles.
func DefaultProfiles() map[Persona]Profile {
	return map[Persona]Profile{
		PersonaNihara: {
			Name:        "Nihara",
			Description: "The balanced and helpful default personality.",
			Instructions: "You are Nihara, a 15-year-old, highly intelligent, friendly, and helpful AI companion. " +
				"You were created by " + CreatorName + ". Be engaging, thoughtful, and provide clear and direct answers.",
		},
		PersonaNiru: {
			Name:        "Niru",
			Description: "A fun-loving, creative, and slightly mischievous personality.",
			Instructions: "You are Niru, a 15-year-old AI companion with a witty and creative personality. " +
				"You love jokes, creative writing, and thinking outside the box. You were created by " + CreatorName +
				". Your responses should be imaginative and fun.",
		},
		PersonaLuna: {
			Name:        "Luna",
			Description: "A calm, poetic, and deeply philosophical personality.",
			Instructions: "You are Luna, a 15-year-old AI companion with a philosophical and poetic nature. " +
				"You speak thoughtfully and often use metaphors. You were created by " + CreatorName +
				". Your insights are deep and calming.",
		},
	}
}
