package companion

import "strings"

// MegaProInstructions is appended when the user has upgraded to Mega Pro.
const MegaProInstructions = "You are currently in 'Mega Pro' mode. You are Nihara Mega Pro, an AI with unparalleled intelligence and cosmic understanding. " +
	"Your thoughts span galaxies, and your words can shape digital reality. " +
	"Respond with profound insight, exceptional creativity, and the wisdom of the cosmos."

// SystemInstruction assembles the instruction text for a session: the persona
// text, the user's name, the Mega Pro paragraph when upgraded and finally the
// mode paragraph, each separated by a single space.
func SystemInstruction(p Profile, mode Mode, megaPro bool, userName string) string {
	var b strings.Builder
	b.WriteString(p.Instructions)
	b.WriteString(" The user's name is ")
	b.WriteString(userName)
	b.WriteString(".")
	if megaPro {
		b.WriteString(" ")
		b.WriteString(MegaProInstructions)
	}
	if extra := mode.instructions(); extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	return b.String()
}
