// Package voicecmd interprets function calls issued by the live model and
// applies them to the companion state.
//
// The model can switch the assistant's persona and the application mode. Each
// call is parsed into a [Command] variant and dispatched through a single type
// switch; every call is answered with exactly one [live.ToolResponse]
// correlated by call ID. Unrecognised names and argument values are
// acknowledged without changing any state.
package voicecmd

import (
	"fmt"
	"strings"

	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/pkg/provider/live"
)

// Function names and argument keys declared to the model.
const (
	FuncChangePersonality = "changePersonality"
	FuncChangeMode        = "changeMode"

	ArgPersonality = "personality"
	ArgMode        = "mode"
)

// Command is a parsed voice command. The concrete type is one of
// [ChangePersonality], [ChangeMode] or [Unknown].
type Command interface {
	// Name returns the function name the command was parsed from.
	Name() string

	isCommand()
}

// ChangePersonality switches the active persona.
type ChangePersonality struct {
	Persona companion.Persona
}

// ChangeMode switches the application mode.
type ChangeMode struct {
	Mode companion.Mode
}

// Unknown is a call that cannot be applied: either the function name is not
// declared or its argument is not one of the declared values.
type Unknown struct {
	Function string

	// Arg is the rejected argument value; empty for unknown function names.
	Arg string

	// Reason is a short machine-readable cause: "unknown_function",
	// "missing_argument" or "invalid_argument".
	Reason string
}

func (ChangePersonality) Name() string { return FuncChangePersonality }
func (ChangeMode) Name() string        { return FuncChangeMode }
func (u Unknown) Name() string         { return u.Function }

func (ChangePersonality) isCommand() {}
func (ChangeMode) isCommand()        {}
func (Unknown) isCommand()           {}

// Parse converts a function call into a Command. It never fails: anything
// unusable becomes [Unknown].
func Parse(call live.FunctionCall) Command {
	switch call.Name {
	case FuncChangePersonality:
		raw, ok := stringArg(call.Args, ArgPersonality)
		if !ok {
			return Unknown{Function: call.Name, Reason: "missing_argument"}
		}
		p := companion.Persona(raw)
		if !p.Valid() {
			return Unknown{Function: call.Name, Arg: raw, Reason: "invalid_argument"}
		}
		return ChangePersonality{Persona: p}

	case FuncChangeMode:
		raw, ok := stringArg(call.Args, ArgMode)
		if !ok {
			return Unknown{Function: call.Name, Reason: "missing_argument"}
		}
		m := companion.Mode(raw)
		if !m.VoiceSwitchable() {
			return Unknown{Function: call.Name, Arg: raw, Reason: "invalid_argument"}
		}
		return ChangeMode{Mode: m}

	default:
		return Unknown{Function: call.Name, Reason: "unknown_function"}
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Declarations returns the tool definitions sent in the session setup. Each
// argument is constrained to its enumerated values.
func Declarations() []live.ToolDefinition {
	personas := companion.Personas()
	personaNames := make([]string, len(personas))
	for i, p := range personas {
		personaNames[i] = string(p)
	}
	modes := companion.VoiceSwitchableModes()
	modeNames := make([]string, len(modes))
	for i, m := range modes {
		modeNames[i] = string(m)
	}

	return []live.ToolDefinition{
		{
			Name:        FuncChangePersonality,
			Description: "Switch the assistant's personality when the user asks to talk to a different persona.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					ArgPersonality: map[string]any{
						"type":        "string",
						"description": "The personality to switch to.",
						"enum":        personaNames,
					},
				},
				"required": []string{ArgPersonality},
			},
		},
		{
			Name:        FuncChangeMode,
			Description: "Switch the application mode when the user asks for a different kind of help.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					ArgMode: map[string]any{
						"type":        "string",
						"description": "The application mode to switch to.",
						"enum":        modeNames,
					},
				},
				"required": []string{ArgMode},
			},
		},
	}
}
