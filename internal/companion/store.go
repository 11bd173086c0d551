package companion

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Preferences are the user's session settings. They are read once when a live
// session starts; changes apply to the next session.
type Preferences struct {
	Voice    string `json:"voice"`
	Language string `json:"language"`
	UserName string `json:"user_name"`
	MegaPro  bool   `json:"mega_pro"`
}

// DefaultPreferences returns the preferences used before any are configured.
func DefaultPreferences() Preferences {
	return Preferences{Voice: DefaultVoice, Language: DefaultLanguage}
}

// Validate reports unknown voices. Empty fields are filled with defaults by
// [Store.SetPreferences].
func (p Preferences) Validate() error {
	if p.Voice != "" && !ValidVoice(p.Voice) {
		return fmt.Errorf("companion: unknown voice %q", p.Voice)
	}
	return nil
}

// Snapshot is a consistent view of the store.
type Snapshot struct {
	Persona     Persona     `json:"persona"`
	Mode        Mode        `json:"mode"`
	Preferences Preferences `json:"preferences"`
}

// ChangeKind classifies a store notification.
type ChangeKind int

const (
	ChangePersona ChangeKind = iota
	ChangeMode
	ChangePreferences
)

// Change is delivered to subscribers after each effective update. Snapshot
// holds the state after the change.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithProfiles overrides persona profiles. Personas absent from profiles keep
// their built-in text; empty fields fall back to the built-in values.
func WithProfiles(profiles map[Persona]Profile) Option {
	return func(s *Store) {
		for p, prof := range profiles {
			def := s.profiles[p]
			if prof.Name == "" {
				prof.Name = def.Name
			}
			if prof.Description == "" {
				prof.Description = def.Description
			}
			if prof.Instructions == "" {
				prof.Instructions = def.Instructions
			}
			s.profiles[p] = prof
		}
	}
}

// WithPreferences seeds the initial preferences.
func WithPreferences(p Preferences) Option {
	return func(s *Store) { s.prefs = withDefaults(p) }
}

// WithPersona sets the initial persona. Unknown values are ignored.
func WithPersona(p Persona) Option {
	return func(s *Store) {
		if p.Valid() {
			s.persona = p
		}
	}
}

// WithMode sets the initial mode. Unknown values are ignored.
func WithMode(m Mode) Option {
	return func(s *Store) {
		if m.Valid() {
			s.mode = m
		}
	}
}

// Store holds the current persona, mode and preferences. It is the single
// owner of that state; the voice command dispatcher, the UI and config hot
// reload all write through it.
//
// All methods are safe for concurrent use. Subscribers are invoked
// synchronously after the lock is released, in registration order.
type Store struct {
	mu       sync.RWMutex
	persona  Persona
	mode     Mode
	prefs    Preferences
	profiles map[Persona]Profile

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// NewStore returns a Store with the default persona, mode and preferences,
// adjusted by opts.
func NewStore(opts ...Option) *Store {
	s := &Store{
		persona:  DefaultPersona,
		mode:     DefaultMode,
		prefs:    DefaultPreferences(),
		profiles: DefaultProfiles(),
		subs:     make(map[int]func(Change)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Persona returns the current persona.
func (s *Store) Persona() Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

// Mode returns the current mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Preferences returns the current preferences.
func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Profile returns the profile of p. Unknown personas yield the zero Profile.
func (s *Store) Profile(p Persona) Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[p]
}

// Profiles returns a copy of all persona profiles.
func (s *Store) Profiles() map[Persona]Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.profiles)
}

// Snapshot returns persona, mode and preferences read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Persona: s.persona, Mode: s.mode, Preferences: s.prefs}
}

// Instructions builds the system instruction for the current state.
func (s *Store) Instructions() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SystemInstruction(s.profiles[s.persona], s.mode, s.prefs.MegaPro, s.prefs.UserName)
}

// SetPersona switches the persona. Setting the current persona again is a
// no-op and does not notify subscribers.
func (s *Store) SetPersona(p Persona) error {
	if !p.Valid() {
		return fmt.Errorf("companion: unknown persona %q", p)
	}
	s.mu.Lock()
	if s.persona == p {
		s.mu.Unlock()
		return nil
	}
	s.persona = p
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("companion: persona changed", "persona", string(p))
	s.notify(Change{Kind: ChangePersona, Snapshot: snap})
	return nil
}

// SetMode switches the application mode. Any declared mode is accepted here;
// voice command restrictions are enforced by the caller.
func (s *Store) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("companion: unknown mode %q", m)
	}
	s.mu.Lock()
	if s.mode == m {
		s.mu.Unlock()
		return nil
	}
	s.mode = m
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("companion: mode changed", "mode", string(m))
	s.notify(Change{Kind: ChangeMode, Snapshot: snap})
	return nil
}

// SetPreferences replaces the preferences. Empty voice and language fall back
// to their defaults.
func (s *Store) SetPreferences(p Preferences) error {
	p = withDefaults(p)
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.prefs == p {
		s.mu.Unlock()
		return nil
	}
	s.prefs = p
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("companion: preferences changed", "voice", p.Voice, "language", p.Language, "mega_pro", p.MegaPro)
	s.notify(Change{Kind: ChangePreferences, Snapshot: snap})
	return nil
}

// UpdatePreferences applies fn to a copy of the current preferences and
// stores the result.
func (s *Store) UpdatePreferences(fn func(*Preferences)) error {
	p := s.Preferences()
	fn(&p)
	return s.SetPreferences(p)
}

// Subscribe registers fn for change notifications and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Change), 0, len(ids))
	slices.Sort(ids) // registration order
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func withDefaults(p Preferences) Preferences {
	p.Voice = strings.TrimSpace(p.Voice)
	p.Language = strings.TrimSpace(p.Language)
	p.UserName = strings.TrimSpace(p.UserName)
	if p.Voice == "" {
		p.Voice = DefaultVoice
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	return p
}
