package permissions

import "strings"

// State is the tri-state value edited in the permission editor.
type State string

const (
	StateAllow   State = "allow"
	StateDeny    State = "deny"
	StateInherit State = "inherit"
)

// Overrides is the sparse per-user map persisted by the backend. An absent key
// means the catalog default applies.
type Overrides map[string]bool

// States maps catalog keys to editor states.
type States map[string]State

func defaultState(key string) State {
	if DefaultBoolOf(key) {
		return StateAllow
	}
	return StateDeny
}

// Effective resolves key for the given overrides.
func Effective(o Overrides, key string) bool {
	if v, ok := o[key]; ok {
		return v
	}
	return DefaultBoolOf(key)
}

// StatesFromOverrides expands overrides to one allow/deny state per catalog key.
func StatesFromOverrides(o Overrides) States {
	out := make(States, len(catalog))
	for _, d := range catalog {
		v, ok := o[d.Key]
		switch {
		case ok && v:
			out[d.Key] = StateAllow
		case ok:
			out[d.Key] = StateDeny
		default:
			out[d.Key] = defaultState(d.Key)
		}
	}
	return out
}

// DeltaFromStates returns the minimal set of overrides that moves existing to
// the desired states. Keys missing from desired, or set to inherit, are treated
// as their catalog default.
func DeltaFromStates(existing Overrides, desired States) Overrides {
	delta := Overrides{}
	for _, d := range catalog {
		st, ok := desired[d.Key]
		if !ok || st == StateInherit || st == "" {
			st = defaultState(d.Key)
		}
		want := st == StateAllow
		had, present := existing[d.Key]
		if !present {
			if want != DefaultBoolOf(d.Key) {
				delta[d.Key] = want
			}
			continue
		}
		if had != want {
			delta[d.Key] = want
		}
	}
	return delta
}

// BuildInitialOverridesForCreate converts editor states for a new user into an
// override map. Inherit is omitted, and so is any explicit state that matches
// the catalog default.
func BuildInitialOverridesForCreate(states States) Overrides {
	out := Overrides{}
	for _, d := range catalog {
		var want bool
		switch states[d.Key] {
		case StateAllow:
			want = true
		case StateDeny:
			want = false
		default:
			continue
		}
		if want != DefaultBoolOf(d.Key) {
			out[d.Key] = want
		}
	}
	return out
}

// Merge applies delta on top of existing and returns a new map. Unknown keys in
// either input are dropped.
func Merge(existing, delta Overrides) Overrides {
	out := NormalizeOverrides(existing)
	for k, v := range delta {
		if Known(k) {
			out[k] = v
		}
	}
	return out
}

// NormalizeOverrides copies o keeping only catalog keys.
func NormalizeOverrides(o Overrides) Overrides {
	out := make(Overrides, len(o))
	for k, v := range o {
		if Known(k) {
			out[k] = v
		}
	}
	return out
}

// ParseState normalizes a wire value. Accepted inputs are the strings
// allow/deny/inherit (any case) and booleans; anything else is inherit.
func ParseState(v any) State {
	switch t := v.(type) {
	case bool:
		if t {
			return StateAllow
		}
		return StateDeny
	case string:
		switch State(strings.ToLower(strings.TrimSpace(t))) {
		case StateAllow:
			return StateAllow
		case StateDeny:
			return StateDeny
		}
	case State:
		return ParseState(string(t))
	}
	return StateInherit
}

// ParseStates normalizes a raw editor payload, dropping unknown keys.
func ParseStates(raw map[string]any) States {
	out := make(States, len(raw))
	for k, v := range raw {
		if !Known(k) {
			continue
		}
		out[k] = ParseState(v)
	}
	return out
}
