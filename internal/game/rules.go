// internal/game/rules.go
package game

import (
	"fmt"
	"time"

	"github.com/jason-s-yu/werewolf/internal/role"
)

// Rules are the per-channel game settings copied into each new game.
type Rules struct {
	PreSec             int              `json:"preSec"`             // role reveal before day 1
	DaySec             int              `json:"daySec"`             // 0 disables the day timer
	NightSec           int              `json:"nightSec"`           // 0 disables the night timer
	MaxDays            int              `json:"maxDays"`            // 0 = unlimited; otherwise draw after this day's night
	TieEliminatesAll   bool             `json:"tieEliminatesAll"`   // a tied vote executes every leader
	FoxImmuneToAttack  bool             `json:"foxImmuneToAttack"`  // werewolf attacks on the fox fail
	FoxDiesWhenDivined bool             `json:"foxDiesWhenDivined"` // fortune on the fox kills it
	Composition        role.Composition `json:"composition,omitempty"`
}

// DefaultRules returns the settings new channels start with.
func DefaultRules() Rules {
	return Rules{
		PreSec:             20,
		DaySec:             300,
		NightSec:           120,
		FoxImmuneToAttack:  true,
		FoxDiesWhenDivined: true,
	}
}

// Clone returns a copy that shares no maps with r.
func (r Rules) Clone() Rules {
	if r.Composition != nil {
		r.Composition = r.Composition.Clone()
	}
	return r
}

// CompositionFor returns the custom composition, or the default one for n.
func (r Rules) CompositionFor(n int) role.Composition {
	if len(r.Composition) > 0 {
		return r.Composition.Clone()
	}
	return role.DefaultComposition(n)
}

// Validate checks the rules can run a game of n players.
func (r Rules) Validate(n int) error {
	if r.PreSec < 0 || r.DaySec < 0 || r.NightSec < 0 || r.MaxDays < 0 {
		return fmt.Errorf("durations and day limit must be non-negative")
	}
	return r.CompositionFor(n).Validate(n)
}

// PhaseDuration is how long phase p lasts in units of unit. Zero means the
// phase only ends on completion or a forced advance.
func (r Rules) PhaseDuration(p Phase, unit time.Duration) time.Duration {
	switch p {
	case PhasePre:
		return time.Duration(r.PreSec) * unit
	case PhaseDay:
		return time.Duration(r.DaySec) * unit
	case PhaseNight:
		return time.Duration(r.NightSec) * unit
	default:
		return 0
	}
}

// Update applies the keys present in newRules. Absent or nil keys keep their
// current value. On error r is left partially updated, so callers update a copy.
func (r *Rules) Update(newRules map[string]interface{}) error {
	assignBool := func(field *bool, key string) error {
		if val, exists := newRules[key]; exists && val != nil {
			b, ok := val.(bool)
			if !ok {
				return fmt.Errorf("invalid type for %s", key)
			}
			*field = b
		}
		return nil
	}
	assignInt := func(field *int, key string) error {
		if val, exists := newRules[key]; exists && val != nil {
			n, err := AsInt(val)
			if err != nil {
				return fmt.Errorf("invalid type for %s", key)
			}
			if n < 0 {
				return fmt.Errorf("%s must be non-negative", key)
			}
			*field = n
		}
		return nil
	}

	for key, field := range map[string]*int{
		"preSec":   &r.PreSec,
		"daySec":   &r.DaySec,
		"nightSec": &r.NightSec,
		"maxDays":  &r.MaxDays,
	} {
		if err := assignInt(field, key); err != nil {
			return err
		}
	}
	for key, field := range map[string]*bool{
		"tieEliminatesAll":   &r.TieEliminatesAll,
		"foxImmuneToAttack":  &r.FoxImmuneToAttack,
		"foxDiesWhenDivined": &r.FoxDiesWhenDivined,
	} {
		if err := assignBool(field, key); err != nil {
			return err
		}
	}

	if val, exists := newRules["composition"]; exists {
		if val == nil {
			r.Composition = nil
			return nil
		}
		m, ok := val.(map[string]interface{})
		if !ok {
			return fmt.Errorf("invalid type for composition")
		}
		comp := make(role.Composition, len(m))
		for name, raw := range m {
			if _, known := role.Lookup(role.Role(name)); !known {
				return fmt.Errorf("unknown role %q", name)
			}
			n, err := AsInt(raw)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count for %s", name)
			}
			if n > 0 {
				comp[role.Role(name)] = n
			}
		}
		r.Composition = comp
	}
	return nil
}

// AsInt converts a decoded JSON number.
func AsInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
