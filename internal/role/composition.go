// internal/role/composition.go
package role

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

const (
	MinPlayers = 4
	MaxPlayers = 20
)

// Composition maps each role to how many copies are dealt.
type Composition map[Role]int

// Size is the total number of role cards.
func (c Composition) Size() int {
	n := 0
	for _, count := range c {
		n += count
	}
	return n
}

// Clone returns an independent copy.
func (c Composition) Clone() Composition {
	out := make(Composition, len(c))
	for r, n := range c {
		out[r] = n
	}
	return out
}

// DefaultComposition returns the standard deal for n players.
func DefaultComposition(n int) Composition {
	c := Composition{Seer: 1}
	switch {
	case n >= 16:
		c[Werewolf] = 3
	case n >= 8:
		c[Werewolf] = 2
	default:
		c[Werewolf] = 1
	}
	if n >= 6 {
		c[Medium] = 1
	}
	if n >= 5 {
		c[Hunter] = 1
	}
	if n >= 10 {
		c[Fanatic] = 1
	}
	if n >= 13 {
		c[Fox] = 1
	}
	if n >= 17 {
		c[Immoralist] = 1
	}
	if rest := n - c.Size(); rest > 0 {
		c[Villager] = rest
	}
	return c
}

// Validate checks that c deals exactly n cards of known roles, that at least
// one werewolf is present and that werewolves start outnumbered.
func (c Composition) Validate(n int) error {
	if n < MinPlayers || n > MaxPlayers {
		return fmt.Errorf("player count %d outside %d..%d", n, MinPlayers, MaxPlayers)
	}
	for r, count := range c {
		if _, ok := catalog[r]; !ok {
			return fmt.Errorf("unknown role %q", r)
		}
		if count < 0 {
			return fmt.Errorf("negative count for %s", r)
		}
	}
	if c.Size() != n {
		return fmt.Errorf("composition deals %d roles for %d players", c.Size(), n)
	}
	if c[Werewolf] < 1 {
		return fmt.Errorf("composition needs at least one werewolf")
	}
	if c[Immoralist] > 0 && c[Fox] == 0 {
		return fmt.Errorf("immoralist requires a fox")
	}
	humans := 0
	for r, count := range c {
		if MustLookup(r).Species == SpeciesHuman {
			humans += count
		}
	}
	if c[Werewolf] >= humans {
		return fmt.Errorf("werewolves would win immediately")
	}
	return nil
}

// Assign deals comp to ids using rng. The result is a bijection from ids to
// roles with exactly comp[r] players holding r.
func Assign(ids []uuid.UUID, comp Composition, rng *rand.Rand) (map[uuid.UUID]Role, error) {
	if err := comp.Validate(len(ids)); err != nil {
		return nil, err
	}
	deck := make([]Role, 0, len(ids))
	for _, r := range order {
		for i := 0; i < comp[r]; i++ {
			deck = append(deck, r)
		}
	}
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	out := make(map[uuid.UUID]Role, len(ids))
	for i, id := range ids {
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("duplicate player %s", id)
		}
		out[id] = deck[i]
	}
	return out, nil
}
