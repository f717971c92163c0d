// internal/game/win.go
package game

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/role"
)

// Result is the final outcome of a game.
type Result struct {
	Winner  role.Team               `json:"winner,omitempty"`
	Draw    bool                    `json:"draw"`
	Reason  string                  `json:"reason"`
	Day     int                     `json:"day"`
	Winners []uuid.UUID             `json:"winners,omitempty"`
	Roles   map[uuid.UUID]role.Role `json:"roles,omitempty"`
}

// Evaluate reports whether the alive players end the game.
//
// Counts use species: werewolves against humans, with the fanatic counted as
// human and foxes counted on neither side. Nobody alive is a draw. When the
// two-team check ends the game while a fox is alive, the fox team wins
// instead.
func Evaluate(players []Player) (Result, bool) {
	var wolves, humans, foxes int
	for _, p := range players {
		if !p.alive() {
			continue
		}
		switch p.info().Species {
		case role.SpeciesWolf:
			wolves++
		case role.SpeciesFox:
			foxes++
		default:
			humans++
		}
	}

	var res Result
	switch {
	case wolves+humans+foxes == 0:
		return Result{Draw: true, Reason: "no players alive"}, true
	case wolves == 0:
		res = Result{Winner: role.TeamVillage, Reason: "werewolves eliminated"}
	case wolves >= humans:
		res = Result{Winner: role.TeamWerewolf, Reason: "werewolves reached parity"}
	default:
		return Result{}, false
	}
	if foxes > 0 {
		res = Result{Winner: role.TeamFox, Reason: "fox survived to the end"}
	}

	for _, p := range players {
		if p.Status != StatusSpectator && p.info().Team == res.Winner {
			res.Winners = append(res.Winners, p.ID)
		}
	}
	return res, true
}
