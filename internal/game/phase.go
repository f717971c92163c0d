package game

// Phase is a stage of the game cycle.
type Phase string

const (
	PhasePre      Phase = "pre"
	PhaseDay      Phase = "day"
	PhaseNight    Phase = "night"
	PhaseFinished Phase = "finished"
)

var transitions = map[Phase][]Phase{
	PhasePre:   {PhaseDay, PhaseFinished},
	PhaseDay:   {PhaseNight, PhaseFinished},
	PhaseNight: {PhaseDay, PhaseFinished},
}

// CanTransitionTo reports whether next may follow p.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Status is a player's standing within a game.
type Status string

const (
	StatusAlive     Status = "alive"
	StatusDead      Status = "dead"
	StatusSpectator Status = "spectator" // left the game while alive
)

// Death causes recorded in history.
const (
	CauseExecution = "execution"
	CauseAttack    = "attack"
	CauseCurse     = "curse"
	CauseDespair   = "despair"
)
