// internal/role/role.go
package role

// Role identifies a role card dealt to a player at game start.
type Role string

const (
	Villager   Role = "villager"
	Werewolf   Role = "werewolf"
	Seer       Role = "seer"
	Medium     Role = "medium"
	Hunter     Role = "hunter"
	Fanatic    Role = "fanatic"
	Fox        Role = "fox"
	Immoralist Role = "immoralist"
)

// Team is the side a role wins with.
type Team string

const (
	TeamVillage  Team = "village"
	TeamWerewolf Team = "werewolf"
	TeamFox      Team = "fox"
)

// Species is what divination and mediumship reveal about a player.
type Species string

const (
	SpeciesHuman Species = "human"
	SpeciesWolf  Species = "werewolf"
	SpeciesFox   Species = "fox"
)

// Action is the night action a role may submit.
type Action string

const (
	ActionNone    Action = ""
	ActionFortune Action = "fortune"
	ActionGuard   Action = "guard"
	ActionAttack  Action = "attack"
)

// Alliance groups roles that learn each other's identity at game start.
type Alliance string

const (
	AllianceNone     Alliance = ""
	AllianceWerewolf Alliance = "werewolf"
	AllianceFox      Alliance = "fox"
)

// Info is the static description of a role.
type Info struct {
	Role         Role     `json:"role"`
	Team         Team     `json:"team"`
	Species      Species  `json:"species"`
	NightAction  Action   `json:"nightAction,omitempty"`
	CanVote      bool     `json:"canVote"`
	Alliance     Alliance `json:"alliance,omitempty"`
	AllianceChat bool     `json:"allianceChat"`
}

// order is the canonical listing order, used for deterministic role dealing.
var order = []Role{Werewolf, Seer, Medium, Hunter, Fanatic, Fox, Immoralist, Villager}

var catalog = map[Role]Info{
	Villager:   {Role: Villager, Team: TeamVillage, Species: SpeciesHuman, CanVote: true},
	Werewolf:   {Role: Werewolf, Team: TeamWerewolf, Species: SpeciesWolf, NightAction: ActionAttack, CanVote: true, Alliance: AllianceWerewolf, AllianceChat: true},
	Seer:       {Role: Seer, Team: TeamVillage, Species: SpeciesHuman, NightAction: ActionFortune, CanVote: true},
	Medium:     {Role: Medium, Team: TeamVillage, Species: SpeciesHuman, CanVote: true},
	Hunter:     {Role: Hunter, Team: TeamVillage, Species: SpeciesHuman, NightAction: ActionGuard, CanVote: true},
	Fanatic:    {Role: Fanatic, Team: TeamWerewolf, Species: SpeciesHuman, CanVote: true},
	Fox:        {Role: Fox, Team: TeamFox, Species: SpeciesFox, CanVote: true, Alliance: AllianceFox},
	Immoralist: {Role: Immoralist, Team: TeamFox, Species: SpeciesHuman, CanVote: true, Alliance: AllianceFox},
}

// Lookup returns the static info for r.
func Lookup(r Role) (Info, bool) {
	info, ok := catalog[r]
	return info, ok
}

// MustLookup is Lookup for roles already validated, e.g. ones held by a game.
func MustLookup(r Role) Info {
	info, ok := catalog[r]
	if !ok {
		panic("role: unknown role " + string(r))
	}
	return info
}

// All lists every known role in canonical order.
func All() []Role {
	out := make([]Role, len(order))
	copy(out, order)
	return out
}

// KnowsPeer reports whether a player holding viewer learns at game start that
// a player holding other belongs to the same alliance. Foxes do not learn who
// their immoralists are.
func KnowsPeer(viewer, other Role) bool {
	vi, oi := MustLookup(viewer), MustLookup(other)
	if vi.Alliance == AllianceNone || vi.Alliance != oi.Alliance {
		return false
	}
	if viewer == Fox && other != Fox {
		return false
	}
	return true
}
