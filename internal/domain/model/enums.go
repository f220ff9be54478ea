package model

import "strings"

// PlayerClass is the in-game class of a client entity. The upstream parser
// reports it as a lowercase string; tables store the numeric code so every
// column stays numeric.
type PlayerClass int64

const (
	ClassOther PlayerClass = iota
	ClassScout
	ClassSniper
	ClassSoldier
	ClassDemoman
	ClassMedic
	ClassHeavy
	ClassPyro
	ClassSpy
	ClassEngineer
)

// ParsePlayerClass maps a decoded class string to its code. Unrecognized
// strings map to ClassOther rather than failing, matching the tolerant
// field handling elsewhere.
func ParsePlayerClass(s string) PlayerClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scout":
		return ClassScout
	case "sniper":
		return ClassSniper
	case "soldier":
		return ClassSoldier
	case "demoman":
		return ClassDemoman
	case "medic":
		return ClassMedic
	case "heavy":
		return ClassHeavy
	case "pyro":
		return ClassPyro
	case "spy":
		return ClassSpy
	case "engineer":
		return ClassEngineer
	default:
		return ClassOther
	}
}

// Team is the side a client entity plays on.
type Team int64

const (
	TeamOther Team = iota
	TeamSpectator
	TeamRed
	TeamBlue
)

// ParseTeam maps a decoded team string to its code.
func ParseTeam(s string) Team {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spectator":
		return TeamSpectator
	case "red":
		return TeamRed
	case "blue":
		return TeamBlue
	default:
		return TeamOther
	}
}

// LifeState is the alive/dead state of a client entity.
type LifeState int64

const (
	LifeAlive LifeState = iota
	LifeDying
	LifeDeath
	LifeRespawnable
)

// ParseLifeState maps a decoded life-state string to its code. The upstream
// parser defaults to alive, so unrecognized strings do too.
func ParseLifeState(s string) LifeState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dying":
		return LifeDying
	case "death":
		return LifeDeath
	case "respawnable":
		return LifeRespawnable
	default:
		return LifeAlive
	}
}

// BotAccountIDMax is the highest account id used by in-game bots. Real
// players always carry larger ids, so sources can skip bot records by
// comparing against this bound.
const BotAccountIDMax = 256
