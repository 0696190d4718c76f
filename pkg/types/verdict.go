package types

import "fmt"

// answer to "do you own project P?"
// produced fresh for every query, never cached
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictIsMine
	VerdictIsNotMine
	VerdictWaiting
	VerdictExclusiveModeActive
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnknown:
		return "unknown"
	case VerdictIsMine:
		return "is_mine"
	case VerdictIsNotMine:
		return "is_not_mine"
	case VerdictWaiting:
		return "waiting"
	case VerdictExclusiveModeActive:
		return "exclusive_mode_active"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}
