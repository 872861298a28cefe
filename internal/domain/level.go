package domain

import (
	"fmt"
	"strings"
)

// AlertLevel is the tier assigned by the classifier.
// MIN < MEDIUM < MAX are real tiers; LARGE_BUY and UPGRADE are re-notifications
// of an address that already reached MAX / MEDIUM.
type AlertLevel string

const (
	LevelMin      AlertLevel = "MIN"
	LevelMedium   AlertLevel = "MEDIUM"
	LevelMax      AlertLevel = "MAX"
	LevelLargeBuy AlertLevel = "LARGE_BUY"
	LevelUpgrade  AlertLevel = "UPGRADE"
)

// AllLevels in display order.
var AllLevels = []AlertLevel{LevelMin, LevelMedium, LevelMax, LevelLargeBuy, LevelUpgrade}

// IsReal reports whether the level is one of MIN, MEDIUM, MAX.
func (l AlertLevel) IsReal() bool {
	return l == LevelMin || l == LevelMedium || l == LevelMax
}

// Label is the human title used in messages.
func (l AlertLevel) Label() string {
	switch l {
	case LevelMin:
		return "NEW PAIR"
	case LevelMedium:
		return "MEDIUM"
	case LevelMax:
		return "MAX"
	case LevelLargeBuy:
		return "LARGE BUY"
	case LevelUpgrade:
		return "UPGRADE"
	default:
		return string(l)
	}
}

func ParseLevel(s string) (AlertLevel, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "MIN", "MEDIUM", "MAX", "LARGE_BUY", "UPGRADE":
		return AlertLevel(v), nil
	case "MED":
		return LevelMedium, nil
	case "LARGEBUY":
		return LevelLargeBuy, nil
	default:
		return "", fmt.Errorf("unknown alert level %q", s)
	}
}

// LevelSet is a set of levels. The zero value is an empty, read-only set;
// use Add which returns a new set.
type LevelSet map[AlertLevel]bool

func NewLevelSet(levels ...AlertLevel) LevelSet {
	s := make(LevelSet, len(levels))
	for _, l := range levels {
		s[l] = true
	}
	return s
}

func (s LevelSet) Has(l AlertLevel) bool { return s[l] }

// Add returns a copy of s with l added.
func (s LevelSet) Add(l AlertLevel) LevelSet {
	out := s.Clone()
	out[l] = true
	return out
}

func (s LevelSet) Clone() LevelSet {
	out := make(LevelSet, len(s)+1)
	for k, v := range s {
		if v {
			out[k] = true
		}
	}
	return out
}

// Slice returns the members in AllLevels order.
func (s LevelSet) Slice() []AlertLevel {
	out := make([]AlertLevel, 0, len(s))
	for _, l := range AllLevels {
		if s[l] {
			out = append(out, l)
		}
	}
	return out
}
