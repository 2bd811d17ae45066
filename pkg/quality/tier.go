package quality

import (
	"slices"
	"strings"
	"time"

	"github.com/thoas/go-funk"
)

// Tier is a subscription level.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"

	DefaultTier = TierBronze
)

// Policy holds the entitlements of a subscription tier.
// AllowedQualities is ordered ascending by required bitrate.
type Policy struct {
	Tier                  Tier
	MaxResolution         Level
	MaxBitrate            int64
	AllowedQualities      []Level
	ConcurrentStreamLimit int
	PriorityAccess        bool

	// per-tier playback tuning
	BufferThreshold        float64
	QualitySwitchThreshold float64
	MaxSessionDuration     time.Duration
	BufferSize             time.Duration
}

// platinum is kept for forward compatibility; the subscription directory
// does not currently assign it.
var policies = map[Tier]Policy{
	TierBronze: {
		Tier:                   TierBronze,
		MaxResolution:          Level480p,
		MaxBitrate:             1_000_000,
		AllowedQualities:       []Level{Level480p},
		ConcurrentStreamLimit:  1,
		BufferThreshold:        0.3,
		QualitySwitchThreshold: 0.4,
		MaxSessionDuration:     time.Hour,
		BufferSize:             10 * time.Second,
	},
	TierSilver: {
		Tier:                   TierSilver,
		MaxResolution:          Level720p,
		MaxBitrate:             2_500_000,
		AllowedQualities:       []Level{Level480p, Level720p},
		ConcurrentStreamLimit:  2,
		BufferThreshold:        0.2,
		QualitySwitchThreshold: 0.3,
		MaxSessionDuration:     2 * time.Hour,
		BufferSize:             15 * time.Second,
	},
	TierGold: {
		Tier:                   TierGold,
		MaxResolution:          Level1080p,
		MaxBitrate:             5_000_000,
		AllowedQualities:       []Level{Level480p, Level720p, Level1080p},
		ConcurrentStreamLimit:  3,
		BufferThreshold:        0.15,
		QualitySwitchThreshold: 0.2,
		MaxSessionDuration:     4 * time.Hour,
		BufferSize:             20 * time.Second,
	},
	TierPlatinum: {
		Tier:                   TierPlatinum,
		MaxResolution:          Level1080p,
		MaxBitrate:             8_000_000,
		AllowedQualities:       []Level{Level480p, Level720p, Level1080p},
		ConcurrentStreamLimit:  5,
		PriorityAccess:         true,
		BufferThreshold:        0.1,
		QualitySwitchThreshold: 0.15,
		MaxSessionDuration:     8 * time.Hour,
		BufferSize:             30 * time.Second,
	},
}

var tierOrder = []Tier{TierBronze, TierSilver, TierGold, TierPlatinum}

// PolicyFor returns the policy of the tier, falling back to bronze for
// unknown or empty tiers. Tier names are matched like ParseTier does. The
// returned value is a copy.
func PolicyFor(tier Tier) Policy {
	t, ok := ParseTier(string(tier))
	if !ok {
		t = DefaultTier
	}
	p := policies[t]
	p.AllowedQualities = slices.Clone(p.AllowedQualities)
	return p
}

// ParseTier matches a tier name ignoring case and surrounding space.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	return t, t.IsKnown()
}

// Tiers lists every tier from lowest to highest.
func Tiers() []Tier {
	return slices.Clone(tierOrder)
}

func (t Tier) IsKnown() bool {
	_, ok := policies[t]
	return ok
}

func (t Tier) String() string {
	return string(t)
}

// Allows reports whether the level is on the tier's ladder.
func (p Policy) Allows(level Level) bool {
	return funk.Contains(p.AllowedQualities, level)
}

func (p Policy) Lowest() Level {
	return p.AllowedQualities[0]
}

func (p Policy) Highest() Level {
	return p.AllowedQualities[len(p.AllowedQualities)-1]
}

// indexOf returns the position of level on the ladder, or -1.
func (p Policy) indexOf(level Level) int {
	return slices.Index(p.AllowedQualities, level)
}
