package quality

// Level is a named resolution rung of the playback ladder.
type Level string

const (
	Level480p  Level = "480p"
	Level720p  Level = "720p"
	Level1080p Level = "1080p"
)

const defaultLevelBitrate int64 = 1_000_000

var levelBitrates = map[Level]int64{
	Level480p:  1_000_000,
	Level720p:  2_500_000,
	Level1080p: 5_000_000,
}

// RequiredBitrate is the nominal bandwidth in bps needed to play the level.
// Unknown levels are treated like 480p.
func (l Level) RequiredBitrate() int64 {
	if b, ok := levelBitrates[l]; ok {
		return b
	}
	return defaultLevelBitrate
}

func (l Level) IsKnown() bool {
	_, ok := levelBitrates[l]
	return ok
}

func (l Level) String() string {
	return string(l)
}
