package productspec

// Channel labels used by the dashboard.
const (
	StableLabel = "stable"
	BetaLabel   = "beta"
)

// ChannelToLabel maps a vendor's release channel name to the dashboard's
// channel label, or "" when the channel is unknown.
func ChannelToLabel(channel string) string {
	switch channel {
	case "release", StableLabel:
		return StableLabel
	case BetaLabel:
		return BetaLabel
	case "dev", "nightly", "preview", ExperimentalLabel:
		return ExperimentalLabel
	}
	return ""
}
