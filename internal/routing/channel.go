package routing

import "strings"

// Channel identifies a delivery mechanism. Values are ordered by
// intrusiveness: a larger value interrupts the recipient harder.
type Channel int

const (
	ChannelInAppSilent Channel = iota + 1
	ChannelEmailDigest
	ChannelTeamChat
	ChannelUrgentText
	ChannelUrgentVoice
)

func (c Channel) String() string {
	switch c {
	case ChannelInAppSilent:
		return "in-app-silent"
	case ChannelEmailDigest:
		return "email-digest"
	case ChannelTeamChat:
		return "team-chat"
	case ChannelUrgentText:
		return "urgent-text"
	case ChannelUrgentVoice:
		return "urgent-voice"
	default:
		return "unknown"
	}
}

func (c Channel) Valid() bool {
	return c >= ChannelInAppSilent && c <= ChannelUrgentVoice
}

func ParseChannel(raw string) Channel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in-app-silent", "inapp", "in-app":
		return ChannelInAppSilent
	case "email-digest", "email":
		return ChannelEmailDigest
	case "team-chat", "chat":
		return ChannelTeamChat
	case "urgent-text", "text", "sms":
		return ChannelUrgentText
	case "urgent-voice", "voice":
		return ChannelUrgentVoice
	default:
		return 0
	}
}

// NextLessIntrusive returns the fallback channel one step below c, or 0 when
// c is already the least intrusive mechanism.
func (c Channel) NextLessIntrusive() Channel {
	if c <= ChannelInAppSilent {
		return 0
	}
	return c - 1
}

// ChannelNames renders a channel list for reason strings and logs.
func ChannelNames(chs []Channel) string {
	parts := make([]string, 0, len(chs))
	for _, c := range chs {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}
