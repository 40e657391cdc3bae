package session

// DefaultWindow is the number of recent interactions kept per session.
const DefaultWindow = 5

// Entry is one question/answer pair in a session's history.
type Entry struct {
	UserMessage string `json:"user_message"`
	BotResponse string `json:"bot_response"`
}

// Append returns h with e appended, truncated to the last window entries.
// The input slice is never modified. A window <= 0 uses DefaultWindow.
func Append(h []Entry, e Entry, window int) []Entry {
	if window <= 0 {
		window = DefaultWindow
	}
	out := make([]Entry, 0, len(h)+1)
	out = append(out, h...)
	out = append(out, e)
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}
