// Package intent classifies requests into the action kind that should serve them.
package intent

// Intent is the classified category of a request. The zero value is Unknown,
// which every dispatcher must treat like Conversation.
type Intent int

const (
	Unknown Intent = iota
	Conversation
	Command
	Query
)

func (i Intent) String() string {
	switch i {
	case Conversation:
		return "conversation"
	case Command:
		return "command"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}
