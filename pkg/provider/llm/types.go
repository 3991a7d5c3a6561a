package llm

// Conversation roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name. The chat pipeline sets it to the
	// viewer's username on user turns.
	Name string
}
