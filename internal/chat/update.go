package chat

// UpdateKind classifies a conversation update.
type UpdateKind int

const (
	// UpdateToken carries a streamed fragment appended to the assistant message.
	UpdateToken UpdateKind = iota
	// UpdateDone marks the end of the assistant response.
	UpdateDone
	// UpdateSystem carries a system message added to the history.
	UpdateSystem
	// UpdateServerID reports the durable id assigned to the assistant message.
	UpdateServerID
	// UpdateAttachment reports an upload finishing or failing.
	UpdateAttachment
	// UpdateHistory reports that the history was replaced or edited.
	UpdateHistory
)

// Update is published on Conversation.Updates whenever visible state changes.
type Update struct {
	Kind      UpdateKind
	MessageID string
	Text      string
}
