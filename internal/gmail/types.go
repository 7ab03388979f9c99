// internal/gmail/types.go
package gmail

// MessageID identifies a mailbox entry as returned by the listing call.
type MessageID string

type Query struct {
	Raw string // Gmail search string, passed through unvalidated (e.g., `category:promotions older_than:1y`)
}

// ListPage is one page of a Messages.List response. An empty NextPageToken
// marks the final page.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// Part is one node of a message's MIME tree. Data holds the body exactly as
// the API returned it (base64url, usually unpadded).
type Part struct {
	MimeType string
	Headers  map[string]string
	Data     string
	Parts    []Part
}

type Message struct {
	ID      MessageID
	Payload Part
}

// TopLevelParts returns the immediate children of the payload, or the payload
// itself when the message is not multipart. Nested multipart trees are not
// descended into.
func (m Message) TopLevelParts() []Part {
	if len(m.Payload.Parts) == 0 {
		return []Part{m.Payload}
	}
	return m.Payload.Parts
}
