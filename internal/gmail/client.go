package gmail

import "context"

// Client is the narrow Gmail surface required by the unsubscriber.
type Client interface {
	// List returns one page of message IDs matching q. An empty pageToken
	// requests the first page.
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	// GetFull fetches the complete MIME tree of a message.
	GetFull(ctx context.Context, id MessageID) (Message, error)
}

// MaxPageSize is the largest page the Messages.List endpoint accepts.
const MaxPageSize = 500
