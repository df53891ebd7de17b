package core

import "context"

// Conversation is the outbound side of the channel an event came from.
type Conversation interface {
	SendText(ctx context.Context, text string) error
	SendFile(ctx context.Context, name string, data []byte) error
}

type Attachment struct {
	Filename string
	URL      string
	// Resolve, when set, produces the URL lazily. Platforms whose file links
	// carry credentials use it to hand out an inline copy instead.
	Resolve func(ctx context.Context) (string, error)
}

// Location returns the URL the models should read the attachment from.
func (a Attachment) Location(ctx context.Context) (string, error) {
	if a.Resolve != nil {
		return a.Resolve(ctx)
	}
	return a.URL, nil
}

// Event is one inbound chat message, normalized across platforms.
type Event struct {
	Platform    string
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []Attachment
	Channel     Conversation
}
