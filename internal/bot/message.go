// Package bot is the worker side of botpanel: it receives chat messages,
// answers them from the active rule set and keeps the PID file the panel
// supervises.
package bot

import "context"

// Message is an inbound chat message with a way to reply in its channel.
type Message interface {
	AuthorID() string
	AuthorIsBot() bool
	// IsSelf reports whether the bot itself sent the message.
	IsSelf() bool
	ChannelID() string
	Content() string
	Send(ctx context.Context, text string) error
}

// Handler processes inbound messages. Handlers report failures through
// logging; a message is never retried.
type Handler interface {
	HandleMessage(ctx context.Context, m Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message)

func (f HandlerFunc) HandleMessage(ctx context.Context, m Message) { f(ctx, m) }
