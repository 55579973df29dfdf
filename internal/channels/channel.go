// Package channels defines the boundary between the runtime and chat
// surfaces. A channel turns user input into inbound bus messages and
// delivers outbound messages back.
package channels

import (
	"context"

	"github.com/tideclaw/tideclaw/internal/bus"
)

// Channel is one chat surface (CLI, or a future messaging platform).
type Channel interface {
	// Name returns the channel name used in session keys (e.g. "cli").
	Name() string
	// Start begins listening for input. It returns when ctx is cancelled
	// or the input source is exhausted.
	Start(ctx context.Context) error
	// Stop shuts the channel down.
	Stop() error
	// Send delivers one outbound message.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}
