package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/tideclaw/tideclaw/internal/bus"
)

// CLIChannel is an interactive terminal channel: stdin lines become
// inbound messages, agent replies print to stdout.
type CLIChannel struct {
	bus    *bus.MessageBus
	chatID string
	in     io.Reader
	out    io.Writer

	mu      sync.Mutex
	stopped bool
}

// NewCLIChannel creates a CLI channel bound to the given streams.
func NewCLIChannel(b *bus.MessageBus, chatID string, in io.Reader, out io.Writer) *CLIChannel {
	if chatID == "" {
		chatID = "default"
	}
	return &CLIChannel{bus: b, chatID: chatID, in: in, out: out}
}

func (c *CLIChannel) Name() string { return "cli" }

// Start reads lines until ctx is cancelled or input closes. It registers
// itself as the outbound subscriber for "cli".
func (c *CLIChannel) Start(ctx context.Context) error {
	c.bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) error {
		return c.Send(context.Background(), msg)
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				c.prompt()
				continue
			}
			if text == "/quit" || text == "/exit" {
				return nil
			}
			c.bus.PublishInbound(&bus.InboundMessage{
				Channel:        c.Name(),
				SenderID:       "user",
				ChatID:         c.chatID,
				Content:        text,
				IdempotencyKey: "cli:" + uuid.NewString(),
				Timestamp:      time.Now(),
			})
		}
	}
}

func (c *CLIChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

// Send prints one agent reply.
func (c *CLIChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	fmt.Fprintf(c.out, "\n%s %s\n", color.CyanString("tideclaw>"), msg.Content)
	c.prompt()
	return nil
}

func (c *CLIChannel) prompt() {
	fmt.Fprint(c.out, color.HiBlackString("you> "))
}
