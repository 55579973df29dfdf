package tools

import (
	"context"
	"strings"
)

// SendFunc delivers a message to a channel chat. Wired to the bus's
// outbound publish by the agent loop.
type SendFunc func(channel, chatID, content string)

// MessageTool sends a message to the user mid-turn, before the final
// response. Useful for progress notes during long tool sequences.
type MessageTool struct {
	send       SendFunc
	sessionKey func(ctx context.Context) string
}

// NewMessageTool creates a MessageTool. sessionKey supplies the calling
// session's key as the default destination.
func NewMessageTool(send SendFunc, sessionKey func(ctx context.Context) string) *MessageTool {
	return &MessageTool{send: send, sessionKey: sessionKey}
}

func (t *MessageTool) Name() string { return "send_message" }

func (t *MessageTool) Mutating() bool { return true }

func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, without ending the turn. Defaults to the current conversation; pass channel and chat_id to address another one."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The message text to send",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Optional destination channel (default: current)",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Optional destination chat id (default: current)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := GetString(params, "content", "")
	if content == "" {
		return "Error: content is required", nil
	}

	channel := GetString(params, "channel", "")
	chatID := GetString(params, "chat_id", "")
	if channel == "" || chatID == "" {
		defChannel, defChat := splitKey(t.sessionKey(ctx))
		if channel == "" {
			channel = defChannel
		}
		if chatID == "" {
			chatID = defChat
		}
	}
	if channel == "" {
		return "Error: no destination: not running inside a conversation and no channel given", nil
	}

	t.send(channel, chatID, content)
	return "Message sent.", nil
}

func splitKey(sessionKey string) (channel, chatID string) {
	if i := strings.Index(sessionKey, ":"); i >= 0 {
		return sessionKey[:i], sessionKey[i+1:]
	}
	return sessionKey, ""
}
