package universe

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"slices"
	"time"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/tools"
)

// Client delegates tasks to configured peer nodes. Implements
// tools.Delegator for the universe_help tool.
type Client struct {
	peers   []config.UniversePeerConfig
	timeout time.Duration
}

// NewClient creates a Client over the configured peer list.
func NewClient(cfg config.UniverseConfig) *Client {
	return &Client{peers: cfg.Peers, timeout: cfg.CallTimeout}
}

// Delegate picks an eligible peer and runs the task there. With ToNode set
// the named peer is called directly; otherwise the cheapest peer serving
// the required capability wins, ties broken at random.
func (c *Client) Delegate(ctx context.Context, req tools.DelegateRequest) (tools.DelegateResult, error) {
	if req.Kind == "" {
		req.Kind = KindAgent
	}
	peer, err := c.pick(req)
	if err != nil {
		return tools.DelegateResult{}, err
	}

	out, err := CallNode(ctx, peer.Endpoint, peer.ServiceToken, req.Kind, req.Prompt, c.timeout)
	if err != nil {
		return tools.DelegateResult{}, fmt.Errorf("peer %s: %w", peer.Name, err)
	}
	return tools.DelegateResult{Node: peer.Name, Output: out}, nil
}

func (c *Client) pick(req tools.DelegateRequest) (config.UniversePeerConfig, error) {
	if req.ToNode != "" {
		for _, p := range c.peers {
			if p.Name == req.ToNode {
				return p, nil
			}
		}
		return config.UniversePeerConfig{}, fmt.Errorf("unknown peer: %s", req.ToNode)
	}

	capability := req.RequireCapability
	if capability == "" {
		capability = req.Kind
	}
	var eligible []config.UniversePeerConfig
	for _, p := range c.peers {
		if len(p.Capabilities) > 0 && !slices.Contains(p.Capabilities, capability) {
			continue
		}
		if req.MaxPricePoints > 0 && pricePoints(p) > req.MaxPricePoints {
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return config.UniversePeerConfig{}, fmt.Errorf("no eligible peer for %s", capability)
	}

	minPrice := pricePoints(eligible[0])
	for _, p := range eligible[1:] {
		if pricePoints(p) < minPrice {
			minPrice = pricePoints(p)
		}
	}
	var cheapest []config.UniversePeerConfig
	for _, p := range eligible {
		if pricePoints(p) == minPrice {
			cheapest = append(cheapest, p)
		}
	}
	return cheapest[rand.Intn(len(cheapest))], nil
}

func pricePoints(p config.UniversePeerConfig) int {
	if p.PricePoints < 1 {
		return 1
	}
	return p.PricePoints
}

// CallNode sends one task_run to endpoint and waits for the matching
// result line.
func CallNode(ctx context.Context, endpoint, serviceToken, kind, prompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req, err := NewEnvelope(TypeTaskRun, TaskRunPayload{
		Kind:         kind,
		Prompt:       prompt,
		ServiceToken: serviceToken,
	})
	if err != nil {
		return "", err
	}
	data, err := req.Encode()
	if err != nil {
		return "", err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return "", fmt.Errorf("send task: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := ParseEnvelope(line)
		if err != nil || env.ID != req.ID {
			continue
		}
		switch env.Type {
		case TypeTaskResult:
			var result TaskResultPayload
			if err := env.DecodePayload(&result); err != nil {
				return "", err
			}
			return result.Content, nil
		case TypeTaskError, TypeError:
			var failure ErrorPayload
			env.DecodePayload(&failure)
			if failure.Message == "" {
				failure.Message = "task failed"
			}
			return "", fmt.Errorf("%s", failure.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return "", fmt.Errorf("connection closed before response")
}
