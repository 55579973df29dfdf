package universe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/tools"
)

func TestDelegateEndToEnd(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)

	client := NewClient(config.UniverseConfig{
		CallTimeout: 5 * time.Second,
		Peers: []config.UniversePeerConfig{
			{Name: "buoy", Endpoint: srv.Addr()},
		},
	})
	res, err := client.Delegate(context.Background(), tools.DelegateRequest{
		Kind: KindEcho, Prompt: "ahoy",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Node != "buoy" || res.Output != "ahoy" {
		t.Errorf("res = %+v", res)
	}
}

func TestDelegatePrefersCheapestCapablePeer(t *testing.T) {
	c := NewClient(config.UniverseConfig{Peers: []config.UniversePeerConfig{
		{Name: "pricey", Endpoint: "a:1", Capabilities: []string{KindChat}, PricePoints: 5},
		{Name: "narrow", Endpoint: "b:1", Capabilities: []string{KindAgent}, PricePoints: 1},
		{Name: "cheap", Endpoint: "c:1", Capabilities: []string{KindChat}, PricePoints: 2},
	}})

	peer, err := c.pick(tools.DelegateRequest{Kind: KindChat})
	if err != nil {
		t.Fatal(err)
	}
	if peer.Name != "cheap" {
		t.Errorf("picked %s, want cheap", peer.Name)
	}

	// Price cap excludes everyone capable.
	if _, err := c.pick(tools.DelegateRequest{Kind: KindChat, MaxPricePoints: 1}); err == nil {
		t.Error("expected no eligible peer under price cap")
	}
}

func TestDelegateEmptyCapabilitiesServeEverything(t *testing.T) {
	c := NewClient(config.UniverseConfig{Peers: []config.UniversePeerConfig{
		{Name: "generalist", Endpoint: "a:1"},
	}})
	peer, err := c.pick(tools.DelegateRequest{Kind: KindAgent})
	if err != nil {
		t.Fatal(err)
	}
	if peer.Name != "generalist" {
		t.Errorf("picked %s", peer.Name)
	}
}

func TestDelegateToNamedPeer(t *testing.T) {
	c := NewClient(config.UniverseConfig{Peers: []config.UniversePeerConfig{
		{Name: "alpha", Endpoint: "a:1"},
		{Name: "beta", Endpoint: "b:1"},
	}})

	peer, err := c.pick(tools.DelegateRequest{Kind: KindEcho, ToNode: "beta"})
	if err != nil || peer.Name != "beta" {
		t.Errorf("peer = %+v, err = %v", peer, err)
	}
	if _, err := c.pick(tools.DelegateRequest{Kind: KindEcho, ToNode: "ghost"}); err == nil ||
		!strings.Contains(err.Error(), "unknown peer") {
		t.Errorf("err = %v", err)
	}
}

func TestDelegateReportsPeerFailure(t *testing.T) {
	srv := testNode(t, config.UniverseConfig{}, &fakeProvider{}, nil)
	client := NewClient(config.UniverseConfig{
		CallTimeout: 5 * time.Second,
		Peers:       []config.UniversePeerConfig{{Name: "buoy", Endpoint: srv.Addr()}},
	})

	_, err := client.Delegate(context.Background(), tools.DelegateRequest{
		Kind: KindAgent, Prompt: "do things",
	})
	if err == nil || !strings.Contains(err.Error(), "peer buoy") {
		t.Errorf("err = %v", err)
	}
}
