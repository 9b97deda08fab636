package relayconfig

import (
	"context"
	"testing"
)

func Test_ParseRelayID_Default(t *testing.T) {
	id, err := parseRelayID([]string{"tx-relay-server"})
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if id != 1 {
		t.Errorf("got %d, want 1", id)
	}
}

func Test_ParseRelayID_Explicit(t *testing.T) {
	id, err := parseRelayID([]string{"tx-relay-server", "2"})
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if id != 2 {
		t.Errorf("got %d, want 2", id)
	}
}

func Test_ParseRelayID_Invalid(t *testing.T) {
	if _, err := parseRelayID([]string{"tx-relay-server", "not-a-number"}); err == nil {
		t.Fatal("expected error for non-numeric relay_id")
	}
}

func Test_ResolveChain(t *testing.T) {
	ctx := context.Background()

	if got := resolveChain(ctx, "testnet4"); got != ChainTestnet4 {
		t.Errorf("got %s, want testnet4", got)
	}
	if got := resolveChain(ctx, "regtest"); got != ChainRegtest {
		t.Errorf("got %s, want regtest", got)
	}
	if got := resolveChain(ctx, ""); got != ChainRegtest {
		t.Errorf("got %s, want regtest for empty input", got)
	}
	if got := resolveChain(ctx, "mainnet"); got != ChainRegtest {
		t.Errorf("got %s, want regtest fallback for unknown chain", got)
	}
}
