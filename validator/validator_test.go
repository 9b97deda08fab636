package validator

import (
	"context"
	"testing"
	"time"

	"github.com/tokenized/tx-relay/rpcnode"
)

const sampleTxHex = "0100000001000000000000000000000000000000000000000000000000000000" +
	"0000000000ffffffff00ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828" +
	"e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac000" +
	"00000"

type fakeChecker struct {
	result *rpcnode.AcceptResult
	err    error
}

func (f *fakeChecker) TestAccept(ctx context.Context, txHex string) (*rpcnode.AcceptResult, error) {
	return f.result, f.err
}

func Test_Validate_Success(t *testing.T) {
	checker := &fakeChecker{result: &rpcnode.AcceptResult{Allowed: true}}
	v, err := New(DefaultConfig(), checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	txid, err := v.Validate(context.Background(), sampleTxHex)
	if err != nil {
		t.Fatalf("validate: %s", err)
	}
	if txid == nil {
		t.Fatal("expected txid")
	}
}

func Test_Validate_RecentlyProcessed(t *testing.T) {
	checker := &fakeChecker{result: &rpcnode.AcceptResult{Allowed: true}}
	v, err := New(DefaultConfig(), checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	if _, err := v.Validate(context.Background(), sampleTxHex); err != nil {
		t.Fatalf("first validate: %s", err)
	}

	if _, err := v.Validate(context.Background(), sampleTxHex); err == nil {
		t.Fatal("expected RecentlyProcessed on second validate")
	}
}

func Test_Validate_BitcoinCoreRejection(t *testing.T) {
	checker := &fakeChecker{result: &rpcnode.AcceptResult{Allowed: false, RejectReason: "min relay fee not met"}}
	v, err := New(DefaultConfig(), checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	_, err = v.Validate(context.Background(), sampleTxHex)
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func Test_Validate_InvalidHex(t *testing.T) {
	checker := &fakeChecker{result: &rpcnode.AcceptResult{Allowed: true}}
	v, err := New(DefaultConfig(), checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	if _, err := v.Validate(context.Background(), "not-hex"); err == nil {
		t.Fatal("expected invalid hex error")
	}
}

func Test_Validate_InvalidSize(t *testing.T) {
	checker := &fakeChecker{result: &rpcnode.AcceptResult{Allowed: true}}
	config := DefaultConfig()
	v, err := New(config, checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	// Short hex such as "aabb" fails to decode as a tx in phase 1 before the precheck even runs,
	// so directly exercise quickChecks instead.
	if err := quickChecks("aabb"); err == nil {
		t.Fatal("expected invalid size error")
	}

	_ = v
}

func Test_Validate_DisabledValidationSkipsPipeline(t *testing.T) {
	checker := &fakeChecker{err: nil, result: nil}
	config := DefaultConfig()
	config.EnableValidation = false
	v, err := New(config, checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	if _, err := v.Validate(context.Background(), sampleTxHex); err != nil {
		t.Fatalf("expected success with validation disabled, got %s", err)
	}
}

// Test_Validate_DisabledValidationIgnoresGarbageInput is the kill-switch guarantee: when
// validation is off, Validate never even attempts to parse the content, so garbage that isn't
// hex at all still succeeds.
func Test_Validate_DisabledValidationIgnoresGarbageInput(t *testing.T) {
	checker := &fakeChecker{err: nil, result: nil}
	config := DefaultConfig()
	config.EnableValidation = false
	v, err := New(config, checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	if _, err := v.Validate(context.Background(), "invalid_hex"); err != nil {
		t.Fatalf("expected success with validation disabled, got %s", err)
	}
}

func Test_Validate_CacheTTLExpiry(t *testing.T) {
	checker := &fakeChecker{result: &rpcnode.AcceptResult{Allowed: true}}
	config := DefaultConfig()
	config.CacheTTL = 10 * time.Millisecond
	v, err := New(config, checker)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	if _, err := v.Validate(context.Background(), sampleTxHex); err != nil {
		t.Fatalf("first validate: %s", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := v.Validate(context.Background(), sampleTxHex); err != nil {
		t.Fatalf("expected success after cache entry expired, got %s", err)
	}
}
