package origin

import (
	"testing"
	"time"

	"github.com/tokenized/tx-relay/bitcoin"
)

func Test_Tracker_MarkAndIsRemote(t *testing.T) {
	tracker := NewTracker()

	var txid bitcoin.Hash32
	txid[0] = 1

	if tracker.IsRemote(txid) {
		t.Fatal("expected not remote before marking")
	}

	tracker.MarkRemote(txid)

	if !tracker.IsRemote(txid) {
		t.Fatal("expected remote after marking")
	}
}

func Test_Tracker_Unbounded_NeverExpires(t *testing.T) {
	tracker := NewTracker()

	var txid bitcoin.Hash32
	txid[0] = 2
	tracker.MarkRemote(txid)

	if removed := tracker.Sweep(); removed != 0 {
		t.Errorf("expected no-op sweep on unbounded tracker, removed %d", removed)
	}
	if !tracker.IsRemote(txid) {
		t.Error("expected still remote")
	}
}

func Test_TrackerWithTTL_Expires(t *testing.T) {
	tracker := NewTrackerWithTTL(10 * time.Millisecond)

	var txid bitcoin.Hash32
	txid[0] = 3
	tracker.MarkRemote(txid)

	if !tracker.IsRemote(txid) {
		t.Fatal("expected remote immediately after marking")
	}

	time.Sleep(20 * time.Millisecond)

	if tracker.IsRemote(txid) {
		t.Error("expected expired entry to report not remote")
	}

	if removed := tracker.Sweep(); removed != 1 {
		t.Errorf("expected sweep to remove 1 entry, removed %d", removed)
	}
	if tracker.Len() != 0 {
		t.Errorf("expected tracker empty after sweep, len=%d", tracker.Len())
	}
}
