package nostr

import "testing"

func Test_ParseEventFrame(t *testing.T) {
	payload := []byte(`["EVENT", "tx_relay_1", {"id":"abc","pubkey":"def","created_at":1,"kind":20012,"tags":[],"content":"{}","sig":"00"}]`)

	event, err := parseEventFrame(payload)
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if event == nil {
		t.Fatal("expected event")
	}
	if event.ID != "abc" || event.Kind != 20012 {
		t.Errorf("got %+v", event)
	}
}

func Test_ParseEventFrame_IgnoresOtherFrames(t *testing.T) {
	event, err := parseEventFrame([]byte(`["EOSE", "tx_relay_1"]`))
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if event != nil {
		t.Errorf("expected nil for non-EVENT frame, got %+v", event)
	}
}

func Test_ParseEventFrame_InvalidJSON(t *testing.T) {
	if _, err := parseEventFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
