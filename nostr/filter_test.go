package nostr

import (
	"encoding/json"
	"testing"
)

func Test_NewBroadcastFilter_MarshalsExpectedShape(t *testing.T) {
	filter := NewBroadcastFilter(1700000000)

	raw, err := json.Marshal(filter)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}

	kinds, ok := decoded["kinds"].([]interface{})
	if !ok || len(kinds) != 1 || int(kinds[0].(float64)) != KindTxBroadcast {
		t.Errorf("unexpected kinds: %+v", decoded["kinds"])
	}

	since, ok := decoded["since"].(float64)
	if !ok || int64(since) != 1700000000 {
		t.Errorf("unexpected since: %+v", decoded["since"])
	}

	tagValues, ok := decoded["#t"].([]interface{})
	if !ok || len(tagValues) != 2 {
		t.Fatalf("unexpected #t tag: %+v", decoded["#t"])
	}
	if tagValues[0] != "bitcoin" || tagValues[1] != "transaction" {
		t.Errorf("unexpected #t values: %+v", tagValues)
	}
}
