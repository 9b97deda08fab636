package nostr

import "encoding/json"

// Filter is the NIP-01 subscription filter this relay sends as ["REQ", sub_id, filter]. Only the
// fields this relay actually uses are modeled.
type Filter struct {
	Kinds []int      `json:"kinds,omitempty"`
	Tags  [][]string `json:"-"`
	Since int64      `json:"since,omitempty"`
}

// NewBroadcastFilter builds the fixed filter this relay subscribes with: kind 20012 events tagged
// #t=bitcoin and #t=transaction, starting from the process's own start time.
func NewBroadcastFilter(processStartUnix int64) *Filter {
	return &Filter{
		Kinds: []int{KindTxBroadcast},
		Tags:  [][]string{{"#t", "bitcoin"}, {"#t", "transaction"}},
		Since: processStartUnix,
	}
}

// MarshalJSON renders the filter with its #-prefixed tag filters inlined as NIP-01 expects, since
// their key names are dynamic ("#t") and don't fit a static struct tag.
func (f *Filter) MarshalJSON() ([]byte, error) {
	raw := map[string]interface{}{}
	if len(f.Kinds) > 0 {
		raw["kinds"] = f.Kinds
	}
	if f.Since != 0 {
		raw["since"] = f.Since
	}
	for _, tag := range f.Tags {
		if len(tag) < 2 {
			continue
		}
		key := tag[0]
		values, _ := raw[key].([]string)
		raw[key] = append(values, tag[1:]...)
	}
	return json.Marshal(raw)
}
