package engine

import (
	"encoding/json"

	"github.com/tokenized/tx-relay/nostr"

	"github.com/pkg/errors"
)

func marshalEnvelope(envelope *nostr.TxEnvelope) (string, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", errors.Wrap(err, "marshal")
	}
	return string(raw), nil
}
