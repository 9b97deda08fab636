package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// Kind range 20000-29999 is ephemeral under NIP-01: the relay is not required to persist these
// events, which matches the stateless nature of this service.
const (
	KindTxSubmit    = 20010 // client -> relay, raw tx hex
	KindTxSubmitAck = 20011 // relay -> client, submission response
	KindTxBroadcast = 20012 // relay <-> relay, transaction broadcast
)

// Tag is a single Nostr tag: ["t", "bitcoin"], ["relay_id", "1"], etc.
type Tag []string

// Event is the wire shape of a Nostr event, per NIP-01: id, pubkey, created_at, kind, tags,
// content and sig.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// TxEnvelope is the outbound payload carried in a kind-20012 event's content.
type TxEnvelope struct {
	Txid    string `json:"txid"`
	Hex     string `json:"hex"`
	Size    int    `json:"size"`
	Version int32  `json:"version"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
}

// SubmitAck is the payload carried in a kind-20011 event's content.
type SubmitAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Txid    string `json:"txid"`
}

// TagValues returns the values (tag[1:]) of every tag whose name (tag[0]) matches key.
func (e *Event) TagValues(key string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key {
			values = append(values, tag[1:]...)
		}
	}
	return values
}

// HasRelayID reports whether the event carries a relay_id tag equal to id.
func (e *Event) HasRelayID(id string) bool {
	for _, v := range e.TagValues("relay_id") {
		if v == id {
			return true
		}
	}
	return false
}

// NewEvent builds, hashes and signs an event with the given identity, kind, tags and content.
// createdAt is the caller-supplied unix timestamp so that tests can pin it.
func NewEvent(id *Identity, kind int, tags []Tag, content string, createdAt int64) (*Event, error) {
	event := &Event{
		PubKey:    id.PublicKeyHex(),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}

	hash, err := event.canonicalHash()
	if err != nil {
		return nil, errors.Wrap(err, "canonical hash")
	}
	event.ID = hex.EncodeToString(hash[:])

	sig, err := id.Sign(hash)
	if err != nil {
		return nil, errors.Wrap(err, "sign")
	}
	event.Sig = sig

	return event, nil
}

// canonicalHash computes the NIP-01 event id: sha256 of the compact JSON array
// [0, pubkey, created_at, kind, tags, content], with HTML-unsafe characters left unescaped.
func (e *Event) canonicalHash() ([32]byte, error) {
	array := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(array); err != nil {
		return [32]byte{}, err
	}

	// json.Encoder.Encode appends a trailing newline; NIP-01's canonical form has none.
	canonical := bytes.TrimRight(buf.Bytes(), "\n")

	return sha256.Sum256(canonical), nil
}

// DecodeTxEnvelope parses an event's content as a TxEnvelope, used on the inbound path for
// broadcasts received from other relays.
func DecodeTxEnvelope(content string) (*TxEnvelope, error) {
	var envelope TxEnvelope
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope")
	}
	if envelope.Hex == "" || envelope.Txid == "" {
		return nil, errors.New("malformed envelope: missing hex or txid")
	}
	return &envelope, nil
}
