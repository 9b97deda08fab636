package nostr

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/pkg/errors"
)

// Identity is a process-local Nostr keypair plus the relay's numeric id. Keys are generated fresh
// at process start; persistence across restarts is an explicit non-goal.
type Identity struct {
	RelayID    uint16
	privateKey *btcec.PrivateKey
	pubKeyHex  string
}

// NewIdentity generates a fresh secp256k1 keypair for the given relay id.
func NewIdentity(relayID uint16) (*Identity, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}

	return &Identity{
		RelayID:    relayID,
		privateKey: key,
		pubKeyHex:  hex.EncodeToString(schnorr.SerializePubKey(key.PubKey())),
	}, nil
}

// PublicKeyHex returns the x-only, BIP340-compatible public key used as a Nostr pubkey.
func (id *Identity) PublicKeyHex() string {
	return id.pubKeyHex
}

// Sign produces a BIP340 Schnorr signature over a 32 byte hash.
func (id *Identity) Sign(hash [32]byte) (string, error) {
	sig, err := schnorr.Sign(id.privateKey, hash[:])
	if err != nil {
		return "", errors.Wrap(err, "sign")
	}

	return hex.EncodeToString(sig.Serialize()), nil
}
