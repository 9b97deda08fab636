package validator

/**
 * Validator
 *
 * What is my purpose?
 * - You decide whether a transaction is safe to submit to the local node
 * - You short-circuit the moment a phase fails
 */

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/tokenized/tx-relay/bitcoin"
	"github.com/tokenized/tx-relay/rpcnode"
	"github.com/tokenized/tx-relay/wire"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/tokenized/logger"
)

// SubSystem is used by the logger package.
const SubSystem = "Validator"

const (
	minTxBytes = 60
	maxTxBytes = 400000
)

// acceptChecker is the subset of rpcnode.Client the validator depends on. Modeled as an interface
// so tests can substitute a fake node.
type acceptChecker interface {
	TestAccept(ctx context.Context, txHex string) (*rpcnode.AcceptResult, error)
}

// Validator runs the sequential structure/cache/precheck/remote-accept pipeline described by the
// relay's validation_config.
type Validator struct {
	config Config
	node   acceptChecker

	mu    sync.RWMutex
	cache *lru.Cache
}

// New creates a Validator backed by an LRU cache sized per config. node is usually an
// *rpcnode.Client.
func New(config Config, node acceptChecker) (*Validator, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = 1000
	}

	cache, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "new lru cache")
	}

	return &Validator{
		config: config,
		node:   node,
		cache:  cache,
	}, nil
}

// Validate runs the pipeline against raw transaction hex, returning the extracted txid on success.
// With EnableValidation off it returns nil, nil without parsing the input.
func (v *Validator) Validate(ctx context.Context, txHex string) (*bitcoin.Hash32, error) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	if !v.config.EnableValidation {
		return nil, nil
	}

	// Phase 1: structure.
	txid, err := extractTxid(txHex)
	if err != nil {
		return nil, err
	}

	// Phase 2: recently-processed gate.
	if v.isRecentlyProcessed(*txid) {
		return nil, errors.Wrapf(ErrRecentlyProcessed, "%s", txid)
	}

	// Phase 3: pre-check.
	if v.config.EnablePrecheck {
		if err := quickChecks(txHex); err != nil {
			return nil, err
		}
	}

	// Phase 4: remote acceptance.
	timeoutCtx, cancel := context.WithTimeout(ctx, v.config.ValidationTimeout)
	defer cancel()

	result, err := v.node.TestAccept(timeoutCtx, txHex)
	if err != nil {
		return nil, errors.Wrap(err, "testmempoolaccept")
	}
	if !result.Allowed {
		logger.Verbose(ctx, "Validate %s : rejected : %s", txid, result.RejectReason)
		return nil, errors.Wrapf(ErrBitcoinCoreReject, "%s", result.RejectReason)
	}

	// Phase 5: cache the success.
	v.markProcessed(*txid)

	return txid, nil
}

func extractTxid(txHex string) (*bitcoin.Hash32, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidHex, err.Error())
	}

	tx := wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(ErrInvalidStructure, err.Error())
	}

	return tx.TxHash(), nil
}

func quickChecks(txHex string) error {
	if len(txHex) == 0 {
		return ErrEmptyTransaction
	}

	if !isHex(txHex) {
		return ErrInvalidHex
	}

	byteLen := len(txHex) / 2
	if byteLen < minTxBytes || byteLen > maxTxBytes {
		return errors.Wrapf(ErrInvalidSize, "%d bytes", byteLen)
	}

	return nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		isDigit := r >= '0' && r <= '9'
		isLower := r >= 'a' && r <= 'f'
		isUpper := r >= 'A' && r <= 'F'
		return !isDigit && !isLower && !isUpper
	}) == -1
}

func (v *Validator) isRecentlyProcessed(txid bitcoin.Hash32) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	value, ok := v.cache.Get(txid)
	if !ok {
		return false
	}

	processedAt := value.(time.Time)
	return time.Since(processedAt) < v.config.CacheTTL
}

func (v *Validator) markProcessed(txid bitcoin.Hash32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.Add(txid, time.Now())
}
