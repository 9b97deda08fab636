package rpcnode

/**
 * RPC Node Kit
 *
 * What is my purpose?
 * - You connect to a bitcoind node
 * - You make the four RPC calls the relay needs and nothing else
 */

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/tokenized/tx-relay/bitcoin"
	"github.com/tokenized/tx-relay/wire"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/pkg/errors"
	"github.com/tokenized/logger"
)

const (
	// SubSystem is used by the logger package.
	SubSystem = "RPCNode"
)

var (
	// ErrRejected is returned by Submit when the node rejects a transaction for a reason other
	// than it already being known.
	ErrRejected = errors.New("Transaction rejected")

	// alreadyKnownSubstrings are the RPC error text fragments that mean "the node already has
	// this transaction", which this relay treats as a successful submission. Bitcoin Core has
	// never given these two outcomes a stable, cross-version error code, so matching the text is
	// the only portable option (see DESIGN.md).
	alreadyKnownSubstrings = []string{
		"already in mempool",
		"already exists",
	}
)

// Client is a synchronous-request wrapper around a bitcoind JSON-RPC connection, scoped to the
// four calls the relay needs: sendrawtransaction, getrawmempool, getrawtransaction and
// testmempoolaccept.
type Client struct {
	client *rpcclient.Client
	Config *Config
}

// NewClient returns a new RPC client for the configured node.
func NewClient(config *Config) (*Client, error) {
	rpcConfig := rpcclient.ConnConfig{
		HTTPPostMode: true,
		DisableTLS:   true,
		Host:         config.Host,
		User:         config.Username,
		Pass:         config.Password,
	}

	client, err := rpcclient.New(&rpcConfig, nil)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	if config.RetryDelay == 0 {
		config.RetryDelay = 500 // half a second
	}

	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &Client{
		client: client,
		Config: config,
	}, nil
}

// Submit sends a raw transaction to the node and returns its txid. "already in mempool" and
// "already exists" RPC errors are treated as success, since the desired post-condition (the node
// has the transaction) already holds.
func (c *Client) Submit(ctx context.Context, txHex string) (*bitcoin.Hash32, error) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	txid, err := txidFromHex(txHex)
	if err != nil {
		return nil, errors.Wrap(err, "txid")
	}

	params, err := marshalParams(txHex)
	if err != nil {
		return nil, errors.Wrap(err, "params")
	}

	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt != 0 {
			time.Sleep(time.Duration(c.Config.RetryDelay) * time.Millisecond)
		}

		_, err := c.client.RawRequest("sendrawtransaction", params)
		if err == nil {
			return txid, nil
		}

		if isAlreadyKnown(err) {
			logger.Verbose(ctx, "Submit %s : already known to node", txid)
			return txid, nil
		}

		lastErr = err
		logger.Error(ctx, "RPCCallFailed sendrawtransaction %s : %s", txid, err)
	}

	return nil, errors.Wrap(ErrRejected, lastErr.Error())
}

// ListMempool returns the txids currently in the node's mempool.
func (c *Client) ListMempool(ctx context.Context) ([]bitcoin.Hash32, error) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	var response json.RawMessage
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt != 0 {
			time.Sleep(time.Duration(c.Config.RetryDelay) * time.Millisecond)
		}

		var err error
		response, err = c.client.RawRequest("getrawmempool", nil)
		if err == nil {
			lastErr = nil
			break
		}

		lastErr = err
		logger.Error(ctx, "RPCCallFailed getrawmempool : %s", err)
	}

	if lastErr != nil {
		return nil, errors.Wrap(lastErr, "getrawmempool")
	}

	var txidStrings []string
	if err := json.Unmarshal(response, &txidStrings); err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}

	result := make([]bitcoin.Hash32, 0, len(txidStrings))
	for _, s := range txidStrings {
		txid, err := bitcoin.NewHash32FromStr(s)
		if err != nil {
			return nil, errors.Wrapf(err, "txid %s", s)
		}
		result = append(result, *txid)
	}

	return result, nil
}

// FetchRaw returns the raw hex of a transaction known to the node.
func (c *Client) FetchRaw(ctx context.Context, txid bitcoin.Hash32) (string, error) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	params, err := marshalParams(txid.String())
	if err != nil {
		return "", errors.Wrap(err, "params")
	}

	var response json.RawMessage
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt != 0 {
			time.Sleep(time.Duration(c.Config.RetryDelay) * time.Millisecond)
		}

		var err error
		response, err = c.client.RawRequest("getrawtransaction", params)
		if err == nil {
			lastErr = nil
			break
		}

		lastErr = err
		logger.Error(ctx, "RPCCallFailed getrawtransaction %s : %s", txid, err)
	}

	if lastErr != nil {
		return "", errors.Wrap(lastErr, "getrawtransaction")
	}

	var hexString string
	if err := json.Unmarshal(response, &hexString); err != nil {
		return "", errors.Wrap(err, "unmarshal")
	}

	return hexString, nil
}

// AcceptResult is the outcome of a testmempoolaccept call.
type AcceptResult struct {
	Allowed      bool
	RejectReason string
}

// TestAccept asks the node whether it would accept the transaction into its mempool, without
// actually submitting it.
func (c *Client) TestAccept(ctx context.Context, txHex string) (*AcceptResult, error) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	rawParams, err := json.Marshal([]string{txHex})
	if err != nil {
		return nil, errors.Wrap(err, "marshal tx array")
	}
	params := []json.RawMessage{rawParams}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.Config.Timeout)
	defer cancel()

	responses := make(chan rpcResponse, 1)
	go func() {
		response, err := c.client.RawRequest("testmempoolaccept", params)
		responses <- rpcResponse{response, err}
	}()

	var result rpcResponse
	select {
	case result = <-responses:
	case <-timeoutCtx.Done():
		return nil, errors.Wrap(timeoutCtx.Err(), "testmempoolaccept")
	}

	if result.err != nil {
		logger.Error(ctx, "RPCCallFailed testmempoolaccept : %s", result.err)
		return nil, errors.Wrap(result.err, "testmempoolaccept")
	}

	var results []struct {
		Allowed      bool   `json:"allowed"`
		RejectReason string `json:"reject-reason"`
	}
	if err := json.Unmarshal(result.response, &results); err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}

	if len(results) == 0 {
		return nil, errors.New("empty testmempoolaccept response")
	}

	return &AcceptResult{
		Allowed:      results[0].Allowed,
		RejectReason: results[0].RejectReason,
	}, nil
}

type rpcResponse struct {
	response json.RawMessage
	err      error
}

func marshalParams(values ...string) ([]json.RawMessage, error) {
	params := make([]json.RawMessage, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		params[i] = raw
	}
	return params, nil
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, substr := range alreadyKnownSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func txidFromHex(txHex string) (*bitcoin.Hash32, error) {
	b, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode hex")
	}

	tx := wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, errors.Wrap(err, "deserialize")
	}

	return tx.TxHash(), nil
}
