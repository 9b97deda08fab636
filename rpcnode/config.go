package rpcnode

import (
	"fmt"
	"time"
)

// Config describes how to reach a bitcoind JSON-RPC endpoint.
type Config struct {
	Host     string
	Username string
	Password string

	// MaxRetries is the number of retry attempts when a call fails.
	MaxRetries int
	// RetryDelay is the delay between retries, in milliseconds.
	RetryDelay int
	// Timeout bounds a single TestAccept call. Submit, ListMempool and FetchRaw do not apply it.
	Timeout time.Duration
}

// String returns a custom string representation.
//
// This is important so we don't log sensitive config values.
func (c Config) String() string {
	return fmt.Sprintf("{Host:%v Username:%v Password:%v MaxRetries:%d RetryDelay:%dms Timeout:%s}",
		c.Host, c.Username, "****", c.MaxRetries, c.RetryDelay, c.Timeout)
}
