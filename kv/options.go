package kv

import "time"

// Options configures a Client, mirroring spec.md §6's configuration
// options (master.address, client.pause, client.retries.number).
// Loading these from a file or flags is out of scope; callers build
// an Options directly.
type Options struct {
	MasterAddr string
	Pause      time.Duration
	NumRetries int
}

// DefaultOptions returns the documented defaults (30s pause, 5
// retries) for the given master address.
func DefaultOptions(masterAddr string) Options {
	return Options{
		MasterAddr: masterAddr,
		Pause:      30 * time.Second,
		NumRetries: 5,
	}
}
