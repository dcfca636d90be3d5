// Package auth implements the API-key validator consumed by the HTTP
// layer before any store operation. Keys live in a side file (a JSON
// array of strings) that is re-read on a fixed period, so keys can be
// rotated without restarting the node.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"bucketdb/lib/logging"
)

var log = logging.GetLogger("auth")

// Validator answers "is this caller authorized". The key set is held
// in a concurrent map so validation never contends with the reload.
type Validator struct {
	file   string
	secret string
	keys   *xsync.MapOf[string, struct{}]

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewValidator creates a validator backed by the given key file. The
// secret, if non-empty, is always accepted in addition to the file's
// keys (it authenticates replication traffic between nodes). With an
// empty file name the validator accepts every caller.
func NewValidator(file, secret string, interval time.Duration) (*Validator, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	v := &Validator{
		file:     file,
		secret:   secret,
		keys:     xsync.NewMapOf[string, struct{}](),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}

	if file != "" {
		if err := v.reload(); err != nil {
			cancel()
			return nil, err
		}
	}
	return v, nil
}

// Validate reports whether the presented key authorizes the caller.
func (v *Validator) Validate(key string) bool {
	if v.file == "" {
		// authentication disabled
		return true
	}
	if v.secret != "" && key == v.secret {
		return true
	}
	_, ok := v.keys.Load(key)
	return ok
}

// Start launches the periodic reload of the key file.
func (v *Validator) Start() {
	if v.file == "" {
		return
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()

		for {
			select {
			case <-v.ctx.Done():
				return
			case <-ticker.C:
				if err := v.reload(); err != nil {
					// keep serving the last good key set
					log.Warn("api key reload failed", "file", v.file, "err", err)
				}
			}
		}
	}()
}

// Stop ends the reload loop and waits for it to finish.
func (v *Validator) Stop() {
	v.cancel()
	v.wg.Wait()
}

// reload replaces the key set with the file's current contents.
func (v *Validator) reload() error {
	data, err := os.ReadFile(v.file)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parse key file: %w", err)
	}

	fresh := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		fresh[key] = struct{}{}
		v.keys.Store(key, struct{}{})
	}
	// drop keys removed from the file
	v.keys.Range(func(key string, _ struct{}) bool {
		if _, ok := fresh[key]; !ok {
			v.keys.Delete(key)
		}
		return true
	})

	log.Debug("api keys reloaded", "keys", len(keys))
	return nil
}
