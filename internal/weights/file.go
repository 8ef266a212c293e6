package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
)

var encMode, _ = cbor.CoreDetEncOptions().EncMode()

// Save writes snap to path atomically: the bytes go to a temporary file in
// the same directory, which is synced and renamed over path. A crash or
// interrupt leaves either the old file or the new one.
func Save(path string, snap *Snapshot) error {
	start := time.Now()
	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	checkpointWrites.Inc()
	checkpointBytes.Set(float64(len(data)))
	checkpointDuration.Observe(time.Since(start).Seconds())
	log.Debug().Str("path", path).Int("bytes", len(data)).Int("epoch", snap.Epoch).Msg("Saved snapshot")
	return nil
}

// Load reads a snapshot written by Save.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("snapshot %s version %d: %w", path, snap.Version, ErrVersion)
	}
	return &snap, nil
}
