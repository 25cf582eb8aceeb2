package tailer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Hasintha01/logwatcher/internal/identity"
)

// Position is the last committed read position of one watched path. The
// identity is stored alongside the offset so a restart never applies an
// offset to a file that was rotated while the process was down.
type Position struct {
	ID     identity.ID `json:"id"`
	Offset int64       `json:"offset"`
}

// checkpointData is the on-disk JSON structure for persisted positions.
type checkpointData struct {
	Files map[string]Position `json:"files"`
}

// Checkpoint persists file read positions so tailing can resume after a
// restart. Resumption is best effort: lines read but not yet saved at crash
// time may be classified again.
type Checkpoint struct {
	mu    sync.RWMutex
	path  string
	data  checkpointData
	dirty bool
}

// NewCheckpoint creates or loads a checkpoint file at the given path. A
// missing or unparsable file yields an empty checkpoint; only unexpected read
// errors are returned.
func NewCheckpoint(path string) (*Checkpoint, error) {
	c := &Checkpoint{
		path: path,
		data: checkpointData{Files: make(map[string]Position)},
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		_ = json.Unmarshal(raw, &c.data)
	case !os.IsNotExist(err):
		return c, fmt.Errorf("tailer: read checkpoint %s: %w", path, err)
	}
	if c.data.Files == nil {
		c.data.Files = make(map[string]Position)
	}

	return c, nil
}

// Get returns the saved position for a file path.
func (c *Checkpoint) Get(path string) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data.Files[path]
	return p, ok
}

// Set records the current position for a file path.
func (c *Checkpoint) Set(path string, pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.data.Files[path]; ok && old == pos {
		return
	}
	c.data.Files[path] = pos
	c.dirty = true
}

// Save writes the checkpoint data to disk atomically. It is a no-op when
// nothing changed since the last save.
func (c *Checkpoint) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temp file first, then rename for atomicity.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
