package index

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio"
)

// nameTable is the persisted bidirectional mapping between identity names
// and the integer labels used inside the index artifacts. Labels are simply
// positions in the slice, so the mapping survives restarts without any risk
// of two names colliding on a label.
type nameTable struct {
	Names []string `json:"names"`
}

// idFor returns the label for name, assigning the next free one if needed.
func (t *nameTable) idFor(name string) int {
	for i, n := range t.Names {
		if n == name {
			return i
		}
	}
	t.Names = append(t.Names, name)
	return len(t.Names) - 1
}

// nameFor resolves a label back to its identity name.
func (t *nameTable) nameFor(id int) (string, bool) {
	if id < 0 || id >= len(t.Names) {
		return "", false
	}
	return t.Names[id], true
}

func (t *nameTable) save(path string) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal name table: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write name table: %w", err)
	}
	return nil
}

func loadNames(path string) (*nameTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t nameTable
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal name table: %w", err)
	}
	return &t, nil
}
