package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/viant/curator/internal/codec"
)

// Save writes the store's binary form to path, compressed with c. The file is
// written to a temporary sibling and renamed into place.
func Save(path string, store Store, c codec.Compression) error {
	data, err := store.MarshalBinary()
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(c, data)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("index: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Load restores a store saved with Save.
func Load(path string, store Store) error {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("index: read %s: %w", path, err)
	}
	data, err := codec.Decode(encoded)
	if err != nil {
		return err
	}
	return store.UnmarshalBinary(data)
}
