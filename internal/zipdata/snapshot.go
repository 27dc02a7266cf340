package zipdata

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// SaveSnapshot writes records to path as a gob blob. The write goes through a
// temp file in the same directory and a rename so a crash never leaves a
// truncated snapshot.
func SaveSnapshot(path string, records []ZipRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".zipsnap-*.gob")
	if err != nil {
		return eris.Wrap(err, "zipdata: create snapshot temp")
	}
	tmpName := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "zipdata: encode snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "zipdata: close snapshot temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "zipdata: move snapshot to %s", path)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) ([]ZipRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "zipdata: open snapshot %s", path)
	}
	defer f.Close()

	var records []ZipRecord
	if err := gob.NewDecoder(f).Decode(&records); err != nil {
		return nil, eris.Wrap(err, "zipdata: decode snapshot")
	}
	return records, nil
}
