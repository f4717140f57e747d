package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StateFilename is the sealed store file under the home directory.
const StateFilename = "state.sealed"

// FileKV is a MemoryKV whose every committed write is sealed under a
// passphrase and written to a single file.
type FileKV struct {
	*MemoryKV
	path string
}

// OpenFileKV opens or creates the sealed store at path. A wrong passphrase
// for an existing file yields ErrWrongPassphrase.
func OpenFileKV(path, passphrase string) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data := buckets{}
	var s *sealer
	if len(raw) == 0 {
		N, r, p := scryptParamsDefault()
		if s, err = newSealer(passphrase, N, r, p); err != nil {
			return nil, err
		}
	} else {
		var pt []byte
		if pt, s, err = openBlob(passphrase, raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pt, &data); err != nil {
			return nil, fmt.Errorf("decode store state: %w", err)
		}
	}

	f := &FileKV{MemoryKV: &MemoryKV{data: data}, path: path}
	f.commit = func(next buckets) error {
		pt, err := json.Marshal(next)
		if err != nil {
			return err
		}
		sealed, err := s.seal(pt)
		if err != nil {
			return err
		}
		return f.replace(sealed)
	}
	return f, nil
}

// Path returns the backing file.
func (f *FileKV) Path() string { return f.path }

// replace swaps in the new sealed state through a synced temp file in the
// same directory, so a crash leaves either the old or the new state.
func (f *FileKV) replace(sealed []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0o600); err == nil {
		_, err = tmp.Write(sealed)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write store state: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// Compile-time assertion that FileKV implements KV.
var _ KV = (*FileKV)(nil)
