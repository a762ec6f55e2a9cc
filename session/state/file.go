package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

// FileStore keeps the record in a single JSON file.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers see either the old or the new pair.
type FileStore struct {
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	if filename == "" {
		return nil, trace.BadParameter("storage file is not set")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &FileStore{filename: filename}, nil
}

func (f *FileStore) Load(_ context.Context) (*Credentials, error) {
	payload, err := os.ReadFile(f.filename)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return unmarshal(payload), nil
}

func (f *FileStore) Save(_ context.Context, creds *Credentials) error {
	payload, err := marshal(creds)
	if err != nil {
		return trace.Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.filename), filepath.Base(f.filename)+".*")
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return trace.ConvertSystemError(err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return trace.ConvertSystemError(err)
	}
	if err := tmp.Close(); err != nil {
		return trace.ConvertSystemError(err)
	}

	if err := os.Rename(tmp.Name(), f.filename); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	err := os.Remove(f.filename)
	if err != nil && !os.IsNotExist(err) {
		return trace.ConvertSystemError(err)
	}
	return nil
}
