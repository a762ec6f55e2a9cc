/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	"github.com/peterbourgon/diskv/v3"
)

// DiskStore is the default durable store backed by a diskv directory.
type DiskStore struct {
	dv *diskv.Diskv
}

// NewDiskStore creates the storage directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, trace.BadParameter("storage directory is not set")
	}
	tempDir := filepath.Join(dir, ".tmp")
	if err := os.MkdirAll(tempDir, 0700); err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	dv := diskv.New(diskv.Options{
		BasePath:     dir,
		TempDir:      tempDir,
		Transform:    flatTransform,
		FilePerm:     0600,
		PathPerm:     0700,
		CacheSizeMax: 0,
	})

	return &DiskStore{dv: dv}, nil
}

// flatTransform keeps every key in the base directory.
func flatTransform(s string) []string {
	return []string{}
}

func (d *DiskStore) Load(_ context.Context) (*Credentials, error) {
	if !d.dv.Has(TokensKey) {
		return nil, nil
	}

	data, err := d.dv.Read(TokensKey)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.ConvertSystemError(err)
	}

	return unmarshal(data), nil
}

func (d *DiskStore) Save(_ context.Context, creds *Credentials) error {
	data, err := marshal(creds)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(d.dv.Write(TokensKey, data))
}

func (d *DiskStore) Clear(_ context.Context) error {
	if !d.dv.Has(TokensKey) {
		return nil
	}
	err := d.dv.Erase(TokensKey)
	if err != nil && !os.IsNotExist(err) {
		return trace.ConvertSystemError(err)
	}
	return nil
}
