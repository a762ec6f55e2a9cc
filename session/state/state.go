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

// Package state persists the session credential pair.
//
// Every backend keeps a single record under the "tokens" key. A record that is
// missing, unparsable or only half filled is reported as absent: Load returns
// nil credentials and a nil error. Only genuine backend failures are errors.
package state

import (
	"context"

	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"
)

// TokensKey is the storage key of the credential record.
const TokensKey = "tokens"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Credentials is the access/refresh token pair issued by the API.
type Credentials struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// IsComplete reports whether both tokens are present.
func (c *Credentials) IsComplete() bool {
	return c != nil && c.AccessToken != "" && c.RefreshToken != ""
}

// Store is a durable holder of a single credential pair.
type Store interface {
	// Load returns the stored pair or nil when there is none.
	Load(ctx context.Context) (*Credentials, error)
	// Save overwrites the stored pair.
	Save(ctx context.Context, creds *Credentials) error
	// Clear removes the stored pair. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

func marshal(creds *Credentials) ([]byte, error) {
	if !creds.IsComplete() {
		return nil, trace.BadParameter("credentials must contain both access and refresh tokens")
	}
	data, err := json.Marshal(creds)
	return data, trace.Wrap(err)
}

// unmarshal never fails: anything that is not a complete pair is absent.
func unmarshal(data []byte) *Credentials {
	if len(data) == 0 {
		return nil
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil
	}
	if !creds.IsComplete() {
		return nil
	}
	return &creds
}
