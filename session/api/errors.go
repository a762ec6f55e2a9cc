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

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// nonFieldErrors is the key the API uses for errors not bound to a field.
const nonFieldErrors = "non_field_errors"

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	// Message is the "message" or "detail" string of the body, if any.
	Message string
	// Fields holds per-field messages of a validation response.
	Fields map[string][]string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = joinFields(e.Fields)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("http error code=%v, message=%v", e.StatusCode, msg)
}

// ValidationError describes rejected input, either by the server or by the
// client side registration checks.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if msg := joinFields(e.Fields); msg != "" {
		return msg
	}
	return "validation failed"
}

// FieldError returns the first message for the field, or an empty string.
func (e *ValidationError) FieldError(field string) string {
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// AsStatusError extracts the API response error from err.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(trace.Unwrap(err), &statusErr) || errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

// AsValidationError extracts the validation error from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(trace.Unwrap(err), &validationErr) || errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	statusErr, ok := AsStatusError(err)
	return ok && statusErr.StatusCode == http.StatusUnauthorized
}

// decodeStatusError parses the body of an error response. Bodies come in two
// shapes: {"message": "..."} / {"detail": "..."}, or a map of field names to
// lists of messages.
func decodeStatusError(code int, body []byte) *StatusError {
	result := &StatusError{StatusCode: code}
	if !gjson.ValidBytes(body) {
		result.Message = strings.TrimSpace(string(body))
		return result
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return result
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch {
		case (name == "message" || name == "detail") && value.Type == gjson.String:
			if result.Message == "" {
				result.Message = value.String()
			}
		case value.IsArray():
			for _, item := range value.Array() {
				if item.Type == gjson.String {
					result.addField(name, item.String())
				}
			}
		case value.Type == gjson.String:
			result.addField(name, value.String())
		}
		return true
	})
	return result
}

func (e *StatusError) addField(name, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[name] = append(e.Fields[name], msg)
}

func joinFields(fields map[string][]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := maps.Keys(fields)
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		msgs := strings.Join(fields[name], " ")
		if name == nonFieldErrors {
			parts = append(parts, msgs)
			continue
		}
		parts = append(parts, name+": "+msgs)
	}
	return strings.Join(parts, "; ")
}
