// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package kvapi

import "fmt"

// DecodeError is returned when stored bytes cannot be decoded. Retrying
// reads the same bytes again, so it is never retried.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode value of %q: %v", e.Key, e.Err)
}

// Unwrap returns the codec error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StreamReadEOF marks a position a multi-key stream never answered because
// the backend stream closed after Received of Expected results.
type StreamReadEOF struct {
	Expected int
	Received int
}

func (e *StreamReadEOF) Error() string {
	return fmt.Sprintf("stream closed early: expected %d results, received %d", e.Expected, e.Received)
}
