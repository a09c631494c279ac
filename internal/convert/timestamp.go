// Copyright 2024 Treeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package convert holds the pure conversion helpers used during extraction:
// source-epoch timestamp conversion and hashtag extraction.
package convert

import (
	"encoding/json"
	"strconv"
	"time"
)

// EpochOffsetSeconds is the distance between the export source's epoch
// (2010-01-01T00:00:00Z) and the Unix epoch. Source timestamps are seconds
// since the source epoch.
const EpochOffsetSeconds int64 = 1262304000

// ToAbsoluteTime converts a source-epoch timestamp to an absolute UTC instant.
// A nil input stays nil.
func ToAbsoluteTime(sourceSeconds *int64) *time.Time {
	if sourceSeconds == nil {
		return nil
	}
	t := time.Unix(*sourceSeconds+EpochOffsetSeconds, 0).UTC()
	return &t
}

// ParseFlexibleDate interprets a raw date-like value from metadata. Any numeric
// representation is taken as seconds past the Unix epoch. Everything else,
// strings included, yields nil. This narrow contract is deliberate: the source
// only ever writes numeric calendar dates, and guessing at string formats would
// invent data.
func ParseFlexibleDate(value any) *time.Time {
	seconds, ok := numericSeconds(value)
	if !ok {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	return &t
}

func numericSeconds(value any) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case json.RawMessage:
		return rawNumericSeconds(v)
	default:
		return 0, false
	}
}

// rawNumericSeconds handles the undecoded wire form. JSON strings, objects and
// arrays are non-numeric by definition.
func rawNumericSeconds(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}
