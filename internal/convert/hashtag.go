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

package convert

import (
	"regexp"
	"strings"
)

// HashtagExtractor finds #hashtag and @mention tokens in item names. The
// compiled patterns are immutable; construct one extractor at startup and pass
// it to whatever needs it.
type HashtagExtractor struct {
	markup *regexp.Regexp
	token  *regexp.Regexp
}

// NewHashtagExtractor compiles the extraction patterns.
func NewHashtagExtractor() *HashtagExtractor {
	return &HashtagExtractor{
		markup: regexp.MustCompile(`<[^>]*>`),
		token:  regexp.MustCompile(`[#@]([a-zA-Z0-9_-]+)`),
	}
}

// Extract returns the lower-cased tag names found in text, first-seen order,
// duplicates dropped. Markup tags are stripped first (entities are not
// decoded). Returns nil for empty input.
//
// Known quirk: an email-like "user@domain" substring yields a spurious mention
// token for the part of the domain before the first dot. The pattern does no
// lookbehind on surrounding word characters, matching the source system.
func (e *HashtagExtractor) Extract(text string) []string {
	if text == "" {
		return nil
	}

	plain := e.markup.ReplaceAllString(text, "")

	var tags []string
	seen := make(map[string]bool)
	for _, match := range e.token.FindAllStringSubmatch(plain, -1) {
		name := strings.ToLower(match[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		tags = append(tags, name)
	}
	return tags
}
