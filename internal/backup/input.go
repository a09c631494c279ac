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

// Package backup decodes export snapshot files and selects which ones an
// incremental run should process.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"treeline/internal/common"
)

// Item is one node of the export tree. The wire format uses abbreviated field
// names: nm (name), no (note), ct/lm/cp (created / last modified / completed,
// in source-epoch seconds), ch (children).
type Item struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"nm"`
	Note                  *string   `json:"no"`
	CreatedTimestamp      *int64    `json:"ct"`
	LastModifiedTimestamp *int64    `json:"lm"`
	CompletedTimestamp    *int64    `json:"cp"`
	Metadata              *Metadata `json:"metadata"`
	Children              []Item    `json:"ch"`
}

// Completed reports whether the item carries a completion timestamp.
func (it *Item) Completed() bool {
	return it.CompletedTimestamp != nil
}

// Metadata is the optional metadata object attached to an item. Each sub-block
// is independent; use Variants for an exhaustive walk over the ones present.
type Metadata struct {
	Mirror           *MirrorMetadata   `json:"mirror"`
	Backlink         *BacklinkMetadata `json:"backlink"`
	Calendar         *CalendarMetadata `json:"calendar"`
	S3File           *S3FileMetadata   `json:"s3File"`
	AI               *AIMetadata       `json:"ai"`
	OriginalID       *string           `json:"originalId"`
	IsVirtualRoot    *bool             `json:"isVirtualRoot"`
	IsReferencesRoot *bool             `json:"isReferencesRoot"`
	LayoutMode       *string           `json:"layoutMode"`
	VirtualRootIDs   map[string]bool   `json:"virtualRootIds"`
	Changes          map[string]any    `json:"changes"`
}

// SubMetadata is the variant type over the optional metadata sub-blocks.
// Extraction switches over the concrete types so that a newly added kind is a
// compile-visible gap, not a silently ignored field.
type SubMetadata interface {
	subMetadata()
}

func (*MirrorMetadata) subMetadata()   {}
func (*BacklinkMetadata) subMetadata() {}
func (*CalendarMetadata) subMetadata() {}
func (*S3FileMetadata) subMetadata()   {}
func (*AIMetadata) subMetadata()       {}

// Variants returns the sub-metadata blocks present on m, in wire order.
func (m *Metadata) Variants() []SubMetadata {
	if m == nil {
		return nil
	}
	var out []SubMetadata
	if m.Mirror != nil {
		out = append(out, m.Mirror)
	}
	if m.Backlink != nil {
		out = append(out, m.Backlink)
	}
	if m.Calendar != nil {
		out = append(out, m.Calendar)
	}
	if m.S3File != nil {
		out = append(out, m.S3File)
	}
	if m.AI != nil {
		out = append(out, m.AI)
	}
	return out
}

// MirrorMetadata marks an item as a mirror of other items.
type MirrorMetadata struct {
	OriginalID            *string         `json:"originalId"`
	IsMirrorRoot          *bool           `json:"isMirrorRoot"`
	MirrorRootIDs         map[string]bool `json:"mirrorRootIds"`
	BacklinkMirrorRootIDs map[string]bool `json:"backlinkMirrorRootIds"`
}

// BacklinkMetadata links a source item to a target item.
type BacklinkMetadata struct {
	SourceID *string `json:"sourceID"`
	TargetID *string `json:"targetID"`
}

// CalendarMetadata attaches a calendar date to an item. Date is kept raw; the
// flexible parser decides whether it is usable.
type CalendarMetadata struct {
	Date      json.RawMessage `json:"date"`
	Root      *bool           `json:"root"`
	Level     *int            `json:"level"`
	DateID    *string         `json:"dateId"`
	Timestamp *int64          `json:"timestamp"`
	Value     any             `json:"value"`
}

// S3FileMetadata describes a file attachment.
type S3FileMetadata struct {
	IsFile              *bool   `json:"isFile"`
	FileName            *string `json:"fileName"`
	FileType            *string `json:"fileType"`
	ObjectFolder        *string `json:"objectFolder"`
	IsAnimatedGIF       *bool   `json:"isAnimatedGIF"`
	ImageOriginalWidth  *int    `json:"imageOriginalWidth"`
	ImageOriginalHeight *int    `json:"imageOriginalHeight"`
	ImageOriginalPixels *int    `json:"imageOriginalPixels"`
}

// AIMetadata carries assistant-related flags.
type AIMetadata struct {
	InChat *bool `json:"inChat"`
}

// Decode parses a backup document: a JSON array of recursively nested items.
func Decode(r io.Reader) ([]Item, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var items []Item
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedFile, err)
	}
	return items, nil
}

// ReadFile reads and parses one backup file from disk.
func ReadFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
