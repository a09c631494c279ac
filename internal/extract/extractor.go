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

// Package extract turns one decoded backup tree into flat entity collections
// ready for the bitemporal merge.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"treeline/internal/backup"
	"treeline/internal/convert"
	"treeline/internal/store"
)

// Collections are the flat row sets extracted from one backup file.
type Collections struct {
	Contents     []*store.NodeContentModel
	Metadata     []*store.NodeMetadataModel
	Tags         []*store.TagModel
	TagMappings  []*store.NodeTagMappingModel
	Mirrors      []*store.MirrorModel
	Dates        []*store.NodeDateModel
	S3Files      []*store.NodeS3FileModel
	VirtualRoots []*store.VirtualRootMappingModel
}

// Extractor runs the three extraction passes. The hashtag extractor is shared,
// immutable configuration; newID generates synthetic identifiers and is
// injectable for tests.
type Extractor struct {
	hashtags *convert.HashtagExtractor
	newID    func() string
}

// New builds an Extractor using random UUIDs for synthetic ids.
func New(hashtags *convert.HashtagExtractor) *Extractor {
	return &Extractor{
		hashtags: hashtags,
		newID:    uuid.NewString,
	}
}

// arenaNode is one flattened tree node. Children are referenced by arena
// index, never by pointer, so arbitrarily deep trees cost no call stack.
type arenaNode struct {
	item     *backup.Item
	parentID *string
	priority int
}

// Extract runs all three passes over the root items of one backup file.
// The owner (from the backup filename) becomes the provenance identity on
// every metadata row.
func (e *Extractor) Extract(rootItems []backup.Item, owner string) *Collections {
	arena := flatten(rootItems)

	c := &Collections{}
	e.extractNodes(arena, owner, c)
	e.extractTags(c)
	e.extractSecondaryMetadata(arena, c)
	return c
}

// flatten builds the pre-order arena with an explicit worklist instead of
// recursion; sibling priority restarts at 0 under each parent.
func flatten(rootItems []backup.Item) []arenaNode {
	type frame struct {
		item     *backup.Item
		parentID *string
		priority int
	}

	var arena []arenaNode
	var stack []frame

	// Roots pushed in reverse so the stack pops them in document order.
	for i := len(rootItems) - 1; i >= 0; i-- {
		stack = append(stack, frame{item: &rootItems[i], parentID: nil, priority: i})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		arena = append(arena, arenaNode(f))

		children := f.item.Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				item:     &children[i],
				parentID: &f.item.ID,
				priority: i,
			})
		}
	}
	return arena
}

// extractNodes is pass 1: one content row and one metadata row per node.
func (e *Extractor) extractNodes(arena []arenaNode, owner string, c *Collections) {
	for i := range arena {
		n := &arena[i]
		c.Contents = append(c.Contents, &store.NodeContentModel{
			ID:       n.item.ID,
			ParentID: n.parentID,
			Name:     n.item.Name,
			Note:     n.item.Note,
		})
		c.Metadata = append(c.Metadata, e.buildMetadata(n, owner))
	}
}

func (e *Extractor) buildMetadata(n *arenaNode, owner string) *store.NodeMetadataModel {
	item := n.item
	m := &store.NodeMetadataModel{
		NodeID:        item.ID,
		Priority:      n.priority,
		Completed:     item.Completed(),
		CompletedAt:   toMillis(convert.ToAbsoluteTime(item.CompletedTimestamp)),
		Collapsed:     false,
		LastModified:  toMillis(convert.ToAbsoluteTime(item.LastModifiedTimestamp)),
		CreatedBy:     owner,
		CreatedOn:     toMillis(convert.ToAbsoluteTime(item.CreatedTimestamp)),
		LastUpdatedBy: owner,
	}

	meta := item.Metadata
	if meta == nil {
		return m
	}

	m.LayoutMode = meta.LayoutMode
	m.VirtualRoot = meta.IsVirtualRoot != nil && *meta.IsVirtualRoot
	m.ReferencesRoot = meta.IsReferencesRoot != nil && *meta.IsReferencesRoot

	if meta.AI != nil {
		m.InChat = meta.AI.InChat
	}

	if meta.Mirror != nil {
		if meta.Mirror.IsMirrorRoot != nil {
			m.MirrorRoot = meta.Mirror.IsMirrorRoot
		}
		if meta.Mirror.OriginalID != nil {
			m.OriginalID = meta.Mirror.OriginalID
		}
	}

	// The dedicated originalId field wins over one nested in the mirror block.
	if meta.OriginalID != nil {
		m.OriginalID = meta.OriginalID
	}

	if len(meta.Changes) > 0 {
		serialized, err := json.Marshal(meta.Changes)
		if err != nil {
			// Field-level recovery: the one opaque field is dropped, the
			// node still imports.
			log.Warnf("Failed to serialize changes for node %s: %v", item.ID, err)
		} else {
			s := string(serialized)
			m.Changes = &s
		}
	}
	return m
}

// extractTags is pass 2: hashtags from every flattened node name. First
// writer wins on tag creation; color is always nil at creation.
func (e *Extractor) extractTags(c *Collections) {
	seen := make(map[string]bool)
	for _, content := range c.Contents {
		for _, tagName := range e.hashtags.Extract(content.Name) {
			if !seen[tagName] {
				seen[tagName] = true
				c.Tags = append(c.Tags, &store.TagModel{Name: tagName, Color: nil})
			}
			c.TagMappings = append(c.TagMappings, &store.NodeTagMappingModel{
				NodeID:  content.ID,
				TagName: tagName,
			})
		}
	}
}

// extractSecondaryMetadata is pass 3: mirrors, backlinks, calendar entries,
// file attachments and virtual-root associations. The switch over the variant
// types is exhaustive; AI metadata is consumed during pass 1.
func (e *Extractor) extractSecondaryMetadata(arena []arenaNode, c *Collections) {
	for i := range arena {
		item := arena[i].item
		for _, variant := range item.Metadata.Variants() {
			switch v := variant.(type) {
			case *backup.MirrorMetadata:
				e.extractMirrors(item.ID, v, c)
			case *backup.BacklinkMetadata:
				e.extractBacklink(v, c)
			case *backup.CalendarMetadata:
				e.extractDate(item.ID, v, c)
			case *backup.S3FileMetadata:
				e.extractS3File(item.ID, v, c)
			case *backup.AIMetadata:
				// inChat already captured on the metadata row in pass 1.
			default:
				log.Warnf("Unknown metadata variant %T on node %s", v, item.ID)
			}
		}
		if item.Metadata != nil && len(item.Metadata.VirtualRootIDs) > 0 {
			e.extractVirtualRoots(item.ID, item.Metadata.VirtualRootIDs, c)
		}
	}
}

func (e *Extractor) extractMirrors(nodeID string, meta *backup.MirrorMetadata, c *Collections) {
	for _, sourceID := range sortedKeys(meta.MirrorRootIDs) {
		c.Mirrors = append(c.Mirrors, &store.MirrorModel{
			ID:           e.newID(),
			MirrorRootID: sourceID,
			MirrorNodeID: nodeID,
			Backlink:     false,
		})
	}
	for _, sourceID := range sortedKeys(meta.BacklinkMirrorRootIDs) {
		c.Mirrors = append(c.Mirrors, &store.MirrorModel{
			ID:           e.newID(),
			MirrorRootID: sourceID,
			MirrorNodeID: nodeID,
			Backlink:     true,
		})
	}
}

func (e *Extractor) extractBacklink(meta *backup.BacklinkMetadata, c *Collections) {
	if meta.SourceID == nil || meta.TargetID == nil {
		return
	}
	c.Mirrors = append(c.Mirrors, &store.MirrorModel{
		ID:           e.newID(),
		MirrorRootID: *meta.SourceID,
		MirrorNodeID: *meta.TargetID,
		Backlink:     true,
	})
}

func (e *Extractor) extractDate(nodeID string, meta *backup.CalendarMetadata, c *Collections) {
	dateValue := convert.ParseFlexibleDate(meta.Date)
	if dateValue == nil {
		return
	}
	d := &store.NodeDateModel{
		ID:        e.newID(),
		NodeID:    nodeID,
		DateValue: dateValue.UnixMilli(),
		Root:      meta.Root != nil && *meta.Root,
		Level:     meta.Level,
		DateID:    meta.DateID,
		Timestamp: meta.Timestamp,
	}
	if meta.Value != nil {
		s := fmt.Sprint(meta.Value)
		d.Value = &s
	}
	c.Dates = append(c.Dates, d)
}

func (e *Extractor) extractS3File(nodeID string, meta *backup.S3FileMetadata, c *Collections) {
	c.S3Files = append(c.S3Files, &store.NodeS3FileModel{
		ID:                  e.newID(),
		NodeID:              nodeID,
		File:                meta.IsFile != nil && *meta.IsFile,
		FileName:            meta.FileName,
		FileType:            meta.FileType,
		ObjectFolder:        meta.ObjectFolder,
		AnimatedGIF:         meta.IsAnimatedGIF,
		ImageOriginalWidth:  meta.ImageOriginalWidth,
		ImageOriginalHeight: meta.ImageOriginalHeight,
		ImageOriginalPixels: meta.ImageOriginalPixels,
	})
}

func (e *Extractor) extractVirtualRoots(nodeID string, virtualRootIDs map[string]bool, c *Collections) {
	for _, virtualRootID := range sortedKeys(virtualRootIDs) {
		c.VirtualRoots = append(c.VirtualRoots, &store.VirtualRootMappingModel{
			NodeID:        nodeID,
			VirtualRootID: virtualRootID,
		})
	}
}

// sortedKeys makes map-driven extraction deterministic.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
