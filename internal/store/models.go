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

package store

import (
	"fmt"

	"github.com/uptrace/bun"
)

// Bun ORM models for the bitemporal store. Instants are stored as Unix
// milliseconds. Every versioned model implements Row: a natural key for
// set-reconciliation diffing and attribute equality over the comparable
// fields.

// Row is implemented by all bitemporal models.
type Row interface {
	// NaturalKey identifies "the same entity" across versions.
	NaturalKey() string
	// SetPeriod stamps the system-time validity bounds.
	SetPeriod(from, to int64)
	// Period returns the stamped system-time validity bounds.
	Period() (from, to int64)
}

// NodeContentModel represents the node_contents table
type NodeContentModel struct {
	bun.BaseModel `bun:"table:node_contents"`

	ID       string  `bun:"id,pk"`
	ParentID *string `bun:"parent_id"`
	Name     string  `bun:"name,notnull"`
	Note     *string `bun:"note"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *NodeContentModel) NaturalKey() string { return m.ID }

func (m *NodeContentModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *NodeContentModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

// EqualAttributes compares every attribute outside the system-time bounds.
func (m *NodeContentModel) EqualAttributes(o *NodeContentModel) bool {
	return m.ID == o.ID &&
		strPtrEq(m.ParentID, o.ParentID) &&
		m.Name == o.Name &&
		strPtrEq(m.Note, o.Note)
}

// NodeMetadataModel represents the node_metadata table.
// 1:1 with node_contents by node id.
type NodeMetadataModel struct {
	bun.BaseModel `bun:"table:node_metadata"`

	NodeID         string  `bun:"node_id,pk"`
	Priority       int     `bun:"priority,notnull"`
	Completed      bool    `bun:"completed,notnull"`
	CompletedAt    *int64  `bun:"completed_at"`
	Collapsed      bool    `bun:"collapsed,notnull"`
	LastModified   *int64  `bun:"last_modified"`
	CreatedBy      string  `bun:"created_by,notnull"`
	CreatedOn      *int64  `bun:"created_on"`
	LastUpdatedBy  string  `bun:"last_updated_by,notnull"`
	LayoutMode     *string `bun:"layout_mode"`
	VirtualRoot    bool    `bun:"virtual_root,notnull"`
	ReferencesRoot bool    `bun:"references_root,notnull"`
	InChat         *bool   `bun:"in_chat"`
	MirrorRoot     *bool   `bun:"mirror_root"`
	OriginalID     *string `bun:"original_id"`
	Changes        *string `bun:"changes"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *NodeMetadataModel) NaturalKey() string { return m.NodeID }

func (m *NodeMetadataModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *NodeMetadataModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

// EqualAttributes deliberately excludes the provenance fields CreatedBy,
// CreatedOn and LastUpdatedBy so they never trigger re-versioning.
func (m *NodeMetadataModel) EqualAttributes(o *NodeMetadataModel) bool {
	return m.NodeID == o.NodeID &&
		m.Priority == o.Priority &&
		m.Completed == o.Completed &&
		int64PtrEq(m.CompletedAt, o.CompletedAt) &&
		m.Collapsed == o.Collapsed &&
		int64PtrEq(m.LastModified, o.LastModified) &&
		strPtrEq(m.LayoutMode, o.LayoutMode) &&
		m.VirtualRoot == o.VirtualRoot &&
		m.ReferencesRoot == o.ReferencesRoot &&
		boolPtrEq(m.InChat, o.InChat) &&
		boolPtrEq(m.MirrorRoot, o.MirrorRoot) &&
		strPtrEq(m.OriginalID, o.OriginalID) &&
		strPtrEq(m.Changes, o.Changes)
}

// TagModel represents the tags table
type TagModel struct {
	bun.BaseModel `bun:"table:tags"`

	Name  string  `bun:"name,pk"`
	Color *string `bun:"color"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *TagModel) NaturalKey() string { return m.Name }

func (m *TagModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *TagModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

func (m *TagModel) EqualAttributes(o *TagModel) bool {
	return m.Name == o.Name && strPtrEq(m.Color, o.Color)
}

// NodeTagMappingModel represents the node_tag_mappings table
type NodeTagMappingModel struct {
	bun.BaseModel `bun:"table:node_tag_mappings"`

	NodeID  string `bun:"node_id,pk"`
	TagName string `bun:"tag_name,pk"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *NodeTagMappingModel) NaturalKey() string {
	return m.NodeID + "\x1f" + m.TagName
}

func (m *NodeTagMappingModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *NodeTagMappingModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

func (m *NodeTagMappingModel) EqualAttributes(o *NodeTagMappingModel) bool {
	return m.NodeID == o.NodeID && m.TagName == o.TagName
}

// MirrorModel represents the mirrors table. The id is synthetic (generated at
// extraction), so the natural key is the full attribute tuple.
type MirrorModel struct {
	bun.BaseModel `bun:"table:mirrors"`

	ID           string `bun:"id,pk"`
	MirrorRootID string `bun:"mirror_root_id,notnull"`
	MirrorNodeID string `bun:"mirror_node_id,notnull"`
	Backlink     bool   `bun:"backlink,notnull"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *MirrorModel) NaturalKey() string {
	return fmt.Sprintf("%s\x1f%s\x1f%t", m.MirrorRootID, m.MirrorNodeID, m.Backlink)
}

func (m *MirrorModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *MirrorModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

func (m *MirrorModel) EqualAttributes(o *MirrorModel) bool {
	return m.MirrorRootID == o.MirrorRootID &&
		m.MirrorNodeID == o.MirrorNodeID &&
		m.Backlink == o.Backlink
}

// NodeDateModel represents the node_dates table (synthetic id).
type NodeDateModel struct {
	bun.BaseModel `bun:"table:node_dates"`

	ID        string  `bun:"id,pk"`
	NodeID    string  `bun:"node_id,notnull"`
	DateValue int64   `bun:"date_value,notnull"`
	Root      bool    `bun:"root,notnull"`
	Level     *int    `bun:"level"`
	DateID    *string `bun:"date_id"`
	Timestamp *int64  `bun:"timestamp"`
	Value     *string `bun:"value"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *NodeDateModel) NaturalKey() string {
	return fmt.Sprintf("%s\x1f%d\x1f%t\x1f%s\x1f%s\x1f%s\x1f%s",
		m.NodeID, m.DateValue, m.Root,
		intPtrKey(m.Level), strPtrKey(m.DateID), int64PtrKey(m.Timestamp), strPtrKey(m.Value))
}

func (m *NodeDateModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *NodeDateModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

func (m *NodeDateModel) EqualAttributes(o *NodeDateModel) bool {
	return m.NodeID == o.NodeID &&
		m.DateValue == o.DateValue &&
		m.Root == o.Root &&
		intPtrEq(m.Level, o.Level) &&
		strPtrEq(m.DateID, o.DateID) &&
		int64PtrEq(m.Timestamp, o.Timestamp) &&
		strPtrEq(m.Value, o.Value)
}

// NodeS3FileModel represents the node_s3_files table (synthetic id).
type NodeS3FileModel struct {
	bun.BaseModel `bun:"table:node_s3_files"`

	ID                  string  `bun:"id,pk"`
	NodeID              string  `bun:"node_id,notnull"`
	File                bool    `bun:"file,notnull"`
	FileName            *string `bun:"file_name"`
	FileType            *string `bun:"file_type"`
	ObjectFolder        *string `bun:"object_folder"`
	AnimatedGIF         *bool   `bun:"animated_gif"`
	ImageOriginalWidth  *int    `bun:"image_original_width"`
	ImageOriginalHeight *int    `bun:"image_original_height"`
	ImageOriginalPixels *int    `bun:"image_original_pixels"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *NodeS3FileModel) NaturalKey() string {
	return fmt.Sprintf("%s\x1f%t\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		m.NodeID, m.File,
		strPtrKey(m.FileName), strPtrKey(m.FileType), strPtrKey(m.ObjectFolder),
		boolPtrKey(m.AnimatedGIF),
		intPtrKey(m.ImageOriginalWidth), intPtrKey(m.ImageOriginalHeight), intPtrKey(m.ImageOriginalPixels))
}

func (m *NodeS3FileModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *NodeS3FileModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

func (m *NodeS3FileModel) EqualAttributes(o *NodeS3FileModel) bool {
	return m.NodeID == o.NodeID &&
		m.File == o.File &&
		strPtrEq(m.FileName, o.FileName) &&
		strPtrEq(m.FileType, o.FileType) &&
		strPtrEq(m.ObjectFolder, o.ObjectFolder) &&
		boolPtrEq(m.AnimatedGIF, o.AnimatedGIF) &&
		intPtrEq(m.ImageOriginalWidth, o.ImageOriginalWidth) &&
		intPtrEq(m.ImageOriginalHeight, o.ImageOriginalHeight) &&
		intPtrEq(m.ImageOriginalPixels, o.ImageOriginalPixels)
}

// VirtualRootMappingModel represents the virtual_root_mappings table
type VirtualRootMappingModel struct {
	bun.BaseModel `bun:"table:virtual_root_mappings"`

	NodeID        string `bun:"node_id,pk"`
	VirtualRootID string `bun:"virtual_root_id,pk"`

	SystemFrom int64 `bun:"system_from,pk"`
	SystemTo   int64 `bun:"system_to,notnull"`
}

func (m *VirtualRootMappingModel) NaturalKey() string {
	return m.NodeID + "\x1f" + m.VirtualRootID
}

func (m *VirtualRootMappingModel) SetPeriod(from, to int64) {
	m.SystemFrom = from
	m.SystemTo = to
}

func (m *VirtualRootMappingModel) Period() (int64, int64) { return m.SystemFrom, m.SystemTo }

func (m *VirtualRootMappingModel) EqualAttributes(o *VirtualRootMappingModel) bool {
	return m.NodeID == o.NodeID && m.VirtualRootID == o.VirtualRootID
}

// UserModel represents the users table (non-temporal; created once per owner).
type UserModel struct {
	bun.BaseModel `bun:"table:users"`

	UserID string `bun:"user_id,pk"`
	Email  string `bun:"email,notnull"`
}

// ImportWatermarkModel represents the import_watermarks table (non-temporal).
type ImportWatermarkModel struct {
	bun.BaseModel `bun:"table:import_watermarks"`

	Name      string `bun:"name,pk"`
	Timestamp int64  `bun:"timestamp,notnull"`
}

// Pointer comparison and key-formatting helpers for nullable columns.

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEq(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrKey(p *string) string {
	if p == nil {
		return "\x00"
	}
	return *p
}

func intPtrKey(p *int) string {
	if p == nil {
		return "\x00"
	}
	return fmt.Sprintf("%d", *p)
}

func int64PtrKey(p *int64) string {
	if p == nil {
		return "\x00"
	}
	return fmt.Sprintf("%d", *p)
}

func boolPtrKey(p *bool) string {
	if p == nil {
		return "\x00"
	}
	return fmt.Sprintf("%t", *p)
}
