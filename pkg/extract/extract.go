// Package extract defines the metadata enrichment contract and its
// built-in implementations.
//
// Extractors are opaque to the indexer: given a filepath they produce an
// ExtractedMetadata. Results are cached in a badger store keyed by
// (filepath, state_hash) so unchanged files never re-run extraction.
package extract

import (
	"context"
	"encoding/json"
)

// maxRawPayload bounds the opaque raw blob persisted per asset.
const maxRawPayload = 1 << 20 // 1 MiB

// ExtractedMetadata is the result of probing one file.
type ExtractedMetadata struct {
	Width          *int            `json:"width,omitempty"`
	Height         *int            `json:"height,omitempty"`
	Duration       *float64        `json:"duration,omitempty"`
	Rating         int             `json:"rating,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Workflow       json.RawMessage `json:"workflow,omitempty"`
	GenerationData json.RawMessage `json:"generation_data,omitempty"`
	Quality        string          `json:"quality"` // full, partial, degraded, none
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// HasWorkflow reports whether a workflow payload was found.
func (m *ExtractedMetadata) HasWorkflow() bool {
	return len(m.Workflow) > 0
}

// HasGenerationData reports whether generation data was found.
func (m *ExtractedMetadata) HasGenerationData() bool {
	return len(m.GenerationData) > 0
}

// BoundedRaw returns the raw payload truncated to the persistence bound.
// Truncation drops the blob entirely rather than storing invalid JSON.
func (m *ExtractedMetadata) BoundedRaw() []byte {
	if len(m.Raw) > maxRawPayload {
		return nil
	}
	return m.Raw
}

// Extractor produces metadata for a filepath. Implementations must be safe
// for concurrent use and should honor ctx cancellation between I/O steps.
type Extractor interface {
	Extract(ctx context.Context, filepath string) (*ExtractedMetadata, error)
}

// NullExtractor returns empty metadata for every file. Selected when
// probing is disabled.
type NullExtractor struct{}

// Extract implements Extractor.
func (NullExtractor) Extract(_ context.Context, _ string) (*ExtractedMetadata, error) {
	return &ExtractedMetadata{Quality: "none"}, nil
}
