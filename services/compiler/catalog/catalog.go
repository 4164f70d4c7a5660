// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog loads and serves the node type catalog.
//
// The catalog is the source of truth for which node types exist, which
// versions are supported, and which parameters each type requires. It ships
// with an embedded default and can be overridden from a YAML file on disk.
//
// Thread Safety:
//
//	Catalog is immutable after Load. The Watcher swaps whole catalogs
//	atomically, so readers holding a *Catalog never observe partial state.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	_ "embed"
)

// MaxCatalogFileSize caps catalog files read from disk to prevent memory
// exhaustion from oversized or malicious files.
const MaxCatalogFileSize = 2 * 1024 * 1024 // 2MB

// Node kinds.
const (
	KindTrigger = "trigger"
	KindAction  = "action"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Sentinel errors for catalog loading.
var (
	ErrCatalogTooLarge = errors.New("catalog file exceeds maximum size")
	ErrCatalogEmpty    = errors.New("catalog contains no node types")
)

// =============================================================================
// YAML Schema
// =============================================================================

// catalogYAML is the top-level YAML document shape.
type catalogYAML struct {
	Version string      `yaml:"version" validate:"required"`
	Nodes   []EntryYAML `yaml:"nodes" validate:"required,min=1,dive"`
}

// EntryYAML describes one node type in the catalog file.
type EntryYAML struct {
	// Name is the display name, e.g. "HTTP Request".
	Name string `yaml:"name" validate:"required"`

	// Type is the canonical type identifier, e.g. "aleutian.httpRequest".
	Type string `yaml:"type" validate:"required"`

	// Kind is "trigger" or "action".
	Kind string `yaml:"kind" validate:"required,oneof=trigger action"`

	// Versions lists the supported type versions, ascending.
	Versions []float64 `yaml:"versions" validate:"required,min=1"`

	// RequiredParameters are parameter keys every instance must set.
	RequiredParameters []string `yaml:"requiredParameters"`

	// Credentials lists credential kinds the node needs at runtime.
	Credentials []string `yaml:"credentials"`

	// Description is a one-line summary shown in search results.
	Description string `yaml:"description" validate:"required"`

	// Keywords improve search recall beyond name and description.
	Keywords []string `yaml:"keywords"`

	// Docs is longer free text used for search and vector indexing.
	Docs string `yaml:"docs"`
}

// =============================================================================
// Catalog
// =============================================================================

// Entry is one resolved node type.
type Entry struct {
	Name               string
	Type               string
	Kind               string
	Versions           []float64
	RequiredParameters []string
	Credentials        []string
	Description        string
	Keywords           []string
	Docs               string
}

// SupportsVersion reports whether the entry supports the given type version.
// Version zero means "unspecified" and resolves to version 1.
func (e *Entry) SupportsVersion(v float64) bool {
	if v == 0 {
		v = 1
	}
	for _, have := range e.Versions {
		if have == v {
			return true
		}
	}
	return false
}

// LatestVersion returns the highest supported version.
func (e *Entry) LatestVersion() float64 {
	latest := 0.0
	for _, v := range e.Versions {
		if v > latest {
			latest = v
		}
	}
	return latest
}

// Catalog is an immutable set of node type entries.
type Catalog struct {
	version string
	entries []Entry
	byType  map[string]*Entry
	index   map[string][]int // lowercased token -> entry positions
}

// Load builds a catalog from YAML bytes, validating the schema.
func Load(data []byte) (*Catalog, error) {
	var doc catalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if err := validator.New().Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, ErrCatalogEmpty
	}

	c := &Catalog{
		version: doc.Version,
		entries: make([]Entry, 0, len(doc.Nodes)),
		byType:  make(map[string]*Entry, len(doc.Nodes)),
	}
	for _, n := range doc.Nodes {
		if _, dup := c.byType[n.Type]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate node type %q", n.Type)
		}
		c.entries = append(c.entries, Entry{
			Name:               n.Name,
			Type:               n.Type,
			Kind:               n.Kind,
			Versions:           n.Versions,
			RequiredParameters: n.RequiredParameters,
			Credentials:        n.Credentials,
			Description:        n.Description,
			Keywords:           n.Keywords,
			Docs:               n.Docs,
		})
	}
	for i := range c.entries {
		c.byType[c.entries[i].Type] = &c.entries[i]
	}
	c.buildIndex()
	return c, nil
}

// LoadDefault builds the catalog from the embedded default YAML.
func LoadDefault() (*Catalog, error) {
	return Load(defaultCatalogYAML)
}

// LoadFile builds a catalog from a YAML file on disk, enforcing the size cap.
func LoadFile(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog file: %w", err)
	}
	if info.Size() > MaxCatalogFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)",
			ErrCatalogTooLarge, path, info.Size(), MaxCatalogFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Load(data)
}

// Version returns the catalog document version string.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of node types.
func (c *Catalog) Len() int { return len(c.entries) }

// Lookup returns the entry for a node type, or nil when unknown.
func (c *Catalog) Lookup(nodeType string) *Entry {
	return c.byType[nodeType]
}

// Entries returns all entries in catalog order. The slice is shared; callers
// must not mutate it.
func (c *Catalog) Entries() []Entry { return c.entries }

// Triggers returns the entries whose kind is trigger.
func (c *Catalog) Triggers() []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Kind == KindTrigger {
			out = append(out, e)
		}
	}
	return out
}

// buildIndex tokenizes names, descriptions, and keywords into the keyword
// index used by Search.
func (c *Catalog) buildIndex() {
	c.index = make(map[string][]int)
	add := func(pos int, text string) {
		for _, tok := range tokenize(text) {
			ids := c.index[tok]
			if len(ids) > 0 && ids[len(ids)-1] == pos {
				continue
			}
			c.index[tok] = append(ids, pos)
		}
	}
	for i, e := range c.entries {
		add(i, e.Name)
		add(i, e.Type)
		add(i, e.Description)
		for _, k := range e.Keywords {
			add(i, k)
		}
	}
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		isDigit := r >= '0' && r <= '9'
		isAlpha := r >= 'a' && r <= 'z'
		return !isDigit && !isAlpha
	})
}
