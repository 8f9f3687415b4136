// Package models defines the shared domain records of the service layer.
package models

import "time"

// GraphFile is the storage metadata of one graph definition file.
type GraphFile struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GraphSummary is a catalogued graph definition.
type GraphSummary struct {
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	Output    string    `json:"output"`
	Device    string    `json:"device,omitempty"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device binds an output device to a color profile and, optionally, to the
// CMM preferred for its conversions.
type Device struct {
	ID        string    `json:"id"`
	Class     string    `json:"class"`
	Profile   string    `json:"profile"`
	Preferred string    `json:"preferred,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	Signature  string      `json:"signature"`
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	APIVersion string      `json:"api_version"`
	Override   bool        `json:"override,omitempty"`
	Records    []RecordRef `json:"records"`
}

// RecordRef is one capability record of a module.
type RecordRef struct {
	Kind         string `json:"kind"`
	Registration string `json:"registration"`
}

// Candidate is one ranked answer to a module query.
type Candidate struct {
	Signature    string `json:"signature"`
	Registration string `json:"registration"`
	Raw          int    `json:"raw"`
	Rank         int    `json:"rank"`
	Preferred    bool   `json:"preferred"`
}
