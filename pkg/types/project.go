package types

import (
	"path/filepath"
	"strings"
)

// storage backend a project lives on
type BackendKind string

const (
	BackendXML      BackendKind = "xml"
	BackendDatabase BackendKind = "db"
)

// logical identity of a project
// two identities refer to the same project when name (case-insensitive),
// backend and cleaned path all match
type ProjectIdentity struct {
	Name    string      `json:"name"`
	Backend BackendKind `json:"backend"`
	Path    string      `json:"path"`
}

// zero value is the "unknown" sentinel
func (p ProjectIdentity) IsZero() bool {
	return p.Name == "" && p.Backend == "" && p.Path == ""
}

func (p ProjectIdentity) Equal(o ProjectIdentity) bool {
	if p.IsZero() || o.IsZero() {
		return p.IsZero() && o.IsZero()
	}
	return strings.EqualFold(p.Name, o.Name) &&
		p.Backend == o.Backend &&
		cleanPath(p.Path) == cleanPath(o.Path)
}

func (p ProjectIdentity) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidProject
	}
	switch p.Backend {
	case BackendXML, BackendDatabase:
	default:
		return ErrInvalidProject
	}
	return nil
}

func (p ProjectIdentity) String() string {
	if p.IsZero() {
		return "<unknown>"
	}
	return string(p.Backend) + ":" + p.Name
}

func cleanPath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}
