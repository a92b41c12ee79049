package emit

import (
	"bytes"
	"fmt"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// ArtifactInfo is artifact metadata: hash provenance and relations to
// other artifacts.
type ArtifactInfo struct {
	// ContentHash is the hash the artifact's name or caching derives from.
	ContentHash string `json:"content_hash,omitempty"`

	// HashedName reports whether the artifact name embeds the hash.
	HashedName bool `json:"hashed_name,omitempty"`

	// Related names artifacts this one references (child group artifacts
	// of a runtime group, a unit's sub-artifacts).
	Related []string `json:"related,omitempty"`
}

// Artifact is one named output: bytes plus metadata.
type Artifact struct {
	Name    string       `json:"name"`
	Content []byte       `json:"-"`
	Info    ArtifactInfo `json:"info"`
}

// ArtifactSet is the ordered output surface. Two producers targeting the
// same name with different content is a conflict: reported, last write
// wins.
type ArtifactSet struct {
	order  []string
	byName map[string]*Artifact
}

// NewArtifactSet creates an empty artifact set.
func NewArtifactSet() *ArtifactSet {
	return &ArtifactSet{byName: make(map[string]*Artifact)}
}

// Add inserts an artifact, reporting a ConflictError through rep when the
// name was already produced with different content.
func (s *ArtifactSet) Add(a *Artifact, rep Reporter) {
	if existing, ok := s.byName[a.Name]; ok {
		if !bytes.Equal(existing.Content, a.Content) {
			rep.AddError(engine.NewConflictError(
				fmt.Sprintf("artifact %q emitted twice with different content", a.Name), nil).
				WithResource(a.Name))
		}
		s.byName[a.Name] = a
		return
	}
	s.order = append(s.order, a.Name)
	s.byName[a.Name] = a
}

// Get returns the artifact with the given name, or nil.
func (s *ArtifactSet) Get(name string) *Artifact {
	return s.byName[name]
}

// List returns the artifacts in emission order.
func (s *ArtifactSet) List() []*Artifact {
	out := make([]*Artifact, len(s.order))
	for i, name := range s.order {
		out[i] = s.byName[name]
	}
	return out
}

// Len returns the number of distinct artifact names.
func (s *ArtifactSet) Len() int {
	return len(s.order)
}
