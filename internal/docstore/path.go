package docstore

import (
	"fmt"
	"strings"
)

// CollectionRef identifies a collection. Resolving is pure: the same path
// always yields the same reference.
type CollectionRef struct {
	Path string
}

// DocRef identifies a document inside a collection.
type DocRef struct {
	Collection string
	ID         string
}

// Collection resolves path to a collection reference.
func Collection(path string) (CollectionRef, error) {
	segs, err := splitPath(path)
	if err != nil {
		return CollectionRef{}, err
	}
	if len(segs)%2 != 1 {
		return CollectionRef{}, fmt.Errorf("%w: collection path %q must have an odd number of segments", ErrInvalidPath, path)
	}
	return CollectionRef{Path: strings.Join(segs, "/")}, nil
}

// Doc resolves path to a document reference.
func Doc(path string) (DocRef, error) {
	segs, err := splitPath(path)
	if err != nil {
		return DocRef{}, err
	}
	if len(segs)%2 != 0 {
		return DocRef{}, fmt.Errorf("%w: document path %q must have an even number of segments", ErrInvalidPath, path)
	}
	return DocRef{
		Collection: strings.Join(segs[:len(segs)-1], "/"),
		ID:         segs[len(segs)-1],
	}, nil
}

func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// Doc returns the reference of document id in the collection.
func (c CollectionRef) Doc(id string) (DocRef, error) {
	if c.Path == "" {
		return DocRef{}, fmt.Errorf("%w: unresolved collection", ErrInvalidPath)
	}
	if id == "" || strings.Contains(id, "/") {
		return DocRef{}, fmt.Errorf("%w: document id %q", ErrInvalidPath, id)
	}
	return DocRef{Collection: c.Path, ID: id}, nil
}

// IsZero reports whether the reference is unset.
func (c CollectionRef) IsZero() bool {
	return c.Path == ""
}

func (c CollectionRef) String() string {
	return c.Path
}

// Path returns the full slash-separated document path.
func (d DocRef) Path() string {
	if d.IsZero() {
		return ""
	}
	return d.Collection + "/" + d.ID
}

// Parent returns the collection containing the document.
func (d DocRef) Parent() CollectionRef {
	return CollectionRef{Path: d.Collection}
}

// IsZero reports whether the reference is unset.
func (d DocRef) IsZero() bool {
	return d.Collection == "" && d.ID == ""
}

func (d DocRef) String() string {
	return d.Path()
}
