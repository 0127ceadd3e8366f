package docstore

// DocumentSnapshot is the state of one document at a point in time.
//
// Version is the store version of the last write for an existing document,
// or the store clock at read time when the document does not exist.
type DocumentSnapshot struct {
	Ref     DocRef
	Fields  Fields
	Version int64
	Exists  bool
}

// ID returns the document id.
func (s DocumentSnapshot) ID() string {
	return s.Ref.ID
}

// QuerySnapshot is the result set of a query at a point in time.
type QuerySnapshot struct {
	Query   Query
	Docs    []DocumentSnapshot
	Version int64
}

// Empty reports whether the query matched no documents.
func (s QuerySnapshot) Empty() bool {
	return len(s.Docs) == 0
}

// IDs returns the ids of the matched documents in result order.
func (s QuerySnapshot) IDs() []string {
	ids := make([]string, len(s.Docs))
	for i, d := range s.Docs {
		ids[i] = d.Ref.ID
	}
	return ids
}

// SameState reports whether two snapshots of one document describe the same
// stored state. Missing documents are all the same state regardless of the
// clock value they were read at.
func (s DocumentSnapshot) SameState(o DocumentSnapshot) bool {
	if s.Exists != o.Exists || s.Ref != o.Ref {
		return false
	}
	return !s.Exists || s.Version == o.Version
}

// SameResult reports whether two query snapshots hold the same documents at
// the same versions in the same order.
func (s QuerySnapshot) SameResult(o QuerySnapshot) bool {
	if len(s.Docs) != len(o.Docs) {
		return false
	}
	for i := range s.Docs {
		if !s.Docs[i].SameState(o.Docs[i]) {
			return false
		}
	}
	return true
}
