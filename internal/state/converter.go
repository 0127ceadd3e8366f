package state

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/livestate/internal/docstore"
)

// IDField is the record field carrying the document id.
const IDField = "id"

// Converter maps between stored documents and application records.
//
// ToBackend strips the id: for any snapshot s,
// ToBackend(FromBackend(s)) equals s.Fields.
type Converter[T any] interface {
	FromBackend(snap docstore.DocumentSnapshot) (T, error)
	ToBackend(rec T) (docstore.Fields, error)
	// ID returns the record's id, or "" when it has none.
	ID(rec T) string
	// WithID returns a copy of rec carrying id.
	WithID(rec T, id string) (T, error)
}

// Record is the default record shape: the document's fields plus "id".
type Record map[string]any

// RecordConverter converts documents to Records.
type RecordConverter struct{}

var _ Converter[Record] = RecordConverter{}

func (RecordConverter) FromBackend(snap docstore.DocumentSnapshot) (Record, error) {
	rec := Record(snap.Fields.Clone())
	if rec == nil {
		rec = Record{}
	}
	rec[IDField] = snap.Ref.ID
	return rec, nil
}

func (RecordConverter) ToBackend(rec Record) (docstore.Fields, error) {
	fields := docstore.Fields(rec).Clone()
	if fields == nil {
		fields = docstore.Fields{}
	}
	delete(fields, IDField)
	return fields, nil
}

func (RecordConverter) ID(rec Record) string {
	id, _ := rec[IDField].(string)
	return id
}

func (RecordConverter) WithID(rec Record, id string) (Record, error) {
	out := Record(docstore.Fields(rec).Clone())
	if out == nil {
		out = Record{}
	}
	out[IDField] = id
	return out, nil
}

// JSONConverter converts documents to structs through encoding/json. The
// id travels in the field tagged `json:"id"`.
type JSONConverter[T any] struct{}

func (JSONConverter[T]) FromBackend(snap docstore.DocumentSnapshot) (T, error) {
	fields := snap.Fields.Clone()
	if fields == nil {
		fields = docstore.Fields{}
	}
	fields[IDField] = snap.Ref.ID
	return fromMap[T](fields)
}

func (JSONConverter[T]) ToBackend(rec T) (docstore.Fields, error) {
	m, err := toMap(rec)
	if err != nil {
		return nil, err
	}
	delete(m, IDField)
	return docstore.Fields(m), nil
}

func (JSONConverter[T]) ID(rec T) string {
	m, err := toMap(rec)
	if err != nil {
		return ""
	}
	id, _ := m[IDField].(string)
	return id
}

func (JSONConverter[T]) WithID(rec T, id string) (T, error) {
	m, err := toMap(rec)
	if err != nil {
		var zero T
		return zero, err
	}
	m[IDField] = id
	return fromMap[T](m)
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func fromMap[T any](m map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(m)
	if err != nil {
		return out, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

// defaultConverter returns c, or RecordConverter when T is Record.
func defaultConverter[T any](c Converter[T]) (Converter[T], error) {
	if c != nil {
		return c, nil
	}
	if rc, ok := any(RecordConverter{}).(Converter[T]); ok {
		return rc, nil
	}
	var zero T
	return nil, configErr("Converter", "required for record type %T", zero)
}
