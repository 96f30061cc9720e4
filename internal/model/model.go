// Package model defines the per-application injection config and the
// ordered store that maps application identifiers to it.
package model

import (
	"bytes"
	"encoding/json"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is the injection config of one tracked application.
type Record struct {
	DefaultLib bool   `json:"defaultLib"`
	LibPath    string `json:"libPath"`
	Status     bool   `json:"status"`
}

// DefaultRecord is assigned to newly added applications and substituted
// for applications that have no record.
func DefaultRecord() Record {
	return Record{DefaultLib: true, LibPath: "", Status: false}
}

var (
	jsonTrue  = []byte("true")
	jsonFalse = []byte("false")
)

// UnmarshalJSON decodes leniently: defaultLib holds unless stored as the
// literal false, status holds only when stored as the literal true, and a
// non-object value decodes to DefaultRecord.
func (r *Record) UnmarshalJSON(data []byte) error {
	*r = DefaultRecord()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}
	if v, ok := fields["defaultLib"]; ok && bytes.Equal(bytes.TrimSpace(v), jsonFalse) {
		r.DefaultLib = false
	}
	if v, ok := fields["status"]; ok && bytes.Equal(bytes.TrimSpace(v), jsonTrue) {
		r.Status = true
	}
	if v, ok := fields["libPath"]; ok {
		var p string
		if json.Unmarshal(v, &p) == nil {
			r.LibPath = p
		}
	}
	return nil
}

// WantsDeployment reports whether saving r must copy a replacement library.
func (r Record) WantsDeployment() bool {
	return !r.DefaultLib && strings.TrimSpace(r.LibPath) != ""
}

// Form is the editable view of a Record.
type Form struct {
	UseDefaultLib   bool   `json:"defaultLib"`
	LibPath         string `json:"libPath"`
	EnableInjection bool   `json:"status"`
}

// FormFor populates the editable fields from r.
func FormFor(r Record) Form {
	return Form{
		UseDefaultLib:   r.DefaultLib,
		LibPath:         r.LibPath,
		EnableInjection: r.Status,
	}
}

// Record converts the form back into a full record. The library path is trimmed.
func (f Form) Record() Record {
	return Record{
		DefaultLib: f.UseDefaultLib,
		LibPath:    strings.TrimSpace(f.LibPath),
		Status:     f.EnableInjection,
	}
}

// Store maps application identifiers to records, keeping insertion order.
type Store struct {
	m *orderedmap.OrderedMap[string, Record]
}

func NewStore() *Store {
	return &Store{m: orderedmap.New[string, Record]()}
}

func (s *Store) Get(id string) (Record, bool) {
	return s.m.Get(id)
}

// Set inserts or replaces the record for id. A replaced id keeps its position.
func (s *Store) Set(id string, r Record) {
	s.m.Set(id, r)
}

// Delete removes id and reports whether it was present.
func (s *Store) Delete(id string) bool {
	_, ok := s.m.Delete(id)
	return ok
}

func (s *Store) Has(id string) bool {
	_, ok := s.m.Get(id)
	return ok
}

func (s *Store) Len() int {
	return s.m.Len()
}

// Keys returns identifiers in insertion order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.m.Len())
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	c := NewStore()
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		c.m.Set(p.Key, p.Value)
	}
	return c
}

// Equal reports whether both stores hold the same records in the same order.
func (s *Store) Equal(o *Store) bool {
	if s.Len() != o.Len() {
		return false
	}
	a, b := s.m.Oldest(), o.m.Oldest()
	for a != nil && b != nil {
		if a.Key != b.Key || a.Value != b.Value {
			return false
		}
		a, b = a.Next(), b.Next()
	}
	return true
}

func (s *Store) MarshalJSON() ([]byte, error) {
	return s.m.MarshalJSON()
}

func (s *Store) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, Record]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	s.m = m
	return nil
}
