// Package offense holds the offense record fetched from the SIEM and the
// identifier set used to remember which offenses were already notified.
package offense

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fields is the projection requested from /api/siem/offenses.
var Fields = []string{
	"id",
	"description",
	"status",
	"categories",
	"start_time",
	"severity",
	"offense_source",
	"source_network",
	"destination_networks",
}

// Offense is one security offense as returned by the SIEM.
// Optional fields are left at their zero value when absent or null.
type Offense struct {
	ID                  ID       `json:"id"`
	Description         string   `json:"description"`
	Status              string   `json:"status"`
	Categories          []string `json:"categories,omitempty"`
	StartTime           int64    `json:"start_time"` // epoch milliseconds
	Severity            int      `json:"severity"`
	OffenseSource       string   `json:"offense_source,omitempty"`
	SourceNetwork       string   `json:"source_network,omitempty"`
	DestinationNetworks []string `json:"destination_networks,omitempty"`
}

// ID is an offense identifier. QRadar uses integers; strings are accepted
// so that other sources (and hand-edited cache files) keep working.
type ID string

// IsNumeric reports whether the identifier is a canonical integer literal,
// i.e. one that survives a round trip through strconv unchanged. "007", "+5"
// and "-0" are not numeric.
func (id ID) IsNumeric() bool {
	_, ok := id.int64()
	return ok
}

func (id ID) int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != string(id) {
		return 0, false
	}
	return n, true
}

func (id ID) String() string { return string(id) }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNumeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("offense id: %w", err)
	}
	// Integral floats ("12.0") collapse to their integer form.
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("offense id: %w", err)
	}
	if f == float64(int64(f)) {
		*id = ID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// IDSet is the set of offense identifiers that were already notified.
type IDSet map[ID]struct{}

func NewIDSet(ids ...ID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id ID) { s[id] = struct{}{} }

func (s IDSet) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Len() int { return len(s) }

// Clone returns an independent copy of s.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same identifiers.
func (s IDSet) Equal(o IDSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Sorted returns the identifiers in a stable order: numeric identifiers
// ascending by value first, then the rest lexically.
func (s IDSet) Sorted() []ID {
	out := make([]ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i], out[j]) })
	return out
}

func lessID(a, b ID) bool {
	ai, aok := a.int64()
	bi, bok := b.int64()
	switch {
	case aok && bok:
		return ai < bi
	case aok:
		return true
	case bok:
		return false
	default:
		return a < b
	}
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts only a JSON array; null and other values are errors.
func (s *IDSet) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '[' {
		return errors.New("offense id set: expected a JSON array")
	}
	var ids []ID
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	out := make(IDSet, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out.Add(id)
	}
	*s = out
	return nil
}
