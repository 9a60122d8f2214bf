package entity

import (
	"encoding/json"
	"sort"

	"github.com/joseph-ayodele/exams-tracker/constants"
)

// EntryKind tells canonical exam names apart from names only the extraction service knows.
type EntryKind string

const (
	Canonical EntryKind = "canonical"
	Overflow  EntryKind = "overflow"
)

// ResultEntry is one exam value. Kind is derived, never persisted.
type ResultEntry struct {
	Value string    `json:"value"`
	Kind  EntryKind `json:"kind"`
}

// ResultTable maps category id -> exam name -> entry. It serializes as a
// plain category -> exam -> value object.
type ResultTable map[string]map[string]ResultEntry

// Entry is a flattened row of a ResultTable.
type Entry struct {
	Category string    `json:"category"`
	Exam     string    `json:"exam"`
	Value    string    `json:"value"`
	Kind     EntryKind `json:"kind"`
}

func NewResultTable() ResultTable {
	return ResultTable{}
}

// KindFor tags an exam name against the canonical list of its category.
func KindFor(category, exam string) EntryKind {
	if constants.IsCanonicalExam(category, exam) {
		return Canonical
	}
	return Overflow
}

// Set stores value, creating the category bucket when absent.
func (t ResultTable) Set(category, exam, value string) {
	bucket, ok := t[category]
	if !ok {
		bucket = map[string]ResultEntry{}
		t[category] = bucket
	}
	bucket[exam] = ResultEntry{Value: value, Kind: KindFor(category, exam)}
}

func (t ResultTable) Get(category, exam string) (ResultEntry, bool) {
	bucket, ok := t[category]
	if !ok {
		return ResultEntry{}, false
	}
	e, ok := bucket[exam]
	return e, ok
}

// Len counts entries across all categories.
func (t ResultTable) Len() int {
	n := 0
	for _, bucket := range t {
		n += len(bucket)
	}
	return n
}

func (t ResultTable) IsEmpty() bool {
	return t.Len() == 0
}

func (t ResultTable) Clone() ResultTable {
	out := make(ResultTable, len(t))
	for category, bucket := range t {
		b := make(map[string]ResultEntry, len(bucket))
		for exam, e := range bucket {
			b[exam] = e
		}
		out[category] = b
	}
	return out
}

// Values returns the plain category -> exam -> value form.
func (t ResultTable) Values() map[string]map[string]string {
	out := make(map[string]map[string]string, len(t))
	for category, bucket := range t {
		b := make(map[string]string, len(bucket))
		for exam, e := range bucket {
			b[exam] = e.Value
		}
		out[category] = b
	}
	return out
}

// Entries flattens the table sorted by category then exam name, for display and export.
func (t ResultTable) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	for category, bucket := range t {
		for exam, e := range bucket {
			out = append(out, Entry{Category: category, Exam: exam, Value: e.Value, Kind: e.Kind})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Exam < out[j].Exam
	})
	return out
}

func (t ResultTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Values())
}

func (t *ResultTable) UnmarshalJSON(data []byte) error {
	var plain map[string]map[string]string
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	out := make(ResultTable, len(plain))
	for category, bucket := range plain {
		if bucket == nil {
			out[category] = map[string]ResultEntry{}
			continue
		}
		for exam, value := range bucket {
			out.Set(category, exam, value)
		}
	}
	*t = out
	return nil
}
