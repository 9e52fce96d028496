package zset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tuple is one fixed-arity row of scalar values.
type Tuple []Value

// NewTuple builds a tuple from the given values, normalizing each into
// the canonical value domain.
func NewTuple(vals ...Value) (Tuple, error) {
	result := make(Tuple, 0, len(vals))
	for i, v := range vals {
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, newZSetError(fmt.Sprintf("invalid value at position %d", i), err)
		}
		result = append(result, nv)
	}
	return result, nil
}

// Key returns the canonical encoding of the tuple, used as map identity
// wherever a tuple indexes a map. Tuples holding equal values share a
// key regardless of how they were constructed.
func (t Tuple) Key() (string, error) {
	normalized := make([]Value, len(t))
	for i, v := range t {
		nv, err := NormalizeValue(v)
		if err != nil {
			return "", newZSetError(fmt.Sprintf("failed to encode value at position %d", i), err)
		}
		normalized[i] = nv
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", newZSetError("failed to encode tuple", err)
	}
	return string(b), nil
}

// CompareTuples orders tuples lexicographically, shorter prefixes first.
func CompareTuples(left, right Tuple) int {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(left[i], right[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(left) < len(right):
		return -1
	case len(left) > len(right):
		return 1
	default:
		return 0
	}
}

// Equal reports whether two tuples hold equal values position by position.
func (t Tuple) Equal(other Tuple) bool {
	return CompareTuples(t, other) == 0
}

// Clone returns a copy of the tuple sharing no backing storage.
func (t Tuple) Clone() Tuple {
	result := make(Tuple, len(t))
	copy(result, t)
	return result
}

func (t Tuple) String() string {
	key, err := t.Key()
	if err != nil {
		return fmt.Sprintf("%v", []Value(t))
	}
	return key
}

// ZSet is a weighted multiset of tuples. Weights are signed: a deletion
// is weight -1, and entries whose weight reaches zero are removed.
// Tuples are not directly comparable, so the canonical tuple encoding
// keys the underlying maps.
type ZSet struct {
	tuples  map[string]Tuple
	weights map[string]int64
}

// Error type for better error handling.
type ZSetError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ZSetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func newZSetError(message string, cause error) error {
	return &ZSetError{Message: message, Cause: cause}
}

// New creates an empty ZSet.
func New() *ZSet {
	return &ZSet{
		tuples:  make(map[string]Tuple),
		weights: make(map[string]int64),
	}
}

// Singleton creates a ZSet holding one tuple with weight 1.
func Singleton(t Tuple) (*ZSet, error) {
	result := New()
	if err := result.AddTupleMutate(t, 1); err != nil {
		return nil, err
	}
	return result, nil
}

// FromTuples creates a ZSet holding each given tuple with weight 1.
func FromTuples(tuples []Tuple) (*ZSet, error) {
	result := New()
	for i, t := range tuples {
		if err := result.AddTupleMutate(t, 1); err != nil {
			return nil, newZSetError(fmt.Sprintf("failed to add tuple at index %d", i), err)
		}
	}
	return result, nil
}

// AddTuple adds a tuple with the given weight and returns a new ZSet.
func (z *ZSet) AddTuple(t Tuple, weight int64) (*ZSet, error) {
	result := z.ShallowCopy()
	err := result.AddTupleMutate(t, weight)
	return result, err
}

// AddTupleMutate adds a tuple with the given weight in place. Adding
// weight zero is a no-op; an entry whose weight cancels to zero is
// removed.
func (z *ZSet) AddTupleMutate(t Tuple, weight int64) error {
	if weight == 0 {
		return nil
	}

	key, err := t.Key()
	if err != nil {
		return err
	}

	if _, exists := z.weights[key]; exists {
		z.weights[key] += weight
	} else {
		z.tuples[key] = t
		z.weights[key] = weight
	}

	if z.weights[key] == 0 {
		delete(z.weights, key)
		delete(z.tuples, key)
	}

	return nil
}

// Add performs Z-set addition (union with weights).
func (z *ZSet) Add(other *ZSet) (*ZSet, error) {
	if other == nil {
		return z.DeepCopy(), nil
	}

	result := z.ShallowCopy()
	for key, weight := range other.weights {
		if err := result.AddTupleMutate(other.tuples[key], weight); err != nil {
			return nil, newZSetError("failed to add tuple during Z-set addition", err)
		}
	}
	return result, nil
}

// Subtract performs Z-set subtraction.
func (z *ZSet) Subtract(other *ZSet) (*ZSet, error) {
	if other == nil {
		return z.DeepCopy(), nil
	}

	result := z.ShallowCopy()
	for key, weight := range other.weights {
		if err := result.AddTupleMutate(other.tuples[key], -weight); err != nil {
			return nil, newZSetError("failed to subtract tuple during Z-set subtraction", err)
		}
	}
	return result, nil
}

// Negate flips the sign of every weight.
func (z *ZSet) Negate() *ZSet {
	result := New()
	for key, weight := range z.weights {
		result.tuples[key] = z.tuples[key]
		result.weights[key] = -weight
	}
	return result
}

// Distinct maps every positive weight to 1 and drops the rest.
func (z *ZSet) Distinct() *ZSet {
	result := New()
	for key, weight := range z.weights {
		if weight > 0 {
			result.tuples[key] = z.tuples[key]
			result.weights[key] = 1
		}
	}
	return result
}

// ShallowCopy copies the ZSet sharing the tuple storage.
func (z *ZSet) ShallowCopy() *ZSet {
	result := &ZSet{
		tuples:  make(map[string]Tuple, len(z.tuples)),
		weights: make(map[string]int64, len(z.weights)),
	}
	for key, t := range z.tuples {
		result.tuples[key] = t
	}
	for key, weight := range z.weights {
		result.weights[key] = weight
	}
	return result
}

// DeepCopy copies the ZSet and every tuple in it.
func (z *ZSet) DeepCopy() *ZSet {
	result := &ZSet{
		tuples:  make(map[string]Tuple, len(z.tuples)),
		weights: make(map[string]int64, len(z.weights)),
	}
	for key, t := range z.tuples {
		result.tuples[key] = t.Clone()
		result.weights[key] = z.weights[key]
	}
	return result
}

// Entry is one tuple with its weight.
type Entry struct {
	Tuple  Tuple
	Weight int64
}

// Entries returns every entry in deterministic tuple order.
func (z *ZSet) Entries() []Entry {
	result := make([]Entry, 0, len(z.weights))
	for key, weight := range z.weights {
		result = append(result, Entry{Tuple: z.tuples[key], Weight: weight})
	}
	sort.Slice(result, func(i, j int) bool {
		return CompareTuples(result[i].Tuple, result[j].Tuple) < 0
	})
	return result
}

// Weight returns the weight of a tuple, zero if absent.
func (z *ZSet) Weight(t Tuple) (int64, error) {
	key, err := t.Key()
	if err != nil {
		return 0, newZSetError("failed to compute tuple key", err)
	}
	return z.weights[key], nil
}

// Contains reports whether a tuple is present with positive weight.
func (z *ZSet) Contains(t Tuple) (bool, error) {
	weight, err := z.Weight(t)
	if err != nil {
		return false, err
	}
	return weight > 0, nil
}

// IsZero reports whether the ZSet holds no entries.
func (z *ZSet) IsZero() bool {
	return len(z.weights) == 0
}

// Size returns the number of distinct tuples with nonzero weight.
func (z *ZSet) Size() int {
	return len(z.weights)
}

// Equal reports whether two ZSets hold the same tuples with the same
// weights.
func (z *ZSet) Equal(other *ZSet) bool {
	if other == nil {
		return z.IsZero()
	}
	if len(z.weights) != len(other.weights) {
		return false
	}
	for key, weight := range z.weights {
		if other.weights[key] != weight {
			return false
		}
	}
	return true
}

func (z *ZSet) String() string {
	if z.IsZero() {
		return "∅"
	}
	var b strings.Builder
	for i, e := range z.Entries() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d×%s", e.Weight, e.Tuple)
	}
	return b.String()
}
