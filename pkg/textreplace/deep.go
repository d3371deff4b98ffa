package textreplace

import (
	"errors"
	"fmt"
)

// DefaultMaxDepth bounds recursion in MutateByKey and FindByKey.
// Lexical documents nest a handful of levels (root > block > inline).
const DefaultMaxDepth = 512

// ErrMaxDepthExceeded is returned when a tree nests deeper than the walk allows.
var ErrMaxDepthExceeded = errors.New("tree exceeds maximum depth")

// DepthError reports where the depth bound was hit.
type DepthError struct {
	Key   string
	Depth int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("walking key %q: depth %d: %v", e.Key, e.Depth, ErrMaxDepthExceeded)
}

func (e *DepthError) Unwrap() error {
	return ErrMaxDepthExceeded
}

// MutateByKey rewrites, in place, every value stored under key anywhere in
// node. node is a decoded JSON value: map[string]any, []any or a scalar.
//
// A matched value is replaced by mutate(value) and is not descended into;
// every other map value and slice element is walked. The result does not
// depend on map iteration order.
func MutateByKey(node any, key string, mutate func(any) any) error {
	return mutateByKey(node, key, mutate, 0, DefaultMaxDepth)
}

// MutateByKeyDepth is MutateByKey with an explicit depth bound.
func MutateByKeyDepth(node any, key string, mutate func(any) any, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return mutateByKey(node, key, mutate, 0, maxDepth)
}

func mutateByKey(node any, key string, mutate func(any) any, depth, maxDepth int) error {
	if depth > maxDepth {
		return &DepthError{Key: key, Depth: depth}
	}

	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if k == key {
				n[k] = mutate(v)
				continue
			}
			if err := mutateByKey(v, key, mutate, depth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range n {
			if err := mutateByKey(item, key, mutate, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindByKey returns every value stored under key anywhere in node.
//
// Unlike MutateByKey, matched values are also descended into, so a key nested
// under another match is found too. Order follows slices; sibling map keys
// come back in unspecified order.
func FindByKey(node any, key string) ([]any, error) {
	var out []any
	err := findByKey(node, key, 0, DefaultMaxDepth, &out)
	return out, err
}

func findByKey(node any, key string, depth, maxDepth int, out *[]any) error {
	if depth > maxDepth {
		return &DepthError{Key: key, Depth: depth}
	}

	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if k == key {
				*out = append(*out, v)
			}
			if err := findByKey(v, key, depth+1, maxDepth, out); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range n {
			if err := findByKey(item, key, depth+1, maxDepth, out); err != nil {
				return err
			}
		}
	}
	return nil
}
