package remotestore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

var ErrNotFound = errors.New("document not found")

// Document is a schemaless record addressed by collection and id.
type Document struct {
	ID   string
	Data map[string]any
}

type Op string

const (
	OpEq Op = "=="
	OpIn Op = "in"
)

// Filter is an equality or membership predicate over a top-level field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

func In[T any](field string, values []T) Filter {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return Filter{Field: field, Op: OpIn, Value: out}
}

// SnapshotFunc receives the document state; doc is nil when it does not exist.
type SnapshotFunc func(doc *Document)

type ErrorFunc func(err error)

// Unsubscribe stops a subscription. After it returns no new callback starts.
// It is safe to call more than once.
type Unsubscribe func()

// Store is the remote document store consumed by the catalog and the watcher.
type Store interface {
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	QueryDocuments(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// SubscribeDocument delivers the current state first, then every change,
	// in order, until the returned Unsubscribe is called or ctx ends.
	SubscribeDocument(ctx context.Context, collection, id string, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
}

// Matches evaluates filters against in-memory document data. Numbers are
// compared after normalising to float64 so JSON and Go literals agree.
func Matches(data map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		got, ok := data[f.Field]
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpEq:
			if !valuesEqual(got, f.Value) {
				return false, nil
			}
		case OpIn:
			list, ok := f.Value.([]any)
			if !ok {
				return false, fmt.Errorf("filter %s in: value must be a list", f.Field)
			}
			found := false
			for _, v := range list {
				if valuesEqual(got, v) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return true, nil
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func copyData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyData(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
