package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/firepwn/firepwn/pkg/backend"
)

// PutDocument stores data at collection/id without recording a call.
func (b *Backend) PutDocument(collection, id string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collection(collection)[id] = copyMap(data)
}

// Document returns a copy of a stored document.
func (b *Backend) Document(collection, id string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, ok := b.docs[collection][id]
	if !ok {
		return nil, false
	}
	return copyMap(doc), true
}

// RequireIndex makes queries that filter or sort on field fail with
// failed-precondition, as Firestore does for fields without an index.
func (b *Backend) RequireIndex(field string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unindexed[field] = true
}

// collection returns the document map for name, creating it. b.mu must be held.
func (b *Backend) collection(name string) map[string]map[string]any {
	coll, ok := b.docs[name]
	if !ok {
		coll = make(map[string]map[string]any)
		b.docs[name] = coll
	}
	return coll
}

type store struct {
	b *Backend
}

func (s *store) Get(ctx context.Context, collection, id string) (*backend.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Store.Get"); err != nil {
		return nil, err
	}

	doc, ok := s.b.docs[collection][id]
	if !ok {
		return nil, backend.NewError(backend.CodeNotFound, "document %s/%s not found", collection, id)
	}
	return &backend.Document{ID: id, Data: copyMap(doc)}, nil
}

func (s *store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Store.Set"); err != nil {
		return err
	}

	coll := s.b.collection(collection)
	existing, ok := coll[id]
	if merge && ok {
		mergeInto(existing, copyMap(data))
		return nil
	}
	coll[id] = copyMap(data)
	return nil
}

func (s *store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Store.Add"); err != nil {
		return "", err
	}

	s.b.nextAutoID++
	id := fmt.Sprintf("auto%06d", s.b.nextAutoID)
	s.b.collection(collection)[id] = copyMap(data)
	return id, nil
}

func (s *store) Update(ctx context.Context, collection, id string, data map[string]any) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Store.Update"); err != nil {
		return err
	}

	doc, ok := s.b.docs[collection][id]
	if !ok {
		return backend.NewError(backend.CodeNotFound, "No document to update: %s/%s", collection, id)
	}
	for path, v := range data {
		setPath(doc, path, copyValue(v))
	}
	return nil
}

func (s *store) Delete(ctx context.Context, collection, id string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Store.Delete"); err != nil {
		return err
	}
	delete(s.b.docs[collection], id)
	return nil
}

func (s *store) Query(ctx context.Context, q backend.Query) ([]*backend.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if err := s.b.enter("Store.Query"); err != nil {
		return nil, err
	}

	if q.OrderBy != "" && s.b.unindexed[q.OrderBy] || q.Filter != nil && s.b.unindexed[q.Filter.Field] {
		return nil, backend.NewError(backend.CodeFailedPrecondition, "The query requires an index.")
	}

	ids := make([]string, 0, len(s.b.docs[q.Collection]))
	for id := range s.b.docs[q.Collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*backend.Document
	for _, id := range ids {
		data := s.b.docs[q.Collection][id]
		if q.Filter != nil {
			v, ok := getPath(data, q.Filter.Field)
			if !ok || !matches(v, q.Filter.Op, q.Filter.Value) {
				continue
			}
		}
		if q.OrderBy != "" {
			if _, ok := getPath(data, q.OrderBy); !ok {
				continue
			}
		}
		out = append(out, &backend.Document{ID: id, Data: copyMap(data)})
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			vi, _ := getPath(out[i].Data, q.OrderBy)
			vj, _ := getPath(out[j].Data, q.OrderBy)
			c := compare(vi, vj)
			if q.Direction == backend.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(v any, op string, want any) bool {
	switch op {
	case backend.OpEqual:
		return compare(v, want) == 0
	case backend.OpNotEqual:
		return compare(v, want) != 0
	case backend.OpLess:
		return sameKind(v, want) && compare(v, want) < 0
	case backend.OpLessOrEqual:
		return sameKind(v, want) && compare(v, want) <= 0
	case backend.OpGreater:
		return sameKind(v, want) && compare(v, want) > 0
	case backend.OpGreaterOrEqual:
		return sameKind(v, want) && compare(v, want) >= 0
	case backend.OpArrayContains:
		arr, ok := v.([]any)
		return ok && containsValue(arr, want)
	case backend.OpArrayContainsAny:
		arr, ok := v.([]any)
		wants, ok2 := want.([]any)
		if !ok || !ok2 {
			return false
		}
		for _, w := range wants {
			if containsValue(arr, w) {
				return true
			}
		}
		return false
	case backend.OpIn:
		wants, ok := want.([]any)
		return ok && containsValue(wants, v)
	case backend.OpNotIn:
		wants, ok := want.([]any)
		return ok && !containsValue(wants, v)
	}
	return false
}

func containsValue(arr []any, v any) bool {
	for _, a := range arr {
		if compare(a, v) == 0 {
			return true
		}
	}
	return false
}

// typeRank orders values of different kinds the way Firestore does.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int64, float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	}
	return 6
}

func sameKind(a, b any) bool { return typeRank(a) == typeRank(b) }

func compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}

	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case string:
		return strings.Compare(av, b.(string))
	case int, int64, float64:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func getPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(data map[string]any, path string, v any) {
	segs := strings.Split(path, ".")
	cur := data
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		existing, ok2 := dst[k].(map[string]any)
		if ok && ok2 {
			mergeInto(existing, sub)
			continue
		}
		dst[k] = v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}
