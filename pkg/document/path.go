package document

import (
	"strconv"
	"strings"

	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/value"
)

// segment is one step of a parsed path: either an object field name or
// an array index.
type segment struct {
	field   string
	index   int
	isIndex bool
}

// parsePath turns a path expression ("$", "$.field", "field.sub",
// "$.items[0].name") into a segment list. "$" and "" both mean the
// document root and parse to an empty segment list.
func parsePath(path string) ([]segment, error) {
	p := strings.TrimSpace(path)
	if p == "" || p == "$" {
		return nil, nil
	}
	if strings.HasPrefix(p, "$") {
		p = strings.TrimPrefix(p[1:], ".")
	}

	var segments []segment
	for len(p) > 0 {
		if p[0] == '[' {
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, errors.InvalidArgumentf("document: unterminated '[' in path %q", path)
			}
			idx, err := strconv.Atoi(p[1:end])
			if err != nil {
				return nil, errors.InvalidArgumentf("document: invalid array index in path %q", path)
			}
			segments = append(segments, segment{isIndex: true, index: idx})
			p = strings.TrimPrefix(p[end+1:], ".")
			continue
		}

		i := strings.IndexAny(p, ".[")
		var field string
		if i < 0 {
			field, p = p, ""
		} else {
			field = p[:i]
			p = strings.TrimPrefix(p[i:], ".")
		}
		if field == "" {
			return nil, errors.InvalidArgumentf("document: empty path segment in %q", path)
		}
		segments = append(segments, segment{field: field})
	}
	return segments, nil
}

// getPath walks root along segments, returning (value, false) if any
// segment is absent.
func getPath(root value.Value, segments []segment) (value.Value, bool) {
	cur := root
	for _, seg := range segments {
		if seg.isIndex {
			arr, ok := cur.AsArray()
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return value.Value{}, false
			}
			cur = arr[seg.index]
		} else {
			obj, ok := cur.AsObject()
			if !ok {
				return value.Value{}, false
			}
			v, ok := obj[seg.field]
			if !ok {
				return value.Value{}, false
			}
			cur = v
		}
	}
	return cur, true
}

// setPath returns a new root with newVal placed at segments, creating
// missing intermediate Objects for field-name segments along the way.
// A numeric-index segment requires an already-existing Array of
// sufficient length: it never fabricates array length. Any segment
// that must traverse a non-Object (for a field) or a non-Array (for an
// index) fails.
func setPath(root value.Value, segments []segment, newVal value.Value) (value.Value, error) {
	if len(segments) == 0 {
		return newVal, nil
	}

	seg := segments[0]
	rest := segments[1:]

	if seg.isIndex {
		arr, ok := root.AsArray()
		if !ok {
			return value.Value{}, errors.InvalidArgument("document: path indexes into a non-array")
		}
		if seg.index < 0 || seg.index >= len(arr) {
			return value.Value{}, errors.InvalidArgument("document: array index out of range")
		}
		newArr := append([]value.Value(nil), arr...)
		updated, err := setPath(newArr[seg.index], rest, newVal)
		if err != nil {
			return value.Value{}, err
		}
		newArr[seg.index] = updated
		return value.Array(newArr), nil
	}

	var obj map[string]value.Value
	switch {
	case root.IsNull():
		obj = map[string]value.Value{}
	default:
		var ok bool
		obj, ok = root.AsObject()
		if !ok {
			return value.Value{}, errors.InvalidArgument("document: path sets a field on a non-object")
		}
	}

	newObj := make(map[string]value.Value, len(obj)+1)
	for k, v := range obj {
		newObj[k] = v
	}

	child := newObj[seg.field] // zero Value (Null) if absent, the missing-intermediate-Object case
	updated, err := setPath(child, rest, newVal)
	if err != nil {
		return value.Value{}, err
	}
	newObj[seg.field] = updated
	return value.Object(newObj), nil
}

// deletePath removes the entry addressed by segments, returning the
// updated root and whether anything was actually removed. Deleting an
// absent path is a no-op, not an error.
func deletePath(root value.Value, segments []segment) (value.Value, bool, error) {
	seg := segments[0]
	rest := segments[1:]

	if len(rest) == 0 {
		if seg.isIndex {
			arr, ok := root.AsArray()
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return root, false, nil
			}
			newArr := append([]value.Value(nil), arr[:seg.index]...)
			newArr = append(newArr, arr[seg.index+1:]...)
			return value.Array(newArr), true, nil
		}

		obj, ok := root.AsObject()
		if !ok {
			return root, false, nil
		}
		if _, existed := obj[seg.field]; !existed {
			return root, false, nil
		}
		newObj := make(map[string]value.Value, len(obj))
		for k, v := range obj {
			if k != seg.field {
				newObj[k] = v
			}
		}
		return value.Object(newObj), true, nil
	}

	if seg.isIndex {
		arr, ok := root.AsArray()
		if !ok || seg.index < 0 || seg.index >= len(arr) {
			return root, false, nil
		}
		updatedChild, removed, err := deletePath(arr[seg.index], rest)
		if err != nil || !removed {
			return root, removed, err
		}
		newArr := append([]value.Value(nil), arr...)
		newArr[seg.index] = updatedChild
		return value.Array(newArr), true, nil
	}

	obj, ok := root.AsObject()
	if !ok {
		return root, false, nil
	}
	child, existed := obj[seg.field]
	if !existed {
		return root, false, nil
	}
	updatedChild, removed, err := deletePath(child, rest)
	if err != nil || !removed {
		return root, removed, err
	}
	newObj := make(map[string]value.Value, len(obj))
	for k, v := range obj {
		newObj[k] = v
	}
	newObj[seg.field] = updatedChild
	return value.Object(newObj), true, nil
}
