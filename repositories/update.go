package repositories

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// applyUpdate applies an update document to a copy of doc and returns the copy.
func applyUpdate(doc bson.M, update bson.M) (bson.M, error) {
	out := cloneDoc(doc)
	for op, raw := range update {
		fields, ok := raw.(bson.M)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a document", ErrInvalidQuery, op)
		}
		for path, value := range fields {
			if path == "_id" {
				return nil, fmt.Errorf("%w: _id is immutable", ErrInvalidQuery)
			}
			var err error
			switch op {
			case "$set":
				err = setPath(out, path, value)
			case "$unset":
				unsetPath(out, path)
			case "$pull":
				err = editArray(out, path, func(arr bson.A) bson.A {
					kept := bson.A{}
					for _, item := range arr {
						if !equalValues(item, value) {
							kept = append(kept, item)
						}
					}
					return kept
				})
			case "$addToSet":
				err = editArray(out, path, func(arr bson.A) bson.A {
					for _, item := range eachValues(value) {
						if !containsValue(arr, item) {
							arr = append(arr, item)
						}
					}
					return arr
				})
			case "$push":
				err = editArray(out, path, func(arr bson.A) bson.A {
					return append(arr, eachValues(value)...)
				})
			default:
				return nil, fmt.Errorf("%w: unknown update operator %s", ErrInvalidQuery, op)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// eachValues expands {$each: [...]} modifiers.
func eachValues(value interface{}) bson.A {
	if m, ok := value.(bson.M); ok {
		if each, ok := m["$each"].(bson.A); ok {
			return each
		}
	}
	return bson.A{value}
}

func containsValue(arr bson.A, v interface{}) bool {
	for _, item := range arr {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

func editArray(doc bson.M, path string, edit func(bson.A) bson.A) error {
	current, exists := lookup(doc, path)
	var arr bson.A
	if exists && current != nil {
		a, ok := current.(bson.A)
		if !ok {
			return fmt.Errorf("%w: %s is not an array", ErrInvalidQuery, path)
		}
		arr = append(bson.A{}, a...)
	} else {
		arr = bson.A{}
	}
	return setPath(doc, path, edit(arr))
}

func setPath(doc bson.M, path string, value interface{}) error {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok || next == nil {
			child := bson.M{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(bson.M)
		if !ok {
			return fmt.Errorf("%w: cannot set %s", ErrInvalidQuery, path)
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := current[part].(bson.M)
		if !ok {
			return
		}
		current = child
	}
	delete(current, parts[len(parts)-1])
}

// cloneDoc deep-copies nested documents and arrays; scalars are shared.
func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return cloneDoc(t)
	case bson.A:
		arr := make(bson.A, len(t))
		for i, item := range t {
			arr[i] = cloneValue(item)
		}
		return arr
	default:
		return v
	}
}
