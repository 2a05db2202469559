package repositories

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matches evaluates a MongoDB-style filter against a decoded document.
func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$and", "$or", "$nor":
			clauses, ok := cond.(bson.A)
			if !ok || len(clauses) == 0 {
				return false, fmt.Errorf("%w: %s needs a non-empty array", ErrInvalidQuery, key)
			}
			hits := 0
			for _, clause := range clauses {
				sub, ok := clause.(bson.M)
				if !ok {
					return false, fmt.Errorf("%w: %s entries must be documents", ErrInvalidQuery, key)
				}
				ok, err := matches(doc, sub)
				if err != nil {
					return false, err
				}
				if ok {
					hits++
				}
			}
			switch {
			case key == "$and" && hits != len(clauses):
				return false, nil
			case key == "$or" && hits == 0:
				return false, nil
			case key == "$nor" && hits > 0:
				return false, nil
			}
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("%w: unknown top level operator %s", ErrInvalidQuery, key)
			}
			value, exists := lookup(doc, key)
			ok, err := matchField(value, exists, cond)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func lookup(doc bson.M, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(bson.M)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func isOperatorDoc(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func matchField(value interface{}, exists bool, cond interface{}) (bool, error) {
	if re, ok := cond.(primitive.Regex); ok {
		cond = bson.M{"$regex": re}
	}
	ops, ok := cond.(bson.M)
	if !ok || !isOperatorDoc(ops) {
		return equalsMatch(value, exists, cond), nil
	}

	for op, operand := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = equalsMatch(value, exists, operand)
		case "$ne":
			ok = !equalsMatch(value, exists, operand)
		case "$gt", "$gte", "$lt", "$lte":
			ok = exists && anyElement(value, func(v interface{}) bool {
				c, comparable := compareValues(v, operand)
				if !comparable {
					return false
				}
				switch op {
				case "$gt":
					return c > 0
				case "$gte":
					return c >= 0
				case "$lt":
					return c < 0
				default:
					return c <= 0
				}
			})
		case "$in", "$nin":
			list, isList := operand.(bson.A)
			if !isList {
				return false, fmt.Errorf("%w: %s needs an array", ErrInvalidQuery, op)
			}
			found := false
			for _, candidate := range list {
				if equalsMatch(value, exists, candidate) {
					found = true
					break
				}
			}
			ok = found == (op == "$in")
		case "$exists":
			ok = exists == truthy(operand)
		case "$size":
			arr, isArr := value.(bson.A)
			n, isNum := toFloat(operand)
			ok = isArr && isNum && float64(len(arr)) == n
		case "$regex":
			re, err := compileRegex(operand, ops["$options"])
			if err != nil {
				return false, err
			}
			ok = exists && anyElement(value, func(v interface{}) bool {
				s, isStr := v.(string)
				return isStr && re.MatchString(s)
			})
		case "$options":
			continue
		default:
			return false, fmt.Errorf("%w: unknown operator %s", ErrInvalidQuery, op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// equalsMatch follows MongoDB equality: arrays match when any element
// matches, null matches a missing field.
func equalsMatch(value interface{}, exists bool, want interface{}) bool {
	if want == nil {
		return !exists || value == nil
	}
	if !exists {
		return false
	}
	if equalValues(value, want) {
		return true
	}
	if arr, ok := value.(bson.A); ok {
		for _, item := range arr {
			if equalValues(item, want) {
				return true
			}
		}
	}
	return false
}

func anyElement(value interface{}, pred func(interface{}) bool) bool {
	if arr, ok := value.(bson.A); ok {
		for _, item := range arr {
			if pred(item) {
				return true
			}
		}
		return false
	}
	return pred(value)
}

func equalValues(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func compileRegex(pattern, options interface{}) (*regexp.Regexp, error) {
	var expr, flags string
	switch p := pattern.(type) {
	case string:
		expr = p
	case primitive.Regex:
		expr, flags = p.Pattern, p.Options
	default:
		return nil, fmt.Errorf("%w: $regex needs a string", ErrInvalidQuery)
	}
	if s, ok := options.(string); ok {
		flags += s
	}
	var prefix string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix += string(f)
		}
	}
	if prefix != "" {
		expr = "(?" + prefix + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return re, nil
}

// Type brackets in MongoDB's cross-type sort order.
const (
	rankNull = iota
	rankNumber
	rankString
	rankDocument
	rankArray
	rankObjectID
	rankBool
	rankDate
	rankOther
)

func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNull
	case int, int32, int64, float64:
		return rankNumber
	case string:
		return rankString
	case bson.M, bson.D:
		return rankDocument
	case bson.A:
		return rankArray
	case primitive.ObjectID:
		return rankObjectID
	case bool:
		return rankBool
	case primitive.DateTime, time.Time:
		return rankDate
	default:
		return rankOther
	}
}

// compareValues orders two scalars of the same type bracket. The second
// result is false when the values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return 0, false
	}
	switch ra {
	case rankNull:
		return 0, true
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return compareOrdered(fa, fb), true
	case rankString:
		return strings.Compare(a.(string), b.(string)), true
	case rankObjectID:
		ia, ib := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(ia[:], ib[:]), true
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		default:
			return 1, true
		}
	case rankDate:
		return compareOrdered(toMillis(a), toMillis(b)), true
	}
	return 0, false
}

func compareOrdered[N int64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toMillis(v interface{}) int64 {
	switch t := v.(type) {
	case primitive.DateTime:
		return int64(t)
	case time.Time:
		return t.UnixMilli()
	}
	return 0
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

// sortLess orders two documents by a sort document. Missing fields sort as null.
func sortLess(a, b bson.M, order bson.D) bool {
	for _, e := range order {
		dir := 1
		if f, ok := toFloat(e.Value); ok && f < 0 {
			dir = -1
		}
		va, _ := lookup(a, e.Key)
		vb, _ := lookup(b, e.Key)
		c := sortCompare(va, vb)
		if c != 0 {
			return c*dir < 0
		}
	}
	return false
}

func sortCompare(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareOrdered(int64(ra), int64(rb))
	}
	c, _ := compareValues(a, b)
	return c
}

// project applies an inclusion or exclusion projection. _id is kept unless
// excluded explicitly.
func project(doc bson.M, fields bson.D) (bson.M, error) {
	if len(fields) == 0 {
		return doc, nil
	}

	keepID, onlyID := true, false
	include := map[string]bool{}
	exclude := map[string]bool{}
	for _, e := range fields {
		on := truthy(e.Value)
		if e.Key == "_id" {
			keepID, onlyID = on, on
			continue
		}
		if on {
			include[e.Key] = true
		} else {
			exclude[e.Key] = true
		}
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("%w: cannot mix inclusion and exclusion in a projection", ErrInvalidQuery)
	}

	out := bson.M{}
	if len(include) > 0 || (onlyID && len(exclude) == 0) {
		for k := range include {
			if v, ok := doc[k]; ok {
				out[k] = v
			}
		}
	} else {
		for k, v := range doc {
			if !exclude[k] {
				out[k] = v
			}
		}
	}
	if keepID {
		if id, ok := doc["_id"]; ok {
			out["_id"] = id
		}
	} else {
		delete(out, "_id")
	}
	return out, nil
}
