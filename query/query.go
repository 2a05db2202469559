// Package query turns list request parameters (where, sort, select, skip,
// limit, count) into a store query.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Query is the normalized form of a list request.
type Query struct {
	Filter     bson.M
	Sort       bson.D
	Projection bson.D
	Skip       int64
	// Limit of zero means no limit.
	Limit int64
	Count bool
}

// Options holds per-collection defaults.
type Options struct {
	DefaultLimit int64
	// DateFields are cast from RFC3339 strings to dates inside where.
	DateFields []string
}

// ParamError reports a malformed request parameter.
type ParamError struct {
	Param string
	JSON  bool
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("query: invalid %s parameter: %v", e.Param, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

// Detail is the client-facing description of the problem.
func (e *ParamError) Detail() string {
	if e.JSON {
		return fmt.Sprintf("Invalid JSON in %s parameter", e.Param)
	}
	return fmt.Sprintf("Invalid %s parameter", e.Param)
}

var errNegative = errors.New("must be a non-negative integer")

// Parse builds a Query from request parameters.
func Parse(values url.Values, opts Options) (Query, error) {
	q := Query{Filter: bson.M{}, Limit: opts.DefaultLimit}

	if raw := values.Get("where"); raw != "" {
		if err := bson.UnmarshalExtJSON([]byte(raw), false, &q.Filter); err != nil {
			return Query{}, &ParamError{Param: "where", JSON: true, Err: err}
		}
		q.Filter = castFilter(q.Filter, opts.DateFields)
	}

	if raw := values.Get("sort"); raw != "" {
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(raw), false, &doc); err != nil {
			return Query{}, &ParamError{Param: "sort", JSON: true, Err: err}
		}
		sort, err := normalizeSort(doc)
		if err != nil {
			return Query{}, &ParamError{Param: "sort", JSON: true, Err: err}
		}
		q.Sort = sort
	}

	if raw := values.Get("select"); raw != "" {
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(raw), false, &doc); err != nil {
			return Query{}, &ParamError{Param: "select", JSON: true, Err: err}
		}
		q.Projection = doc
	}

	if raw := values.Get("skip"); raw != "" {
		n, err := parseNonNegative(raw)
		if err != nil {
			return Query{}, &ParamError{Param: "skip", Err: err}
		}
		q.Skip = n
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := parseNonNegative(raw)
		if err != nil {
			return Query{}, &ParamError{Param: "limit", Err: err}
		}
		q.Limit = n
	}

	switch values.Get("count") {
	case "true", "1":
		q.Count = true
	}

	return q, nil
}

// ParseProjection parses a lone select parameter, as used by single-document reads.
func ParseProjection(values url.Values) (bson.D, error) {
	raw := values.Get("select")
	if raw == "" {
		return nil, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &doc); err != nil {
		return nil, &ParamError{Param: "select", JSON: true, Err: err}
	}
	return doc, nil
}

// TargetsID reports whether the filter constrains the identity field.
func (q Query) TargetsID() bool {
	_, ok := q.Filter["_id"]
	return ok
}

func parseNonNegative(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}

func normalizeSort(doc bson.D) (bson.D, error) {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		dir, err := sortDirection(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		out = append(out, bson.E{Key: e.Key, Value: dir})
	}
	return out, nil
}

func sortDirection(v interface{}) (int32, error) {
	switch d := v.(type) {
	case int32:
		if d < 0 {
			return -1, nil
		}
		return 1, nil
	case int64:
		if d < 0 {
			return -1, nil
		}
		return 1, nil
	case float64:
		if d < 0 {
			return -1, nil
		}
		return 1, nil
	case string:
		switch strings.ToLower(d) {
		case "asc", "ascending", "1":
			return 1, nil
		case "desc", "descending", "-1":
			return -1, nil
		}
	}
	return 0, fmt.Errorf("invalid sort direction %v", v)
}

// castFilter converts string identifiers and timestamps into the types the
// documents are stored with.
func castFilter(filter bson.M, dateFields []string) bson.M {
	for key, value := range filter {
		switch {
		case key == "_id":
			filter[key] = castValue(value, castObjectID)
		case slices.Contains(dateFields, key):
			filter[key] = castValue(value, castDate)
		case key == "$and" || key == "$or" || key == "$nor":
			if list, ok := value.(bson.A); ok {
				for i, item := range list {
					if sub, ok := item.(bson.M); ok {
						list[i] = castFilter(sub, dateFields)
					}
				}
			}
		}
	}
	return filter
}

func castValue(value interface{}, cast func(interface{}) interface{}) interface{} {
	switch v := value.(type) {
	case bson.M:
		for op, operand := range v {
			switch op {
			case "$in", "$nin":
				if list, ok := operand.(bson.A); ok {
					for i := range list {
						list[i] = cast(list[i])
					}
				}
			case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
				v[op] = cast(operand)
			}
		}
		return v
	default:
		return cast(v)
	}
}

func castObjectID(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		if id, err := primitive.ObjectIDFromHex(s); err == nil {
			return id
		}
	}
	return v
}

func castDate(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return primitive.NewDateTimeFromTime(t)
		}
	}
	return v
}
