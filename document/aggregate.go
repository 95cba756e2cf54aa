package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oarkflow/nexadb/errs"
)

// RunPipeline executes an ordered list of aggregation stages (each a
// single-key object, e.g. {"$match": {...}}) over docs, per spec.md
// §4.5. Stages execute in order, materializing an intermediate document
// slice between each.
func RunPipeline(docs []*Document, stages []Value) ([]*Document, error) {
	for _, stage := range stages {
		if stage.Kind != KindObject || stage.Obj == nil || stage.Obj.Len() != 1 {
			return nil, errs.New(errs.BadQuery, "pipeline stage must be a single-key object")
		}
		name := stage.Obj.Keys()[0]
		arg, _ := stage.Obj.Get(name)

		var err error
		switch name {
		case "$match":
			docs, err = applyMatch(docs, arg)
		case "$project":
			docs, err = applyProject(docs, arg)
		case "$group":
			docs, err = applyGroup(docs, arg)
		case "$sort":
			docs, err = applySort(docs, arg)
		case "$limit":
			docs, err = applyLimit(docs, arg)
		case "$skip":
			docs, err = applySkip(docs, arg)
		default:
			return nil, errs.New(errs.BadQuery, "unknown pipeline stage %q", name)
		}
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func applyMatch(docs []*Document, arg Value) ([]*Document, error) {
	if arg.Kind != KindObject {
		return nil, errs.New(errs.BadQuery, "$match requires an object")
	}
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		ok, err := Matches(d, arg.Obj)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func applyProject(docs []*Document, arg Value) ([]*Document, error) {
	if arg.Kind != KindObject {
		return nil, errs.New(errs.BadQuery, "$project requires an object")
	}
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		nd := NewDocument()
		for _, field := range arg.Obj.Keys() {
			spec, _ := arg.Obj.Get(field)
			if !truthy(spec) {
				continue
			}
			if v, ok := d.GetPath(field); ok {
				nd.Set(field, v)
			}
		}
		out = append(out, nd)
	}
	return out, nil
}

func truthy(v Value) bool {
	switch v.Kind {
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Flt != 0
	case KindBool:
		return v.Bool
	default:
		return false
	}
}

type groupAccum struct {
	keyVal    Value
	sums      map[string]float64
	avgCounts map[string]int64
	mins      map[string]float64
	maxs      map[string]float64
	hasMin    map[string]bool
	hasMax    map[string]bool
	counts    map[string]int64
}

func newGroupAccum(key Value) *groupAccum {
	return &groupAccum{
		keyVal:    key,
		sums:      map[string]float64{},
		avgCounts: map[string]int64{},
		mins:      map[string]float64{},
		maxs:      map[string]float64{},
		hasMin:    map[string]bool{},
		hasMax:    map[string]bool{},
		counts:    map[string]int64{},
	}
}

func applyGroup(docs []*Document, arg Value) ([]*Document, error) {
	if arg.Kind != KindObject {
		return nil, errs.New(errs.BadQuery, "$group requires an object")
	}
	groupExpr, hasID := arg.Obj.Get("_id")
	if !hasID {
		return nil, errs.New(errs.BadQuery, "$group requires an _id expression")
	}

	var accumFields []string
	for _, k := range arg.Obj.Keys() {
		if k != "_id" {
			accumFields = append(accumFields, k)
		}
	}

	groups := map[string]*groupAccum{}
	var order []string

	for _, d := range docs {
		keyVal, err := evalGroupExpr(groupExpr, d)
		if err != nil {
			return nil, err
		}
		ks := groupKeyString(keyVal)
		g, exists := groups[ks]
		if !exists {
			g = newGroupAccum(keyVal)
			groups[ks] = g
			order = append(order, ks)
		}

		for _, field := range accumFields {
			specVal, _ := arg.Obj.Get(field)
			if specVal.Kind != KindObject || specVal.Obj == nil || specVal.Obj.Len() != 1 {
				return nil, errs.New(errs.BadQuery, "accumulator for %q must be a single-key object", field)
			}
			accOp := specVal.Obj.Keys()[0]
			accArg, _ := specVal.Obj.Get(accOp)

			switch accOp {
			case "$sum":
				n, err := resolveNumberExpr(accArg, d)
				if err != nil {
					return nil, err
				}
				g.sums[field] += n
			case "$avg":
				n, err := resolveNumberExpr(accArg, d)
				if err != nil {
					return nil, err
				}
				g.sums[field] += n
				g.avgCounts[field]++
			case "$min":
				n, err := resolveNumberExpr(accArg, d)
				if err != nil {
					return nil, err
				}
				if !g.hasMin[field] || n < g.mins[field] {
					g.mins[field] = n
					g.hasMin[field] = true
				}
			case "$max":
				n, err := resolveNumberExpr(accArg, d)
				if err != nil {
					return nil, err
				}
				if !g.hasMax[field] || n > g.maxs[field] {
					g.maxs[field] = n
					g.hasMax[field] = true
				}
			case "$count":
				g.counts[field]++
			default:
				return nil, errs.New(errs.BadQuery, "unknown accumulator %q", accOp)
			}
		}
	}

	out := make([]*Document, 0, len(order))
	for _, ks := range order {
		g := groups[ks]
		nd := NewDocument()
		nd.Set("_id", g.keyVal)
		for _, field := range accumFields {
			specVal, _ := arg.Obj.Get(field)
			accOp := specVal.Obj.Keys()[0]
			switch accOp {
			case "$sum":
				nd.Set(field, FloatValue(g.sums[field]))
			case "$avg":
				if g.avgCounts[field] == 0 {
					nd.Set(field, FloatValue(0))
				} else {
					nd.Set(field, FloatValue(g.sums[field]/float64(g.avgCounts[field])))
				}
			case "$min":
				if g.hasMin[field] {
					nd.Set(field, FloatValue(g.mins[field]))
				} else {
					nd.Set(field, Null())
				}
			case "$max":
				if g.hasMax[field] {
					nd.Set(field, FloatValue(g.maxs[field]))
				} else {
					nd.Set(field, Null())
				}
			case "$count":
				nd.Set(field, IntValue(g.counts[field]))
			}
		}
		out = append(out, nd)
	}
	return out, nil
}

func evalGroupExpr(expr Value, d *Document) (Value, error) {
	if expr.Kind == KindString && strings.HasPrefix(expr.Str, "$") {
		field := expr.Str[1:]
		if v, ok := d.GetPath(field); ok {
			return v, nil
		}
		return Null(), nil
	}
	return expr, nil
}

func resolveNumberExpr(expr Value, d *Document) (float64, error) {
	if expr.Kind == KindString && strings.HasPrefix(expr.Str, "$") {
		field := expr.Str[1:]
		v, ok := d.GetPath(field)
		if !ok {
			return 0, nil
		}
		f, ok := v.AsFloat()
		if !ok {
			return 0, errs.New(errs.BadQuery, "field %q is not numeric", field)
		}
		return f, nil
	}
	if expr.IsNumeric() {
		f, _ := expr.AsFloat()
		return f, nil
	}
	return 0, errs.New(errs.BadQuery, "expected a numeric literal or $field reference")
}

func groupKeyString(v Value) string {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func applySort(docs []*Document, arg Value) ([]*Document, error) {
	if arg.Kind != KindObject {
		return nil, errs.New(errs.BadQuery, "$sort requires an object")
	}
	fields := arg.Obj.Keys()
	dirs := make(map[string]int, len(fields))
	for _, f := range fields {
		dv, _ := arg.Obj.Get(f)
		n, ok := dv.AsFloat()
		if !ok || (n != 1 && n != -1) {
			return nil, errs.New(errs.BadQuery, "$sort direction for %q must be 1 or -1", f)
		}
		dirs[f] = int(n)
	}

	out := append([]*Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, f := range fields {
			av, _ := out[i].GetPath(f)
			bv, _ := out[j].GetPath(f)
			cmp, ok := Compare(av, bv)
			if !ok || cmp == 0 {
				continue
			}
			if dirs[f] < 0 {
				cmp = -cmp
			}
			return cmp < 0
		}
		return false
	})
	return out, nil
}

func applyLimit(docs []*Document, arg Value) ([]*Document, error) {
	n, ok := arg.AsFloat()
	if !ok {
		return nil, errs.New(errs.BadQuery, "$limit requires a numeric argument")
	}
	limit := int(n)
	if limit < 0 {
		limit = 0
	}
	if limit > len(docs) {
		limit = len(docs)
	}
	return docs[:limit], nil
}

func applySkip(docs []*Document, arg Value) ([]*Document, error) {
	n, ok := arg.AsFloat()
	if !ok {
		return nil, errs.New(errs.BadQuery, "$skip requires a numeric argument")
	}
	skip := int(n)
	if skip < 0 {
		skip = 0
	}
	if skip > len(docs) {
		skip = len(docs)
	}
	return docs[skip:], nil
}
