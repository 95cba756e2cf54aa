package document

import (
	"regexp"

	"github.com/oarkflow/nexadb/errs"
)

// Matches reports whether doc satisfies filter, an implicit-AND map of
// field predicates (spec.md §4.5's query language).
func Matches(doc *Document, filter *Document) (bool, error) {
	if filter == nil {
		return true, nil
	}
	for _, field := range filter.Keys() {
		predicate, _ := filter.Get(field)
		fieldVal, present := doc.GetPath(field)
		ok, err := matchField(fieldVal, present, predicate)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchField(fieldVal Value, present bool, predicate Value) (bool, error) {
	if predicate.Kind != KindObject || predicate.Obj == nil || !looksLikeOperatorObject(predicate.Obj) {
		// Bare literal: deep equality, field must be present.
		return present && Equal(fieldVal, predicate), nil
	}

	for _, op := range predicate.Obj.Keys() {
		opVal, _ := predicate.Obj.Get(op)
		ok, err := evalOperator(op, fieldVal, present, opVal)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// looksLikeOperatorObject reports whether every key in obj starts with
// '$', i.e. it's a predicate object rather than a literal nested object
// to compare for deep equality.
func looksLikeOperatorObject(obj *Document) bool {
	if obj.Len() == 0 {
		return false
	}
	for _, k := range obj.Keys() {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

func evalOperator(op string, fieldVal Value, present bool, opVal Value) (bool, error) {
	switch op {
	case "$eq":
		return present && Equal(fieldVal, opVal), nil
	case "$ne":
		return !present || !Equal(fieldVal, opVal), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		cmp, ok := Compare(fieldVal, opVal)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return cmp > 0, nil
		case "$gte":
			return cmp >= 0, nil
		case "$lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case "$in":
		if !present {
			return false, nil
		}
		for _, elem := range opVal.Arr {
			if Equal(fieldVal, elem) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		if !present {
			return true, nil
		}
		for _, elem := range opVal.Arr {
			if Equal(fieldVal, elem) {
				return false, nil
			}
		}
		return true, nil
	case "$regex":
		if !present || fieldVal.Kind != KindString {
			return false, nil
		}
		re, err := regexp.Compile(opVal.Str)
		if err != nil {
			return false, errs.Wrap(errs.BadQuery, err, "invalid $regex pattern %q", opVal.Str)
		}
		return re.MatchString(fieldVal.Str), nil
	case "$exists":
		return present == opVal.Bool, nil
	default:
		return false, errs.New(errs.BadQuery, "unknown operator %q", op)
	}
}
