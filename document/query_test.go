package document

import "testing"

func docWithAge(age int64) *Document {
	d := NewDocument()
	d.Set("name", StringValue("x"))
	d.Set("age", IntValue(age))
	return d
}

func TestMatchesLiteralEquality(t *testing.T) {
	d := docWithAge(28)
	filter := NewDocument()
	filter.Set("age", IntValue(28))

	ok, err := Matches(d, filter)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesGteOperator(t *testing.T) {
	filter := NewDocument()
	gte := NewDocument()
	gte.Set("$gte", IntValue(30))
	filter.Set("age", ObjectValue(gte))

	ok, _ := Matches(docWithAge(40), filter)
	if !ok {
		t.Fatalf("expected 40 >= 30 to match")
	}
	ok, _ = Matches(docWithAge(20), filter)
	if ok {
		t.Fatalf("expected 20 >= 30 to not match")
	}
}

func TestMatchesExistsOperator(t *testing.T) {
	d := NewDocument()
	d.Set("name", StringValue("x"))

	filter := NewDocument()
	existsTrue := NewDocument()
	existsTrue.Set("$exists", BoolValue(true))
	filter.Set("age", ObjectValue(existsTrue))

	ok, _ := Matches(d, filter)
	if ok {
		t.Fatalf("expected missing age field to fail $exists:true")
	}

	filter2 := NewDocument()
	existsFalse := NewDocument()
	existsFalse.Set("$exists", BoolValue(false))
	filter2.Set("age", ObjectValue(existsFalse))
	ok, _ = Matches(d, filter2)
	if !ok {
		t.Fatalf("expected missing age field to satisfy $exists:false")
	}
}

func TestMatchesInAndNin(t *testing.T) {
	filter := NewDocument()
	in := NewDocument()
	in.Set("$in", ArrayValue([]Value{IntValue(20), IntValue(30)}))
	filter.Set("age", ObjectValue(in))

	ok, _ := Matches(docWithAge(30), filter)
	if !ok {
		t.Fatalf("expected 30 to be in [20,30]")
	}

	emptyIn := NewDocument()
	emptyIn.Set("$in", ArrayValue(nil))
	filterEmpty := NewDocument()
	filterEmpty.Set("age", ObjectValue(emptyIn))
	ok, _ = Matches(docWithAge(30), filterEmpty)
	if ok {
		t.Fatalf("expected $in:[] to match nothing")
	}

	emptyNin := NewDocument()
	emptyNin.Set("$nin", ArrayValue(nil))
	filterNin := NewDocument()
	filterNin.Set("age", ObjectValue(emptyNin))
	ok, _ = Matches(docWithAge(30), filterNin)
	if !ok {
		t.Fatalf("expected $nin:[] to match everything")
	}
}

func TestMatchesRegex(t *testing.T) {
	d := NewDocument()
	d.Set("name", StringValue("Alice"))

	filter := NewDocument()
	regex := NewDocument()
	regex.Set("$regex", StringValue("lic"))
	filter.Set("name", ObjectValue(regex))

	ok, err := Matches(d, filter)
	if err != nil || !ok {
		t.Fatalf("expected regex match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesUnknownOperatorIsBadQuery(t *testing.T) {
	filter := NewDocument()
	bad := NewDocument()
	bad.Set("$bogus", IntValue(1))
	filter.Set("age", ObjectValue(bad))

	_, err := Matches(docWithAge(1), filter)
	if err == nil {
		t.Fatalf("expected error for unknown operator")
	}
}

func TestMatchesEmptyFilterMatchesEverything(t *testing.T) {
	ok, err := Matches(docWithAge(1), NewDocument())
	if err != nil || !ok {
		t.Fatalf("expected empty filter to match, got ok=%v err=%v", ok, err)
	}
}
