package document

import "testing"

func saleDoc(region string, amount int64) *Document {
	d := NewDocument()
	d.Set("region", StringValue(region))
	d.Set("amount", IntValue(amount))
	return d
}

func TestGroupSumSortLimit(t *testing.T) {
	docs := []*Document{
		saleDoc("east", 10),
		saleDoc("west", 5),
		saleDoc("east", 20),
		saleDoc("west", 8),
		saleDoc("north", 1),
		saleDoc("east", 5),
		saleDoc("west", 2),
		saleDoc("north", 100),
	}

	groupStage := NewDocument()
	groupStage.Set("_id", StringValue("$region"))
	sumSpec := NewDocument()
	sumSpec.Set("$sum", StringValue("$amount"))
	groupStage.Set("total", ObjectValue(sumSpec))

	sortStage := NewDocument()
	sortStage.Set("total", IntValue(-1))

	stages := []Value{
		ObjectValue(wrapStage("$group", ObjectValue(groupStage))),
		ObjectValue(wrapStage("$sort", ObjectValue(sortStage))),
		ObjectValue(wrapStage("$limit", IntValue(2))),
	}

	out, err := RunPipeline(docs, stages)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}

	first, _ := out[0].Get("total")
	if first.Flt != 101 {
		t.Fatalf("expected highest total 101 (north), got %v", first)
	}
	second, _ := out[1].Get("total")
	if second.Flt != 35 {
		t.Fatalf("expected second total 35 (east), got %v", second)
	}
}

func wrapStage(name string, val Value) *Document {
	d := NewDocument()
	d.Set(name, val)
	return d
}

func TestMatchStage(t *testing.T) {
	docs := []*Document{docWithAge(20), docWithAge(30), docWithAge(40)}

	matchArg := NewDocument()
	gte := NewDocument()
	gte.Set("$gte", IntValue(30))
	matchArg.Set("age", ObjectValue(gte))

	stages := []Value{ObjectValue(wrapStage("$match", ObjectValue(matchArg)))}
	out, err := RunPipeline(docs, stages)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 docs with age>=30, got %d", len(out))
	}
}

func TestUnknownStageIsBadQuery(t *testing.T) {
	stages := []Value{ObjectValue(wrapStage("$bogus", IntValue(1)))}
	_, err := RunPipeline([]*Document{docWithAge(1)}, stages)
	if err == nil {
		t.Fatalf("expected error for unknown stage")
	}
}

func TestSkipStage(t *testing.T) {
	docs := []*Document{docWithAge(1), docWithAge(2), docWithAge(3)}
	stages := []Value{ObjectValue(wrapStage("$skip", IntValue(2)))}
	out, err := RunPipeline(docs, stages)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 doc after skipping 2, got %d", len(out))
	}
}

func TestProjectStage(t *testing.T) {
	d := NewDocument()
	d.Set("name", StringValue("Alice"))
	d.Set("age", IntValue(28))

	projectArg := NewDocument()
	projectArg.Set("name", IntValue(1))

	stages := []Value{ObjectValue(wrapStage("$project", ObjectValue(projectArg)))}
	out, err := RunPipeline([]*Document{d}, stages)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if out[0].Len() != 1 {
		t.Fatalf("expected only name field to survive projection, got %v", out[0].Keys())
	}
	if _, ok := out[0].Get("age"); ok {
		t.Fatalf("expected age to be excluded")
	}
}
