package console

import "testing"

func TestOutputFilterSearch(t *testing.T) {
	filter, err := NewOutputFilter("search", "hello", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter("Hello world")
	if !result.Include {
		t.Fatalf("expected line to be included")
	}

	result = filter.Filter("goodbye")
	if result.Include {
		t.Fatalf("expected line to be excluded")
	}
}

func TestOutputFilterErrors(t *testing.T) {
	filter, err := NewOutputFilter("errors", "", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter("ERROR something failed")
	if !result.Include {
		t.Fatalf("expected error line to be included")
	}

	result = filter.Filter("all good")
	if result.Include {
		t.Fatalf("expected non-error line to be excluded")
	}
}

func TestOutputFilterRegex(t *testing.T) {
	filter, err := NewOutputFilter("regex", "h.llo", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter("hello")
	if !result.Include {
		t.Fatalf("expected regex match to include line")
	}
}

func TestOutputFilterRejectsUnknownType(t *testing.T) {
	if _, err := NewOutputFilter("loud", "", false); err == nil {
		t.Fatalf("expected unknown filter type to fail")
	}
	if _, err := NewOutputFilter("regex", "(", false); err == nil {
		t.Fatalf("expected invalid regex to fail")
	}
}

func TestFilterLinesKeepsOrder(t *testing.T) {
	filter, err := NewOutputFilter("errors", "", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	lines := []Line{
		{Seq: 1, Text: "starting"},
		{Seq: 2, Text: "WARN low memory"},
		{Seq: 3, Text: "ready"},
		{Seq: 4, Text: "java.lang.Exception: boom"},
	}
	got := filter.FilterLines(lines)
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 4 {
		t.Fatalf("unexpected filtered lines: %+v", got)
	}

	none, _ := NewOutputFilter("", "", false)
	if len(none.FilterLines(lines)) != len(lines) {
		t.Fatalf("expected empty filter type to keep everything")
	}
}
