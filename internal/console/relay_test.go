package console

import (
	"context"
	"errors"
	"testing"
)

func TestRelayPumpsUntilClosed(t *testing.T) {
	var got []string
	sink := LineSinkFunc(func(line Line) error {
		got = append(got, line.Text)
		return nil
	})
	failing := LineSinkFunc(func(line Line) error {
		return errors.New("sink down")
	})

	lines := make(chan Line, 3)
	lines <- Line{Seq: 1, Text: "a"}
	lines <- Line{Seq: 2, Text: "b"}
	close(lines)

	n := NewRelay(failing, sink).Pump(context.Background(), lines)
	if n != 2 {
		t.Fatalf("expected 2 lines relayed, got %d", n)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected relayed lines: %v", got)
	}
}

func TestRelayStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lines := make(chan Line)
	if n := NewRelay().Pump(ctx, lines); n != 0 {
		t.Fatalf("expected no lines, got %d", n)
	}
}
