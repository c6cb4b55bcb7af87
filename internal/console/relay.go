package console

import (
	"context"
	"log"
)

// LineSink consumes console lines outside the process controller.
type LineSink interface {
	WriteLine(line Line) error
}

// LineSinkFunc adapts a function to LineSink.
type LineSinkFunc func(line Line) error

// WriteLine calls f.
func (f LineSinkFunc) WriteLine(line Line) error {
	return f(line)
}

// Relay copies lines from a subscription to every sink until the channel
// closes or ctx is done.
type Relay struct {
	sinks []LineSink
}

// NewRelay creates a relay for the given sinks.
func NewRelay(sinks ...LineSink) *Relay {
	return &Relay{sinks: sinks}
}

// Pump blocks while forwarding lines. It returns the number of lines relayed.
func (r *Relay) Pump(ctx context.Context, lines <-chan Line) int {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return count
		case line, ok := <-lines:
			if !ok {
				return count
			}
			count++
			for _, sink := range r.sinks {
				if err := sink.WriteLine(line); err != nil {
					log.Printf("[Console] Sink failed for line %d: %v", line.Seq, err)
				}
			}
		}
	}
}
