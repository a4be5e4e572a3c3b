package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	inserted int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageIngested {
			s.inserted += evt.Count
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals inserted products across a flushed batch.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{JobID: "job-1", TS: time.Unix(0, 0), Stage: StageIngested, Count: 12, Skipped: 3})
	hub.Emit(Event{JobID: "job-2", TS: time.Unix(0, 0), Stage: StageIngested, Count: 5})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("products inserted: %d\n", sink.inserted)
	// Output:
	// products inserted: 17
}
