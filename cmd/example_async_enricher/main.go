// Command example_async_enricher wires a source -> async processor -> sink
// topology that demonstrates RegisterAsyncProcessor: the enrichment step
// below simulates a slow per-record lookup (a remote call, a blocking cache
// read) that would otherwise stall the task's single goroutine for every
// record. Running it on the async worker pool lets independent keys overlap
// while still finalizing each key's own records in the order they arrived.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flowbase/kstreams"
	"github.com/flowbase/kstreams/internal/async"
	"github.com/flowbase/kstreams/internal/execution"
	"github.com/flowbase/kstreams/kdag"
	"github.com/flowbase/kstreams/kprocessor"
	"github.com/flowbase/kstreams/kserde"
)

// enricher upper-cases the value after a simulated lookup. Init is called
// once per worker goroutine in the async pool, never shared across workers.
type enricher struct {
	ctx     kprocessor.RecordProcessorContext[string, string]
	lookups int
}

func (e *enricher) Init(ctx kprocessor.RecordProcessorContext[string, string]) error {
	e.ctx = ctx
	return nil
}

func (e *enricher) Close() error { return nil }

func (e *enricher) ProcessRecord(ctx context.Context, record kprocessor.Record[string, string]) error {
	// Stand-in for a blocking dependency lookup keyed off the record.
	time.Sleep(5 * time.Millisecond)
	e.lookups++

	e.ctx.ForwardRecord(ctx, kprocessor.Record[string, string]{
		Key:      record.Key,
		Value:    strings.ToUpper(record.Value),
		Metadata: record.Metadata,
	})
	return nil
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	b := kdag.NewBuilder()

	execution.MustRegisterSource(b, "orders-in", "orders", kserde.StringDeserializer, kserde.StringDeserializer)

	execution.MustRegisterAsyncProcessor[string, string, string, string](
		b,
		func() kprocessor.RecordProcessor[string, string, string, string] { return &enricher{} },
		"enrich",
		"orders-in",
		[]async.Option{
			async.WithPoolSize(8),
			async.WithMaxEventsPerKey(4),
			async.WithLogger(log),
		},
	)

	execution.MustRegisterSink(b, "orders-out", "orders-enriched", kserde.StringSerializer, kserde.StringSerializer, "enrich")

	dag, err := b.Build()
	if err != nil {
		log.Error("build topology", "error", err)
		os.Exit(1)
	}

	app := kstreams.MustNew(dag, "example-async-enricher",
		kstreams.WithLog(log),
		kstreams.WithBrokers([]string{"localhost:9092"}),
		kstreams.WithWorkersCount(1),
	)

	go func() {
		if err := app.Run(); err != nil {
			log.Error("app run", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if err := app.Close(); err != nil {
		log.Error("app close", "error", err)
	}
}
