// Package event provides a synchronous pub-sub bus for progress reporting.
//
// The graph engine publishes lifecycle events (graph started or finished,
// node dispatched, checkpoint written or skipped) and the pipeline publishes
// unit, retry and mutation events. The CLI subscribes to render progress
// lines; nothing in the engine depends on a subscriber being present.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeUnitFinished, func(e event.Event) {
//	    done := e.(event.UnitFinishedEvent)
//	    fmt.Println(done.Marker)
//	})
//	bus.Publish(event.NewUnitFinishedEvent("pkg.core.parse", "pkg.core.parse (Verified)"))
//
// Handlers run synchronously on the publishing goroutine. A panicking
// handler is recovered and logged so it cannot stop delivery to the others.
package event
