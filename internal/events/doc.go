// Package events carries status changes from the engine, the background
// scheduler and the queue sequencer to whoever is watching.
//
// A Bus fans each Event out to registered sinks (MQTT, the WebSocket hub)
// and to in-process subscribers. Publishing never blocks on a slow
// subscriber: a full subscriber channel drops the event.
package events
