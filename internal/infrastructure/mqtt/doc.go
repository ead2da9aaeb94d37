// Package mqtt connects MacroForge Core to an MQTT broker.
//
// The broker is used in two directions:
//   - status out: run, background and queue events are published retained
//     under macroforge/status/{run|background|queue}/{id}
//   - commands in: macroforge/command/stop-all,
//     macroforge/command/run/{id}/cancel and macroforge/command/queue/cancel
//
// Presence is published retained on macroforge/system/status, with a Last
// Will so subscribers see "offline" if the process dies. Subscriptions are
// restored automatically after a reconnect.
package mqtt
