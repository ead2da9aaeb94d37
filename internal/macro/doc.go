// Package macro provides the script model and the execution engine.
//
// A Script is an ordered list of Steps. Steps are a closed set of kinds
// (tap, swipe, long_press, key_press, wait, image_click, wait_for_image,
// branch) decoded from YAML or JSON by their "type" key.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────┐
//	│                   Engine (engine.go)                     │
//	│  Start validates, copies the script, runs it on its own  │
//	│  goroutine and returns a RunHandle (Wait / Cancel).      │
//	│                                                          │
//	│  RunSteps (interpret.go), one step at a time:            │
//	│    tap/swipe/long_press/key_press → humanize → gateway   │
//	│    image_click / wait_for_image   → capture+match polls  │
//	│    branch                         → one match, jump      │
//	│    wait                           → cancellable sleep    │
//	│                                                          │
//	│  ┌──────────────┐    ┌────────────────┐                  │
//	│  │   Registry   │───▶│   Repository   │ scripts + runs   │
//	│  └──────────────┘    └────────────────┘                  │
//	└─────────────────────────────────────────────────────────┘
//
// # States
//
// A run moves idle → running(step) → completed | failed | cancelled and
// never leaves a terminal state. Every terminal state has a reason of the
// form "<kind> at step <i>: <detail>".
//
// # Errors
//
// Failures are *StepError values wrapping one of ErrInvalidScript,
// ErrImageNotFound, ErrImageTimeout, ErrCapture, ErrDevice or ErrConfig.
//
// # Usage
//
//	engine := macro.NewEngine(cfg.Engine, gated, m, h, log)
//	handle, err := engine.Start(ctx, script)
//	if err != nil {
//	    return err // ErrInvalidScript
//	}
//	result, _ := handle.Wait(ctx)
package macro
