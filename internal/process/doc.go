// Package process supervises long-running child processes.
//
// MacroForge uses it to keep a private adb server alive (see package adbd):
// start, capture stdout/stderr into the logger, watchdog health checks,
// restart with exponential backoff and SIGTERM/SIGKILL shutdown of the whole
// process group.
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "adb-server",
//	    Binary:           "adb",
//	    Args:             []string{"-P", "5037", "nodaemon", "server"},
//	    RestartOnFailure: true,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
