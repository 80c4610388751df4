// Package lifecycle provides the start/stop state machine used by the
// graphbatch service.
//
// A Manager tracks state transitions (Stopped, Starting, Running, Stopping,
// Crashed), the cancel function of the running context and the background
// workers that must finish before shutdown completes.
//
// # Usage
//
//	manager := lifecycle.NewManager(logger, eventEmitter)
//
//	if err := manager.TransitionTo(lifecycle.StateStarting, "start requested"); err != nil {
//	    return err
//	}
//
//	ctx, cancel := context.WithCancel(parent)
//	manager.SetCancel(cancel)
//	manager.Go(func() { watcher.Run(ctx) })
//
//	// Graceful shutdown
//	manager.Cancel()
//	if err := manager.WaitWithTimeout(lifecycle.ShutdownTimeout); err != nil {
//	    return err
//	}
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// Starting -> Stopping lets a component abort a start that failed half way.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package lifecycle
