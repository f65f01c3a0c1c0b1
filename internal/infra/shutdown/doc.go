// Package shutdown runs named cleanup hooks when the process is asked to
// stop.
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	err := h.Wait(ctx) // returns after SIGINT, SIGTERM or ctx cancellation
package shutdown
