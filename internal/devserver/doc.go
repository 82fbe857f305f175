// Package devserver runs one development session: the external listener,
// the worker supervisor, the file watcher and the HMR hub, all sharing a
// single Context.
//
// # Request flow
//
// Requests reach the listener and pass through the HMR bridge first, then
// the metrics endpoint and the proxy rules, and finally the worker proxy:
//
//	bridge -> /__photon/metrics -> dev.proxy rules -> worker
//
// HTML answered by the worker is run through the same transform the
// worker can request over RPC, which injects the live-reload client.
//
// # Change flow
//
// Every batch of file changes is classified against the module graph.
// Invalidations are forwarded to the worker before any restart, and
// browsers are told to reload only after the worker is ready again.
//
// # Usage
//
//	srv, err := devserver.New(devserver.Options{Config: cfg, Logger: logger})
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
package devserver
