// Package hmr carries live-reload traffic between browsers and photon.
//
// The externally facing listener belongs to the application, so websocket
// upgrades for the reserved HMR path arrive there. Bridge detects them,
// hijacks the connection and replays it into ToolingServer, an internal
// http.Server that is never bound to a port. The Hub running inside the
// tooling server keeps the websocket clients and broadcasts reload and
// error messages.
//
//	hub := hmr.NewHub(hmr.HubOptions{Logger: logger})
//	tooling := hmr.NewToolingServer(hub, "/__vite_hmr", logger)
//	bridge := hmr.NewBridge(tooling)
//
//	http.Handle("/", bridge.Middleware(app))
//
//	hub.FullReload("*")
package hmr
