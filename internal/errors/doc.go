// Package errors provides structured, actionable error messages for photon.
//
// Every usage error the CLI can hit has a registered code that maps to a
// short message, a longer explanation and a documentation link:
//
//	err := errors.New("P101").
//	    WithDetail(`entry "index" points to ./src/server.ts which does not exist`).
//	    WithSuggestion("Fix entries.index.id in photon.json")
//
//	errors.Fprint(os.Stderr, err)
//	// error[P101]: Server entry could not be resolved
//	//   entry "index" points to ./src/server.ts which does not exist
//	//   = hint: Fix entries.index.id in photon.json
//	//   = docs: https://photon.dev/docs/errors/P101
//
// Colors are used only when the writer is a terminal and NO_COLOR is
// unset. FprintJSON writes the same fields as a single JSON object for
// tools that consume photon's output.
//
// # Error Categories
//
//   - config: photon.json / photon.yaml problems
//   - entry: server entry resolution and classification
//   - build: module graph scanning and manifest output
//   - dev: worker supervision during a dev session
//   - rpc: the worker RPC channel
//   - cli: command line usage
package errors
