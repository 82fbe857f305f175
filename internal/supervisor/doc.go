// Package supervisor runs the dev worker: one JavaScript runtime process
// that imports the server entry and talks to photon over an RPC channel.
//
// A Supervisor moves through absent, starting, running, crashed and
// stopping. Exactly one worker runs at a time, and a restart waits for the
// old worker's exit before launching the next one.
//
// Restarter implements the prefer-restart mode, where the whole CLI is
// re-executed as a child and relaunched whenever it exits with
// RestartExitCode.
package supervisor
