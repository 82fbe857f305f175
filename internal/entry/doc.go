// Package entry classifies server entries at build time.
//
// Each declared entry is scanned with esbuild. An entry that imports one of
// the photon framework adapters (directly or through one local module) is
// bound to that framework; otherwise it must default export a universal
// fetch handler. Entries that satisfy neither rule fail the build.
//
// Results are collected in a Metadata value which is frozen after the
// resolution pass and written to the build output as a manifest.
package entry
