// Package build runs the production pass for photon projects.
//
// This package handles:
//   - Resolving every declared server entry (framework, type, runtime)
//   - Writing the entry manifest that runtime adapters read
//   - Publishing the manifest to a directory or S3 bucket
//
// # Usage
//
//	builder := build.New(cfg, build.Options{})
//	result, err := builder.Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Built in %s\n", result.Duration)
//	fmt.Printf("Manifest: %s\n", result.Manifest)
//
// # Output Structure
//
//	dist/
//	└── photon/
//	    └── entries.json    # Entry manifest
//
// # Manifest
//
// The manifest lists each entry with its resolved metadata:
//
//	{
//	  "version": 1,
//	  "entries": [
//	    {"name": "index", "id": "./src/server.ts", "resolvedId": "/app/src/server.ts",
//	     "runtime": "node", "type": "server", "framework": "hono"}
//	  ]
//	}
//
// When published, a content-addressed copy (entries.<hash>.json) is
// uploaded next to it.
package build
