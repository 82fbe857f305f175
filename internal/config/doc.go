// Package config provides configuration parsing for photon projects.
//
// The configuration is stored in photon.json (or photon.yaml) at the project
// root. Values can be overridden with PHOTON_* environment variables.
//
// # Configuration File Structure
//
//	{
//	  "entries": {
//	    "index": { "id": "./src/server.ts", "runtime": "node" },
//	    "edge":  { "id": "./src/edge.ts", "runtime": "cloudflare" }
//	  },
//	  "dev": {
//	    "port": 3000,
//	    "host": "localhost",
//	    "hmrPath": "/__vite_hmr",
//	    "server": "chi",
//	    "runtime": "node",
//	    "preferRestart": false,
//	    "rpcTimeout": "1s",
//	    "middleware": ["+middleware.*"],
//	    "proxy": { "/api/external": "https://api.example.com" }
//	  },
//	  "build": {
//	    "output": "dist",
//	    "publish": "s3://my-bucket/builds"
//	  },
//	  "logging": { "level": "info", "format": "text" }
//	}
//
// A single-entry project can use the "server" shorthand instead of
// "entries":
//
//	{ "server": "./src/server.ts" }
//
// # Environment
//
//	PHOTON_DEV_PORT=4000 PHOTON_DEV_PREFERRESTART=true photon dev
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Port:", cfg.Dev.Port)
package config
