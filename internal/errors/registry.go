package errors

import "sort"

const docBase = "https://photon.dev/docs/errors/"

// Template is the registered text for an error code.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

// DocURL returns the documentation page for code.
func DocURL(code string) string {
	return docBase + code
}

var registry = map[string]Template{
	// Usage Errors (P100-P119)

	"P100": {
		Category: CategoryConfig,
		Message:  "Missing index entry",
		Detail:   "photon needs a server entry named \"index\". Declare it under entries.index in photon.json.",
	},
	"P101": {
		Category: CategoryEntry,
		Message:  "Server entry could not be resolved",
		Detail:   "The file configured for this entry does not exist or cannot be read.",
	},
	"P102": {
		Category: CategoryEntry,
		Message:  "Server entry has no default export",
		Detail:   "An entry that imports a supported server framework must default export its server.",
	},
	"P103": {
		Category: CategoryEntry,
		Message:  "Server entry is not usable",
		Detail:   "The entry neither imports a supported server framework nor default exports a universal handler.",
	},
	"P104": {
		Category: CategoryEntry,
		Message:  "Entry metadata is frozen",
		Detail:   "Entry metadata can only be changed during the resolution pass.",
	},
	"P110": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "No photon.json or photon.yaml was found.",
	},
	"P111": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The configuration file could not be parsed.",
	},
	"P112": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range or not recognized.",
	},

	// Build Errors (P120-P139)

	"P120": {
		Category: CategoryBuild,
		Message:  "Module graph scan failed",
		Detail:   "esbuild could not analyze the server entry.",
	},
	"P121": {
		Category: CategoryBuild,
		Message:  "Transform failed",
		Detail:   "esbuild could not transform the requested module.",
	},
	"P122": {
		Category: CategoryBuild,
		Message:  "Manifest write failed",
		Detail:   "The entry manifest could not be written to the output directory.",
	},
	"P123": {
		Category: CategoryBuild,
		Message:  "Publish failed",
		Detail:   "The build manifest could not be published to the configured target.",
	},

	// Dev Errors (P140-P159)

	"P140": {
		Category: CategoryDev,
		Message:  "Worker failed to start",
		Detail:   "The server entry threw while it was being imported.",
	},
	"P141": {
		Category: CategoryDev,
		Message:  "Runtime not found",
		Detail:   "The selected JavaScript runtime is not installed or not in PATH.",
	},
	"P142": {
		Category: CategoryDev,
		Message:  "Dev server crashed",
		Detail:   "The dev server caught an unexpected error. Edit a file or press r+Enter to restart.",
	},

	// RPC Errors (P160-P179)

	"P160": {
		Category: CategoryRPC,
		Message:  "RPC call timed out",
		Detail:   "The worker did not answer within the RPC timeout.",
	},
	"P161": {
		Category: CategoryRPC,
		Message:  "RPC call failed",
		Detail:   "The remote side answered with an error.",
	},
	"P162": {
		Category: CategoryRPC,
		Message:  "RPC channel closed",
		Detail:   "The worker exited while a call was pending.",
	},

	// CLI Errors (P180-P199)

	"P180": {
		Category: CategoryCLI,
		Message:  "Unknown server",
		Detail:   "Supported servers are std, chi and gin.",
	},
	"P181": {
		Category: CategoryCLI,
		Message:  "Invalid publish target",
		Detail:   "Publish targets look like file:///path or s3://bucket/prefix.",
	},
}

// Codes returns every registered code in ascending order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template registered for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
