package entry

// Type is how an entry hands requests to its runtime.
type Type string

const (
	// TypeAuto means the entry has not been classified yet.
	TypeAuto Type = "auto"
	// TypeServer entries default export a framework server.
	TypeServer Type = "server"
	// TypeUniversalHandler entries default export a fetch handler.
	TypeUniversalHandler Type = "universal-handler"
)

// Runtime targets.
const (
	RuntimeNode                   = "node"
	RuntimeNodeless               = "nodeless"
	RuntimeDeno                   = "deno"
	RuntimeCloudflare             = "cloudflare"
	RuntimeCloudflareNodejsCompat = "cloudflare-nodejs-compat"
	RuntimeVercel                 = "vercel"
)

// ServerEntry is one declared server entry and its classification.
type ServerEntry struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	ResolvedID string `json:"resolvedId,omitempty"`
	Runtime    string `json:"runtime"`
	Type       Type   `json:"type"`
	Framework  string `json:"framework,omitempty"`
}

// Resolved reports whether the entry has a concrete classification.
func (e *ServerEntry) Resolved() bool {
	return e.Type != "" && e.Type != TypeAuto
}
