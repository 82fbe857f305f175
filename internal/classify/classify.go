// Package classify decides how the dev server reacts to changed files.
package classify

import (
	"path/filepath"
	"sort"
)

// DefaultMiddlewarePatterns match middleware files by base name.
var DefaultMiddlewarePatterns = []string{"+middleware.*"}

// Kind is the reaction a change requires.
type Kind int

const (
	// LeafImpacting changes are invalidated in place; no restart.
	LeafImpacting Kind = iota
	// EntryImpacting changes reach the server entry; restart.
	EntryImpacting
	// MiddlewareImpacting changes reach a middleware file; restart.
	MiddlewareImpacting
)

func (k Kind) String() string {
	switch k {
	case LeafImpacting:
		return "leaf"
	case EntryImpacting:
		return "entry"
	case MiddlewareImpacting:
		return "middleware"
	default:
		return "unknown"
	}
}

// Graph is the part of the module graph the classifier walks.
type Graph interface {
	Has(id string) bool
	Importers(id string) []string
}

// Verdict is the outcome of Classify.
type Verdict struct {
	Kind Kind
	// Invalidated lists every module reached from the changed files, sorted.
	Invalidated []string
	// Trigger is the module that decided the kind (the entry or a middleware file).
	Trigger string
}

// NeedsRestart reports whether the worker must be restarted.
func (v Verdict) NeedsRestart() bool {
	return v.Kind != LeafImpacting
}

// Classify walks importers breadth first from changed. Reaching any entry
// id makes the change entry-impacting; otherwise reaching a module whose
// base name matches a middleware pattern makes it middleware-impacting.
// Changed files the graph has never seen stay leaf-impacting.
func Classify(g Graph, changed []string, entries []string, middleware []string) Verdict {
	if middleware == nil {
		middleware = DefaultMiddlewarePatterns
	}
	isEntry := make(map[string]bool, len(entries))
	for _, e := range entries {
		isEntry[e] = true
	}

	visited := make(map[string]struct{})
	queue := make([]string, 0, len(changed))
	for _, id := range changed {
		if _, ok := visited[id]; ok || !g.Has(id) {
			continue
		}
		visited[id] = struct{}{}
		queue = append(queue, id)
	}

	v := Verdict{Kind: LeafImpacting}
	middlewareHit := ""
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if isEntry[id] {
			if v.Kind != EntryImpacting {
				v.Kind = EntryImpacting
				v.Trigger = id
			}
		} else if middlewareHit == "" && MatchesMiddleware(id, middleware) {
			middlewareHit = id
		}

		for _, imp := range g.Importers(id) {
			if _, ok := visited[imp]; ok {
				continue
			}
			visited[imp] = struct{}{}
			queue = append(queue, imp)
		}
	}

	if v.Kind != EntryImpacting && middlewareHit != "" {
		v.Kind = MiddlewareImpacting
		v.Trigger = middlewareHit
	}

	v.Invalidated = make([]string, 0, len(visited))
	for id := range visited {
		v.Invalidated = append(v.Invalidated, id)
	}
	sort.Strings(v.Invalidated)
	return v
}

// MatchesMiddleware reports whether the base name of id matches one of patterns.
func MatchesMiddleware(id string, patterns []string) bool {
	base := filepath.Base(id)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
