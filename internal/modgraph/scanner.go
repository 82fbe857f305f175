package modgraph

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/errors"
)

// ScanDir is where scan outputs would go; nothing is written there.
const ScanDir = ".photon/scan"

// assetLoaders keep non-code imports in the graph without parsing them.
var assetLoaders = map[string]api.Loader{
	".css":   api.LoaderEmpty,
	".scss":  api.LoaderEmpty,
	".svg":   api.LoaderEmpty,
	".png":   api.LoaderEmpty,
	".jpg":   api.LoaderEmpty,
	".jpeg":  api.LoaderEmpty,
	".gif":   api.LoaderEmpty,
	".webp":  api.LoaderEmpty,
	".woff":  api.LoaderEmpty,
	".woff2": api.LoaderEmpty,
	".html":  api.LoaderText,
	".md":    api.LoaderText,
}

// Scanner builds metafiles for server entries with esbuild. Packages are
// left external, so only project files end up as graph inputs.
type Scanner struct {
	root     string
	platform api.Platform
	logger   *zap.Logger
}

// NewScanner returns a scanner for entries under root targeting runtime
// ("node", "deno", "bun", ...).
func NewScanner(root, runtime string, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		root:     filepath.Clean(root),
		platform: PlatformFor(runtime),
		logger:   logger.Named("scanner"),
	}
}

// PlatformFor maps a runtime name to an esbuild platform.
func PlatformFor(runtime string) api.Platform {
	switch runtime {
	case "node", "bun", "vercel", "":
		return api.PlatformNode
	default:
		return api.PlatformNeutral
	}
}

// Root returns the directory esbuild resolves from.
func (s *Scanner) Root() string { return s.root }

// Scan analyzes entries (absolute paths) and returns their metafile.
func (s *Scanner) Scan(ctx context.Context, entries ...string) (*Metafile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if _, err := os.Stat(entry); err != nil {
			return nil, errors.New("P101").
				WithDetail("Entry " + entry + " does not exist").
				Wrap(err)
		}
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:   entries,
		AbsWorkingDir: s.root,
		Outdir:        filepath.Join(s.root, filepath.FromSlash(ScanDir)),
		Bundle:        true,
		Write:         false,
		Metafile:      true,
		Format:        api.FormatESModule,
		Platform:      s.platform,
		Target:        api.ESNext,
		Packages:      api.PackagesExternal,
		Loader:        assetLoaders,
		LogLevel:      api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		err := errors.New("P120").WithDetail(strings.TrimSpace(strings.Join(msgs, "\n")))
		if loc := result.Errors[0].Location; loc != nil {
			err = err.WithLocation(filepath.Join(s.root, loc.File), loc.Line, loc.Column)
		}
		return nil, err
	}
	for _, w := range result.Warnings {
		s.logger.Debug("esbuild warning", zap.String("text", w.Text))
	}

	meta, err := ParseMetafile(result.Metafile)
	if err != nil {
		return nil, errors.New("P120").Wrap(err)
	}
	s.logger.Debug("scanned entries",
		zap.Strings("entries", entries),
		zap.Int("inputs", len(meta.Inputs)),
	)
	return meta, nil
}

// ScanInto scans entries and feeds the result into g.
func (s *Scanner) ScanInto(ctx context.Context, g *Graph, entries ...string) (*Metafile, error) {
	meta, err := s.Scan(ctx, entries...)
	if err != nil {
		return nil, err
	}
	g.Update(meta)
	return meta, nil
}
