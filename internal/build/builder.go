package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/artifacts"
	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/entry"
	"github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/telemetry"
)

// Result contains the build output.
type Result struct {
	// Duration is how long the build took.
	Duration time.Duration

	// Manifest is the path to the written entry manifest.
	Manifest string

	// Hash is the SHA256 of the manifest.
	Hash string

	// Entries are the resolved entries, index first.
	Entries []entry.ServerEntry

	// Published lists where the manifest was published, if anywhere.
	Published []string
}

// Options configures the builder.
type Options struct {
	// Publish overrides build.publish (file:///dir or s3://bucket/prefix).
	Publish string

	// Store overrides the publish target entirely.
	Store artifacts.Store

	// Frameworks overrides the known server frameworks.
	Frameworks []entry.Framework

	Logger *zap.Logger

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Builder handles production builds.
type Builder struct {
	config  *config.Config
	options Options
	logger  *zap.Logger
}

// New creates a new builder.
func New(cfg *config.Config, options Options) *Builder {
	if options.Publish == "" && cfg.Build.Publish != "" {
		options.Publish = cfg.Build.Publish
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		config:  cfg,
		options: options,
		logger:  logger.Named("build"),
	}
}

// Build resolves the entries, writes the manifest and publishes it.
func (b *Builder) Build(ctx context.Context) (result *Result, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "photon.build")
	defer func() { telemetry.EndSpan(span, err) }()

	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	b.progress("Resolving server entries...")
	resolver := entry.NewResolver(b.config.Dir(), b.options.Frameworks, b.logger)
	meta := entry.NewMetadata(b.config)
	if err := meta.ResolveAll(ctx, resolver); err != nil {
		return nil, err
	}
	result = &Result{Entries: meta.Entries()}
	for _, e := range result.Entries {
		b.logger.Debug("entry resolved",
			zap.String("name", e.Name),
			zap.String("type", string(e.Type)),
			zap.String("framework", e.Framework),
			zap.String("runtime", e.Runtime),
		)
	}

	b.progress("Writing entry manifest...")
	manifestPath := filepath.Join(b.config.OutputPath(), filepath.FromSlash(entry.ManifestFile))
	if err := meta.Save(manifestPath); err != nil {
		return nil, err
	}
	result.Manifest = manifestPath

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.New("P122").Wrap(err)
	}
	result.Hash = hashBytes(data)

	store, err := b.store()
	if err != nil {
		return nil, err
	}
	if store != nil {
		b.progress("Publishing manifest...")
		published, err := b.publish(ctx, store, data, result.Hash)
		if err != nil {
			return nil, err
		}
		result.Published = published
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (b *Builder) store() (artifacts.Store, error) {
	if b.options.Store != nil {
		return b.options.Store, nil
	}
	if b.options.Publish == "" {
		return nil, nil
	}
	return artifacts.Open(b.options.Publish)
}

// publish uploads the manifest under its stable name and under a
// content-addressed name.
func (b *Builder) publish(ctx context.Context, store artifacts.Store, data []byte, hash string) ([]string, error) {
	keys := []string{entry.ManifestFile, hashedName(entry.ManifestFile, hash)}
	published := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := store.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return published, errors.New("P123").WithDetail(store.Location(key)).Wrap(err)
		}
		published = append(published, store.Location(key))
		b.logger.Info("published", zap.String("location", store.Location(key)))
	}
	return published, nil
}

// progress reports build progress.
func (b *Builder) progress(step string) {
	if b.options.OnProgress != nil {
		b.options.OnProgress(step)
	}
}

// hashedName inserts the first 8 hash characters before the extension.
func hashedName(name, hash string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + hash[:8] + ext
}

// hashBytes returns the SHA256 hash of data.
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clean removes the photon directory from the build output.
func (b *Builder) Clean() error {
	return os.RemoveAll(filepath.Join(b.config.OutputPath(), filepath.Dir(filepath.FromSlash(entry.ManifestFile))))
}
