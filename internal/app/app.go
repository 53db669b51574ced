// Package app wires the configured catalog backend, table reader, URL
// signers, and sharing service into a ready-to-mount API handler.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"lakeshare/internal/access"
	"lakeshare/internal/api"
	"lakeshare/internal/catalog/dynamo"
	"lakeshare/internal/catalog/file"
	"lakeshare/internal/catalog/postgres"
	"lakeshare/internal/config"
	"lakeshare/internal/domain"
	"lakeshare/internal/reader/deltalog"
	"lakeshare/internal/sharing"
	"lakeshare/internal/signer"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Handler *api.Handler
	Service *sharing.Service
	Catalog domain.Catalog

	// Reload refreshes the catalog where the backend supports it (file
	// backend on SIGHUP). Nil for backends that always read live state.
	Reload func() error

	closers []func() error
}

// Close releases backend resources.
func (a *App) Close() error {
	var first error
	for _, closer := range a.closers {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New wires the catalog backend, reader, signers, and service from config.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	app := &App{}

	backend, err := newBackend(ctx, deps, app)
	if err != nil {
		return nil, err
	}
	app.Catalog = access.Wrap(backend)

	signers, err := newSignerRegistry(ctx, deps)
	if err != nil {
		return nil, err
	}

	store := deltalog.NewMultiStore()
	if cfg.HasS3Config() {
		s3Store, err := deltalog.NewS3Store(deltalog.S3StoreOptions{
			Region:       cfg.S3Region,
			KeyID:        cfg.S3KeyID,
			Secret:       cfg.S3Secret,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 object store: %w", err)
		}
		store.Register(s3Store, "s3", "s3a")
	}
	reader := deltalog.New(store, deps.Logger)

	app.Service = sharing.New(app.Catalog, reader, signers, cfg.URLExpiry, cfg.MaxFilesPerQuery, deps.Logger)
	app.Handler = api.NewHandler(app.Service, deps.Logger)
	return app, nil
}

// newBackend builds the catalog backend selected by CATALOG_BACKEND.
func newBackend(ctx context.Context, deps Deps, app *App) (domain.Catalog, error) {
	cfg := deps.Cfg
	switch cfg.CatalogBackend {
	case config.BackendFile:
		backend, err := file.New(cfg.ShareFilePath, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("file catalog: %w", err)
		}
		app.Reload = backend.Reload
		return backend, nil

	case config.BackendDynamo:
		opts := dynamodb.Options{Region: cfg.DynamoRegion}
		if cfg.S3KeyID != "" && cfg.S3Secret != "" {
			opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3KeyID, cfg.S3Secret, "")
		}
		if cfg.DynamoEndpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
		return dynamo.New(dynamodb.New(opts), cfg.DynamoTable, deps.Logger), nil

	case config.BackendPostgres:
		backend, err := postgres.Open(ctx, cfg.PostgresDSN, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("postgres catalog: %w", err)
		}
		app.closers = append(app.closers, backend.Close)
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.CatalogBackend)
	}
}

// newSignerRegistry registers a signer per configured storage provider.
// Schemes with no signer fall through to the passthrough signer, which
// returns the storage URI unsigned.
func newSignerRegistry(ctx context.Context, deps Deps) (*signer.Registry, error) {
	cfg := deps.Cfg
	registry := signer.NewRegistry()

	if cfg.HasS3Config() {
		s3Signer, err := signer.NewS3Signer(signer.S3Options{
			Region:       cfg.S3Region,
			KeyID:        cfg.S3KeyID,
			Secret:       cfg.S3Secret,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 signer: %w", err)
		}
		registry.Register(s3Signer, "s3", "s3a")
		deps.Logger.Info("s3 url signing enabled", "region", cfg.S3Region)
	}

	if cfg.GCSKeyFile != "" {
		gcsSigner, err := signer.NewGCSSigner(ctx, cfg.GCSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("gcs signer: %w", err)
		}
		registry.Register(gcsSigner, "gs")
		deps.Logger.Info("gcs url signing enabled")
	}

	if cfg.HasAzureConfig() {
		azureSigner, err := signer.NewAzureSigner(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, fmt.Errorf("azure signer: %w", err)
		}
		registry.Register(azureSigner, "abfss", "az", "https")
		deps.Logger.Info("azure url signing enabled", "account", cfg.AzureAccount)
	}

	return registry, nil
}
