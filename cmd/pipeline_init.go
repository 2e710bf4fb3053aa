package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/extract"
	"github.com/sells-group/terms-cli/internal/mapping"
	"github.com/sells-group/terms-cli/internal/monitoring"
	"github.com/sells-group/terms-cli/internal/pipeline"
	"github.com/sells-group/terms-cli/internal/provider"
	"github.com/sells-group/terms-cli/internal/store"
	"github.com/sells-group/terms-cli/internal/transfer"
	"github.com/sells-group/terms-cli/internal/validate"
)

// pipelineEnv holds the initialized store and services needed by the
// run/review/export/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Review       *validate.ReviewService
	Mapper       *mapping.Mapper
	Providers    *provider.Registry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, providers, catalog, mapping tables, and
// the orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	catalog, err := extract.LoadCatalog(cfg.Extract.CatalogPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mapper := mapping.NewMapper()
	if err := mapper.Reload(cfg.Mapping.TableDir); err != nil {
		zap.L().Warn("mapping tables not loaded, values will pass through unmapped", zap.Error(err))
	}

	sender, err := transfer.NewSender(cfg.Transfer)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	alerter := monitoring.NewAlerter(cfg.Alerting)

	engine := extract.NewEngine(catalog, mapper,
		extract.WithMaxConcurrency(cfg.Extract.MaxConcurrency),
	)
	router := validate.NewRouter(st, cfg.Validate.AutoConfirmThreshold)
	gateway := transfer.NewGateway(sender, st, alerter)
	registry := provider.NewRegistry(cfg)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Store:     st,
		Providers: pipeline.NewRegistrySource(registry),
		Engine:    engine,
		Mapper:    mapper,
		Router:    router,
		Gateway:   gateway,
		Catalog:   catalog,
		Acquirer:  pipeline.NewFSAcquirer(cfg.Pipeline),
		Preproc:   pipeline.NewFSPreprocessor(cfg.Pipeline),
		Indexer:   pipeline.NewRecordingIndexer(),
		ExportDir: cfg.Pipeline.ExportDir,
	})

	return &pipelineEnv{
		Store:        st,
		Orchestrator: orch,
		Review:       validate.NewReviewService(st),
		Mapper:       mapper,
		Providers:    registry,
	}, nil
}
