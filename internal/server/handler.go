package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jacksonlee411/hr-batch-adjust/internal/config"
	"github.com/jacksonlee411/hr-batch-adjust/internal/metrics"
	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/calculator"
	adjports "github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/ports"
	adjtypes "github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	adjpersistence "github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/infrastructure/persistence"
	adjcontrollers "github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/presentation/controllers"
	adjservices "github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/services"
	personports "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/ports"
	personpersistence "github.com/jacksonlee411/hr-batch-adjust/modules/person/infrastructure/persistence"
	personcontrollers "github.com/jacksonlee411/hr-batch-adjust/modules/person/presentation/controllers"
	personservices "github.com/jacksonlee411/hr-batch-adjust/modules/person/services"
)

type HandlerOptions struct {
	Config          config.Config
	Logger          *zap.Logger
	Registry        *prometheus.Registry
	TenancyResolver TenancyResolver
	Authorizer      authorizer
	// Pool backs the Postgres stores when Config.Store is postgres. When nil
	// a pool is opened from Config.DSN().
	Pool            *pgxpool.Pool
	PersonStore     personports.PersonStore
	RecordStore     personports.RecordStore
	BatchRepository adjports.BatchRepository
	Now             func() time.Time
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allowlistPath := cfg.AllowlistPath
	if allowlistPath == "" {
		allowlistPath = "config/routing/allowlist.yaml"
	}
	p, err := findUp(allowlistPath)
	if err != nil {
		return nil, err
	}
	a, err := routing.LoadAllowlist(p)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	persons, records, batches := opts.PersonStore, opts.RecordStore, opts.BatchRepository
	if persons == nil || records == nil || batches == nil {
		switch cfg.Store {
		case config.StorePostgres:
			pool := opts.Pool
			if pool == nil {
				pool, err = pgxpool.New(context.Background(), cfg.DSN())
				if err != nil {
					return nil, err
				}
			}
			store := personpersistence.NewPGStore(pool)
			persons, records = store, store
			batches = adjpersistence.NewPGRepository(pool, store)
		case config.StoreMemory, "":
			store := personpersistence.NewMemoryStore(opts.Now)
			persons, records = store, store
			batches = adjpersistence.NewMemoryRepository()
		default:
			return nil, errors.New("server: unknown store " + cfg.Store)
		}
	}

	tenancyResolver := opts.TenancyResolver
	if tenancyResolver == nil {
		tenancyResolver, err = NewStaticTenancyResolver(cfg.TenantHosts)
		if err != nil {
			return nil, err
		}
	}

	az := opts.Authorizer
	if az == nil {
		loaded, err := loadAuthorizer(cfg)
		if err != nil {
			return nil, err
		}
		az = loaded
	}

	settings := calculator.DefaultSettings()
	if cfg.AdjustmentDefaultsPath != "" {
		settingsPath, err := findUp(cfg.AdjustmentDefaultsPath)
		if err != nil {
			return nil, err
		}
		if settings, err = calculator.LoadSettings(settingsPath); err != nil {
			return nil, err
		}
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	engine := adjservices.NewEngine(adjservices.EngineConfig{
		Persons:            persons,
		Records:            records,
		Batches:            batches,
		Calculators:        calculator.DefaultRegistry(settings),
		Metrics:            metrics.NewAdjustment(reg),
		Logger:             logger.Named("adjustment"),
		Now:                opts.Now,
		PreviewParallelism: cfg.PreviewParallelism,
		ExecuteMaxRetries:  cfg.ExecuteMaxRetries,
		ExecuteRetryBase:   cfg.ExecuteRetryBase,
		ExecuteTimeout:     cfg.ExecuteTimeout,
	})

	router := routing.NewRouter(classifier, logger)

	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	personsController := personcontrollers.PersonsController{
		TenantID: currentTenantID,
		Persons:  persons,
		Records:  records,
		Query:    personservices.NewTemporalQueryService(persons, records, logger.Named("person")),
	}
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/person/api/persons", http.HandlerFunc(personsController.HandlePersonsAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/person/api/persons", http.HandlerFunc(personsController.HandlePersonsAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/person/api/persons/{id}", http.HandlerFunc(personsController.HandlePersonDetailAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/person/api/persons/{id}/aspects/{aspect}", http.HandlerFunc(personsController.HandlePersonAspectAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/person/api/persons/{id}/aspects/{aspect}", http.HandlerFunc(personsController.HandlePersonAspectAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/person/api/statistics", http.HandlerFunc(personsController.HandleStatisticsAPI))

	for _, kind := range adjtypes.AllKinds() {
		c := adjcontrollers.AdjustmentController{TenantID: currentTenantID, Kind: kind, Engine: engine}
		base := "/" + kind.Slug() + "/api"
		router.Handle(routing.RouteClassInternalAPI, http.MethodPost, base+"/batch-preview", http.HandlerFunc(c.HandleBatchPreviewAPI))
		router.Handle(routing.RouteClassInternalAPI, http.MethodGet, base+"/batches", http.HandlerFunc(c.HandleBatchesAPI))
		router.Handle(routing.RouteClassInternalAPI, http.MethodGet, base+"/batches/{id}", http.HandlerFunc(c.HandleBatchAPI))
		router.Handle(routing.RouteClassInternalAPI, http.MethodDelete, base+"/batches/{id}", http.HandlerFunc(c.HandleBatchAPI))
		router.Handle(routing.RouteClassInternalAPI, http.MethodGet, base+"/batch-items/{id}", http.HandlerFunc(c.HandleBatchItemsAPI))
		router.Handle(routing.RouteClassInternalAPI, http.MethodPost, base+"/batch-confirm/{id}", http.HandlerFunc(c.HandleBatchConfirmAPI))
		router.Handle(routing.RouteClassInternalAPI, http.MethodPost, base+"/batch-execute/{id}", http.HandlerFunc(c.HandleBatchExecuteAPI))
	}

	return withTenantAndPrincipal(classifier, tenancyResolver, cfg.TrustProxy, withAuthz(classifier, az, logger, router)), nil
}
