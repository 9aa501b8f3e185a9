package config

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/catalog"
	"github.com/turbolytics/stockroom/internal/events"
	"github.com/turbolytics/stockroom/internal/importer"
	"github.com/turbolytics/stockroom/internal/objectstore"
	"github.com/turbolytics/stockroom/internal/server"
	"github.com/turbolytics/stockroom/internal/storage"
	"github.com/turbolytics/stockroom/internal/webhook"
)

// Runtime holds the wired components of a running stockroom instance.
type Runtime struct {
	Logger     *zap.Logger
	DB         *sql.DB
	Catalog    *catalog.Store
	Service    *importer.Service
	Server     *server.Server
	Dispatcher *webhook.Dispatcher

	// Sink is nil when no kafka broker is configured.
	Sink *events.KafkaSink
}

func NewLogger(global Global) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if global.Logger.Level != "" {
		level, err := zap.ParseAtomicLevel(global.Logger.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	return cfg.Build()
}

func InitializeRuntime(ctx context.Context, c *Stockroom) (*Runtime, error) {
	logger, err := NewLogger(c.Global)
	if err != nil {
		return nil, err
	}

	db, dialect, err := storage.Open(ctx, c.Storage.Driver, c.Storage.DSN)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	catalogStore := catalog.NewStore(db, dialect,
		catalog.WithLogger(logger.Named("catalog")),
	)

	dispatcher := newDispatcher(c.Webhooks, db, dialect, logger)

	var sink *events.KafkaSink
	if c.Events.Kafka.URI != "" {
		sink, err = newKafkaSink(ctx, c.Events.Kafka, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	service := importer.NewService(
		importer.ServiceWithLogger(logger.Named("importer")),
		importer.ServiceWithJobStore(importer.NewSQLJobStore(db, dialect)),
		importer.ServiceWithCatalog(catalogStore),
		importer.ServiceWithWorkers(c.Importer.Workers),
		importer.ServiceWithBatchSize(c.Importer.BatchSize),
		importer.ServiceWithOpenerFactory(newOpenerFactory(c.Source, logger)),
		importer.ServiceWithTerminalHook(newTerminalHook(dispatcher, sink, logger)),
	)

	srv := server.New(service, catalogStore, dispatcher,
		server.WithLogger(logger.Named("server")),
	)

	return &Runtime{
		Logger:     logger,
		DB:         db,
		Catalog:    catalogStore,
		Service:    service,
		Server:     srv,
		Dispatcher: dispatcher,
		Sink:       sink,
	}, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	if r.Sink != nil {
		r.Sink.Close(ctx)
	}
	return r.DB.Close()
}

func newDispatcher(c Webhooks, db *sql.DB, dialect storage.Dialect, logger *zap.Logger) *webhook.Dispatcher {
	opts := []webhook.DispatcherOption{
		webhook.DispatcherWithLogger(logger.Named("webhook")),
	}
	if c.Timeout > 0 {
		opts = append(opts, webhook.DispatcherWithClient(&http.Client{Timeout: time.Duration(c.Timeout)}))
	}
	if c.MaxAttempts > 0 {
		opts = append(opts, webhook.DispatcherWithMaxAttempts(c.MaxAttempts))
	}
	if c.Backoff > 0 {
		opts = append(opts, webhook.DispatcherWithBackoff(time.Duration(c.Backoff)))
	}
	return webhook.NewDispatcher(webhook.NewSQLStore(db, dialect), opts...)
}

func newKafkaSink(ctx context.Context, c Kafka, logger *zap.Logger) (*events.KafkaSink, error) {
	u, err := url.Parse(c.URI)
	if err != nil {
		return nil, err
	}
	sink, err := events.NewKafkaSink(u,
		events.KafkaSinkWithLogger(logger.Named("events.kafka")),
	)
	if err != nil {
		return nil, err
	}
	if err := sink.Connect(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func newOpenerFactory(c Source, logger *zap.Logger) importer.OpenerFactory {
	return func(uri string) (objectstore.Opener, error) {
		return objectstore.NewOpener(uri,
			objectstore.WithRegion(c.S3.Region),
			objectstore.WithEndpoint(c.S3.Endpoint),
			objectstore.WithForcePathStyle(c.S3.ForcePathStyle),
			objectstore.WithLogger(logger.Named("objectstore")),
		)
	}
}

// newTerminalHook fans terminal job events out to webhooks and, when
// configured, the kafka sink. Delivery failures are logged and never reach
// the job that produced the event.
func newTerminalHook(dispatcher *webhook.Dispatcher, sink *events.KafkaSink, logger *zap.Logger) importer.TerminalHook {
	return func(ctx context.Context, job importer.Job) {
		event := webhook.EventIngestionCompleted
		if job.Status == importer.StatusFailed {
			event = webhook.EventIngestionFailed
		}

		payload := webhook.Payload{
			Event:        event,
			JobID:        job.ID.String(),
			TotalRecords: job.TotalRecords,
			Processed:    job.ProcessedRecords,
			Created:      job.CreatedCount,
			Updated:      job.UpdatedCount,
			Errors:       job.ErrorCount,
			ErrorSummary: job.ErrorSummary,
			Timestamp:    time.Now().UTC(),
		}

		dispatcher.Dispatch(ctx, payload)

		if sink != nil {
			if err := sink.Publish(ctx, payload); err != nil {
				logger.Error("publishing terminal event", zap.Error(err))
			}
		}
	}
}
