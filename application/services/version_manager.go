package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NoriginMedia/nannoq-tools-sub001/application/ports"
	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/common"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/observability"
)

// ManagerSettings tunes a VersionManager
type ManagerSettings struct {
	// CorrelationPrefix is prepended to generated correlation ids
	CorrelationPrefix string
	// Parallelism bounds batch fan-out; values below 1 mean sequential
	Parallelism int
}

// VersionedRecord pairs a record with the versions to replay onto it
type VersionedRecord struct {
	Record   any
	Versions []*versioning.Version
}

// VersionManager is the entry point for extracting, applying and storing
// versions. It adds correlation ids, batching, history, metrics and tracing
// on top of the versioning engine.
type VersionManager struct {
	extractor  *versioning.StateExtractor
	applier    *versioning.StateApplier
	identities *versioning.IteratorIDManager
	store      ports.VersionStore
	publisher  ports.EventPublisher
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *zap.Logger
	settings   ManagerSettings
}

// NewVersionManager creates a new version manager. store, publisher and
// metrics may be nil; history operations then fail with a configuration
// error and commits are not announced.
func NewVersionManager(
	extractor *versioning.StateExtractor,
	applier *versioning.StateApplier,
	identities *versioning.IteratorIDManager,
	store ports.VersionStore,
	publisher ports.EventPublisher,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	logger *zap.Logger,
	settings ManagerSettings,
) *VersionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewTracer("versioning", nil)
	}
	if settings.Parallelism < 1 {
		settings.Parallelism = 1
	}
	return &VersionManager{
		extractor:  extractor,
		applier:    applier,
		identities: identities,
		store:      store,
		publisher:  publisher,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		settings:   settings,
	}
}

// observe runs fn inside a span and records its outcome
func (m *VersionManager) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	err := m.tracer.TraceFunction(ctx, operation, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return errors.NewInternalError(operation + " canceled").WithCause(err)
		}
		return fn(ctx)
	})
	m.metrics.RecordOperation(operation, time.Since(start), err)
	return err
}

// correlationID returns the id carried by ctx or a new one
func (m *VersionManager) correlationID(ctx context.Context) string {
	if id, ok := common.GetCorrelationID(ctx); ok {
		return id
	}
	return m.settings.CorrelationPrefix + uuid.NewString()
}

// ExtractVersion computes the version between the two sides of pair
func (m *VersionManager) ExtractVersion(ctx context.Context, pair versioning.Pair) (*versioning.Version, error) {
	var version *versioning.Version
	err := m.observe(ctx, "extract", func(ctx context.Context) error {
		var err error
		version, err = m.extract(ctx, pair, m.correlationID(ctx))
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (m *VersionManager) extract(ctx context.Context, pair versioning.Pair, correlationID string) (*versioning.Version, error) {
	version, err := m.extractor.Extract(pair)
	if err != nil {
		return nil, err
	}
	version.CorrelationID = correlationID

	n := len(version.ObjectModificationMap)
	m.metrics.RecordModifications(n)
	m.tracer.AddAnnotation(ctx, "correlation_id", correlationID)
	m.tracer.AddMetric(ctx, "modifications", n)

	m.logger.Debug("Extracted version",
		zap.String("versionID", version.ID),
		zap.String("correlationID", correlationID),
		zap.Int("modifications", n),
	)
	return version, nil
}

// ExtractVersions extracts one version per pair, in parallel. Results keep the
// order of pairs and share one correlation id. Any failure fails the batch.
func (m *VersionManager) ExtractVersions(ctx context.Context, pairs []versioning.Pair) ([]*versioning.Version, error) {
	versions := make([]*versioning.Version, len(pairs))
	err := m.observe(ctx, "extract_batch", func(ctx context.Context) error {
		correlationID := m.correlationID(ctx)
		fc := errors.NewCollector("extract_batch", m.logger)

		var g errgroup.Group
		g.SetLimit(m.settings.Parallelism)
		for i, pair := range pairs {
			g.Go(func() error {
				v, err := m.extract(ctx, pair, correlationID)
				if err != nil {
					fc.Add(fmt.Sprintf("pairs[%d]", i), err)
					return nil
				}
				versions[i] = v
				return nil
			})
		}
		_ = g.Wait()

		return fc.ToError()
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// ApplyState applies version onto record, a non-nil pointer to a struct
func (m *VersionManager) ApplyState(ctx context.Context, version *versioning.Version, record any) error {
	return m.observe(ctx, "apply", func(ctx context.Context) error {
		return m.apply(ctx, version, record)
	})
}

func (m *VersionManager) apply(ctx context.Context, version *versioning.Version, record any) error {
	if version != nil {
		m.tracer.AddAnnotation(ctx, "version_id", version.ID)
	}
	return m.applier.Apply(version, record)
}

// ApplyStates applies versions onto record in order, stopping at the first
// version that fails.
func (m *VersionManager) ApplyStates(ctx context.Context, versions []*versioning.Version, record any) error {
	return m.observe(ctx, "apply_sequence", func(ctx context.Context) error {
		return m.applySequence(ctx, versions, record)
	})
}

func (m *VersionManager) applySequence(ctx context.Context, versions []*versioning.Version, record any) error {
	for i, v := range versions {
		if err := m.apply(ctx, v, record); err != nil {
			return errors.AtPath(err, fmt.Sprintf("versions[%d]", i))
		}
	}
	return nil
}

// ApplyStateBatch replays each item's versions onto its record. Records are
// processed in parallel; versions of one record in order.
func (m *VersionManager) ApplyStateBatch(ctx context.Context, items []VersionedRecord) error {
	return m.observe(ctx, "apply_batch", func(ctx context.Context) error {
		fc := errors.NewCollector("apply_batch", m.logger)

		var g errgroup.Group
		g.SetLimit(m.settings.Parallelism)
		for i, item := range items {
			g.Go(func() error {
				if err := m.applySequence(ctx, item.Versions, item.Record); err != nil {
					fc.Add(fmt.Sprintf("records[%d]", i), err)
				}
				return nil
			})
		}
		_ = g.Wait()

		return fc.ToError()
	})
}

// AssignIdentities fills missing iterator ids on every record
func (m *VersionManager) AssignIdentities(ctx context.Context, records ...any) error {
	return m.observe(ctx, "assign", func(ctx context.Context) error {
		m.tracer.AddMetric(ctx, "records", len(records))
		return m.identities.Assign(records...)
	})
}

func (m *VersionManager) requireStore() error {
	if m.store == nil {
		return errors.NewConfigurationError("version history is not configured")
	}
	return nil
}

// Commit extracts the version for pair and appends it to the history of key.
// Empty versions are returned but not stored.
func (m *VersionManager) Commit(ctx context.Context, key string, pair versioning.Pair) (*versioning.Version, error) {
	var version *versioning.Version
	err := m.observe(ctx, "commit", func(ctx context.Context) error {
		if err := m.requireStore(); err != nil {
			return err
		}
		m.tracer.AddAnnotation(ctx, "history_key", key)

		var err error
		version, err = m.extract(ctx, pair, m.correlationID(ctx))
		if err != nil {
			return err
		}
		if version.IsEmpty() {
			return nil
		}
		if err := m.store.Append(ctx, key, version); err != nil {
			return err
		}
		m.announce(ctx, key, version)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// announce publishes a VersionCommitted event. The version is already stored,
// so a failed publish is logged and not returned.
func (m *VersionManager) announce(ctx context.Context, key string, version *versioning.Version) {
	if m.publisher == nil {
		return
	}
	event, err := versioning.NewVersionCommitted(key, version, time.Now())
	if err == nil {
		err = m.publisher.Publish(ctx, event)
	}
	if err != nil {
		m.logger.Warn("Failed to announce committed version",
			zap.String("key", key),
			zap.String("version_id", version.ID),
			zap.Error(err),
		)
		m.tracer.RecordError(ctx, err)
	}
}

// History returns the stored versions of key, oldest first
func (m *VersionManager) History(ctx context.Context, key string) ([]*versioning.Version, error) {
	if err := m.requireStore(); err != nil {
		return nil, err
	}
	return m.store.List(ctx, key)
}

// Restore replays the stored history of key onto base
func (m *VersionManager) Restore(ctx context.Context, key string, base any) error {
	return m.observe(ctx, "restore", func(ctx context.Context) error {
		if err := m.requireStore(); err != nil {
			return err
		}
		history, err := m.store.List(ctx, key)
		if err != nil {
			return err
		}
		m.tracer.AddMetric(ctx, "versions", len(history))
		return m.applySequence(ctx, history, base)
	})
}

// PruneHistory drops stored versions past their retention period
func (m *VersionManager) PruneHistory(ctx context.Context) (int, error) {
	if err := m.requireStore(); err != nil {
		return 0, err
	}
	return m.store.Prune(ctx, time.Now())
}
