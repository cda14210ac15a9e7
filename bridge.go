package configflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/internal/bus"
	"github.com/xzhHas/configflow/internal/category"
	"github.com/xzhHas/configflow/internal/changefeed"
	"github.com/xzhHas/configflow/internal/checkpoint"
	"github.com/xzhHas/configflow/internal/logging"
	"github.com/xzhHas/configflow/internal/metrics"
	"github.com/xzhHas/configflow/types"
)

type (
	Config        = types.Config
	Category      = types.Category
	UpdateMessage = types.UpdateMessage
	Envelope      = types.Envelope
)

var (
	// ErrFeedFatal wraps errors of the feed itself; the process should be
	// restarted and will resume from the last checkpoint.
	ErrFeedFatal = errors.New("change feed failed")
	// ErrMalformedKey marks an event whose document key has no binary _id.
	ErrMalformedKey = errors.New("malformed document key")
	// ErrUnparseableID marks a binary _id that is not a UUID.
	ErrUnparseableID = errors.New("document id is not a uuid")
)

// Options are the collaborators a Bridge runs with. The bridge owns them and
// closes them in Close.
type Options struct {
	Feed       changefeed.Feed
	Checkpoint checkpoint.Store
	Publisher  bus.Publisher
	Resolver   *category.Resolver
	// TenantID is stamped on every envelope; zero means none.
	TenantID uuid.UUID
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Bridge republishes document mutations as configuration updates. Events are
// handled strictly one at a time in feed order.
type Bridge struct {
	feed     changefeed.Feed
	store    checkpoint.Store
	pub      bus.Publisher
	resolver *category.Resolver
	tenant   uuid.UUID
	logger   *zap.Logger
	metrics  *metrics.Metrics
	state    atomic.Int32
	started  atomic.Bool
}

func New(opts Options) (*Bridge, error) {
	switch {
	case opts.Feed == nil:
		return nil, errors.New("change feed is required")
	case opts.Checkpoint == nil:
		return nil, errors.New("checkpoint store is required")
	case opts.Publisher == nil:
		return nil, errors.New("publisher is required")
	case opts.Resolver == nil:
		return nil, errors.New("category resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		feed:     opts.Feed,
		store:    opts.Checkpoint,
		pub:      opts.Publisher,
		resolver: opts.Resolver,
		tenant:   opts.TenantID,
		logger:   logger.With(zap.String("component", "bridge")),
		metrics:  opts.Metrics,
	}, nil
}

// State reports where the bridge is in its lifecycle.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	b.metrics.SetState(int(s))
	b.logger.Debug("state changed", zap.Stringer("state", s))
}

// Start runs the bridge until ctx is cancelled or the feed fails. Cancellation
// returns nil after the event in flight is fully handled. A bridge runs once.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("bridge already started")
	}

	b.setState(Bootstrapping)
	cur, err := b.bootstrap(ctx)
	if err != nil {
		b.setState(Terminated)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := cur.Close(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("failed to close change feed cursor", zap.Error(err))
		}
	}()

	b.setState(Streaming)
	for {
		// a cursor may keep serving buffered events after cancellation
		if ctx.Err() != nil {
			b.drain()
			return nil
		}
		ev, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.drain()
				return nil
			}
			b.setState(Terminated)
			b.logger.Error("change feed failed", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrFeedFatal, err)
		}
		// the event in flight finishes even if ctx is cancelled meanwhile
		b.handle(context.WithoutCancel(ctx), ev)
	}
}

func (b *Bridge) drain() {
	b.setState(Draining)
	b.logger.Info("configuration change bridge stopping")
	b.setState(Terminated)
}

func (b *Bridge) bootstrap(ctx context.Context) (changefeed.Cursor, error) {
	b.logger.Debug("fetching resume token")
	token, err := b.store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}

	cur, err := b.feed.Open(ctx, b.resolver.Collections(), token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedFatal, err)
	}
	if token != nil {
		b.logger.Info("resuming change feed", zap.Stringer("token", token))
		return cur, nil
	}

	b.logger.Warn("broadcasting configuration invalidation to all services")
	if err := b.publish(ctx, uuid.New(), types.ConfigurationInvalidated{}); err != nil {
		_ = cur.Close(context.WithoutCancel(ctx))
		return nil, errors.Wrap(err, "broadcast invalidation")
	}
	return cur, nil
}

func (b *Bridge) handle(ctx context.Context, ev changefeed.Event) {
	log := b.logger.With(
		zap.String("collection", ev.Collection),
		zap.String("operation", string(ev.Operation)))

	if ev.Err != nil {
		b.metrics.Dropped(metrics.ReasonMalformedEvent)
		log.Error("undecodable change event", zap.Error(ev.Err), zap.String("change", ev.Raw))
		return
	}

	if !Handled(ev.Operation) {
		// nothing to publish, but the feed moved past it
		if ev.Operation != changefeed.OpProgress {
			b.metrics.Dropped(metrics.ReasonUnhandledOp)
			log.Debug("unhandled change operation", zap.String("change", ev.Raw))
		}
		b.checkpoint(ctx, log, ev.Token)
		return
	}

	id, err := EntityID(ev.Key)
	if err != nil {
		if errors.Is(err, ErrUnparseableID) {
			b.metrics.Dropped(metrics.ReasonUnparseableID)
			log.Error("unable to create uuid from id bytes", zap.Error(err), zap.String("key", ev.Key.Display), logging.Critical())
			return
		}
		b.metrics.Dropped(metrics.ReasonMalformedKey)
		log.Error("document key has no usable _id", zap.Error(err), zap.String("change", ev.Raw))
		return
	}

	cat, ok := b.resolver.Resolve(ev.Collection)
	if !ok {
		// the feed filters server side, so this is a configuration bug
		b.metrics.Dropped(metrics.ReasonUnwatched)
		log.Error("change for unwatched collection", zap.String("change", ev.Raw))
		return
	}
	msg := Classify(ev.Operation, cat, id)

	if err := b.publish(ctx, id, msg); err != nil {
		b.metrics.Dropped(metrics.ReasonPublishFailed)
		log.Error("failed to broadcast configuration change", zap.Error(err), zap.String("change", ev.Raw))
		return
	}

	b.checkpoint(ctx, log, ev.Token)
}

func (b *Bridge) checkpoint(ctx context.Context, log *zap.Logger, token changefeed.ResumeToken) {
	if token == nil {
		return
	}
	if err := b.store.Save(ctx, token); err != nil {
		b.metrics.CheckpointFailed()
		log.Error("failed to save resume token", zap.Error(err))
	}
}

func (b *Bridge) publish(ctx context.Context, key uuid.UUID, msg types.UpdateMessage) error {
	env, err := types.NewEnvelope(msg, b.tenant)
	if err != nil {
		return err
	}
	if err := b.pub.Publish(ctx, key, env); err != nil {
		return err
	}
	b.metrics.Published(env.Type)
	return nil
}

// Close releases the feed, the publisher and the checkpoint store.
func (b *Bridge) Close(ctx context.Context) error {
	return multierr.Combine(
		b.feed.Close(ctx),
		b.pub.Close(),
		b.store.Close(),
	)
}

// Handled reports whether op is broadcast at all.
func Handled(op changefeed.Operation) bool {
	switch op {
	case changefeed.OpInsert, changefeed.OpUpdate, changefeed.OpReplace, changefeed.OpDelete:
		return true
	}
	return false
}

// Classify maps a mutation to the update it publishes, or nil for operations
// that are not broadcast.
func Classify(op changefeed.Operation, cat types.Category, id uuid.UUID) types.UpdateMessage {
	switch op {
	case changefeed.OpInsert:
		return types.ConfigurationCreated{Category: cat, ID: id}
	case changefeed.OpUpdate, changefeed.OpReplace:
		return types.ConfigurationChanged{Category: cat, ID: id}
	case changefeed.OpDelete:
		return types.ConfigurationDeleted{Category: cat, ID: id}
	}
	return nil
}

// EntityID decodes the UUID held by a document key. Legacy binary subtype 3
// keys use the little-endian layout of .NET GUIDs.
func EntityID(key changefeed.DocumentKey) (uuid.UUID, error) {
	switch key.Kind {
	case changefeed.KeyMissing:
		return uuid.Nil, errors.Wrap(ErrMalformedKey, "document key was missing the '_id' field")
	case changefeed.KeyOther:
		return uuid.Nil, errors.Wrapf(ErrMalformedKey, "document key was not binary data: %s", key.Display)
	}
	id, err := uuid.FromBytes(key.Data)
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrUnparseableID, "%d bytes", len(key.Data))
	}
	if key.Subtype == changefeed.SubtypeUUIDLegacy {
		id = legacyGUID(id)
	}
	return id, nil
}

func legacyGUID(b uuid.UUID) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u
}
