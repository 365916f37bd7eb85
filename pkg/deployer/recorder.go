package deployer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/metrics"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

// Recorder is the single writer for deployment state and log lines. It
// persists every transition, emits one log line per transition, and
// fans log lines out to live websocket subscribers.
type Recorder struct {
	store *Store

	mu   sync.Mutex
	subs map[uuid.UUID]map[chan types.LogItem]struct{}

	// now is injectable for tests.
	now func() time.Time
}

// NewRecorder creates a recorder over the deployer store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store: store,
		subs:  make(map[uuid.UUID]map[chan types.LogItem]struct{}),
		now:   time.Now,
	}
}

// RecordState persists a state transition. A nil deployment id is
// dropped with a warning and nothing is persisted.
func (r *Recorder) RecordState(ctx context.Context, id uuid.UUID, state types.DeploymentState, address string) {
	if id == uuid.Nil {
		log.WithComponent("deployer").Warn().
			Str("state", string(state)).
			Msg("Dropping state update without a deployment id")
		return
	}

	if err := r.store.UpdateDeploymentState(ctx, id, state, address, r.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.WithDeployment(id.String()).Warn().
				Str("state", string(state)).
				Msg("Dropping state update for unknown deployment")
			return
		}
		log.WithDeployment(id.String()).Error().Err(err).Msg("Failed to persist state update")
		return
	}

	metrics.DeploymentTransitions.WithLabelValues(string(state)).Inc()
	log.WithDeployment(id.String()).Info().Msg(fmt.Sprintf("Entering %s state", state))
}

// Log persists one log line and delivers it to subscribers. Slow
// subscribers miss lines rather than stall the pipeline.
func (r *Recorder) Log(ctx context.Context, id uuid.UUID, line string) {
	if id == uuid.Nil {
		return
	}
	item := types.LogItem{DeploymentID: id, Timestamp: r.now(), Line: line}
	if err := r.store.InsertLog(ctx, item); err != nil {
		log.WithDeployment(id.String()).Error().Err(err).Msg("Failed to persist log line")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs[id] {
		select {
		case ch <- item:
		default:
		}
	}
}

// Subscribe registers a live tail on a deployment's log stream. The
// returned cancel func must be called when the consumer goes away.
func (r *Recorder) Subscribe(id uuid.UUID) (<-chan types.LogItem, func()) {
	ch := make(chan types.LogItem, 64)

	r.mu.Lock()
	if r.subs[id] == nil {
		r.subs[id] = make(map[chan types.LogItem]struct{})
	}
	r.subs[id][ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.subs[id]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(r.subs, id)
			}
		}
	}
	return ch, cancel
}
