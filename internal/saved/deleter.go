package saved

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// UndoWindow is how long a pending delete waits before the store delete is
// issued.
const UndoWindow = 5 * time.Second

// flushConcurrency caps parallel store deletes during a batch flush.
const flushConcurrency = 4

// DeleteStore is the slice of the store the deleter needs.
type DeleteStore interface {
	Delete(userID, id string) error
}

type pendingDelete struct {
	userID string
	timer  *time.Timer
}

// Deleter implements the soft-delete protocol: Delete marks ids pending and
// starts (or restarts) an undo timer; Undo before expiry restores an id with
// no store call ever made; expiry issues exactly one store delete per id.
type Deleter struct {
	store  DeleteStore
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDelete
	wg      sync.WaitGroup
}

func NewDeleter(store DeleteStore, logger *slog.Logger) *Deleter {
	return newDeleter(store, logger, UndoWindow)
}

func newDeleter(store DeleteStore, logger *slog.Logger, delay time.Duration) *Deleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deleter{
		store:   store,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]*pendingDelete),
	}
}

// Delete marks ids as pending deletion for the user. An id that is already
// pending has its timer restarted. All ids of one call expire together.
func (d *Deleter) Delete(userID string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if p, ok := d.pending[id]; ok {
			p.timer.Stop()
		}
		id := id
		p := &pendingDelete{userID: userID}
		p.timer = time.AfterFunc(d.delay, func() { d.expire(id, p) })
		d.pending[id] = p
	}
}

// Undo removes ids from the pending set. Ids whose window already expired
// are ignored; the caller learns about those from the returned count of ids
// actually restored.
func (d *Deleter) Undo(ids ...string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	restored := 0
	for _, id := range ids {
		p, ok := d.pending[id]
		if !ok {
			continue
		}
		p.timer.Stop()
		delete(d.pending, id)
		restored++
	}
	return restored
}

// Pending reports whether id is awaiting deletion.
func (d *Deleter) Pending(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[id]
	return ok
}

// PendingIDs returns the ids currently awaiting deletion.
func (d *Deleter) PendingIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	return ids
}

// expire runs in the timer goroutine when one id's window lapses. The
// pointer check guards against a timer that fired concurrently with a
// restart: only the current pending entry may expire.
func (d *Deleter) expire(id string, p *pendingDelete) {
	d.mu.Lock()
	if d.pending[id] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	if err := d.store.Delete(p.userID, id); err != nil {
		d.logger.Warn("deleting saved analysis failed", "id", id, "error", err)
	}
}

// Flush expires every pending id immediately, deleting concurrently. Called
// on shutdown so pending deletes are not silently dropped.
func (d *Deleter) Flush(ctx context.Context) error {
	d.mu.Lock()
	batch := make(map[string]string, len(d.pending))
	for id, p := range d.pending {
		p.timer.Stop()
		batch[id] = p.userID
	}
	d.pending = make(map[string]*pendingDelete)
	d.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(flushConcurrency)
	for id, userID := range batch {
		id, userID := id, userID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return d.store.Delete(userID, id)
		})
	}
	return g.Wait()
}

// Wait blocks until in-flight expiry deletes have finished. Test hook.
func (d *Deleter) Wait() {
	d.wg.Wait()
}
