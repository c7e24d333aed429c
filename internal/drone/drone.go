// Package drone holds the local node's view of the swarm and applies
// control messages to it, one at a time.
package drone

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/models"
)

// Storage is the persistence the drone writes through to.
type Storage interface {
	UpsertHost(h *models.Host) error
	SaveJob(j *models.Job) error
	AssignJob(droneID, jobID uuid.UUID) error
}

// Options carries the drone's local capabilities.
type Options struct {
	Tags    []string
	Threads int
}

// Drone is the single consumer of the control bus. Only Run mutates it;
// accessors may be called from any goroutine.
type Drone struct {
	id      uuid.UUID
	storage Storage
	logger  *slog.Logger
	tags    []string
	threads int

	bus *bus.Bus

	// mu lets the read accessors take snapshots while Run is the only
	// writer.
	mu       sync.RWMutex
	state    State
	swarm    map[uuid.UUID]models.Host
	workload []*models.Job
	archive  []*models.Job
}

// New creates an offline drone.
func New(id uuid.UUID, storage Storage, logger *slog.Logger, opts Options) *Drone {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	return &Drone{
		id:      id,
		storage: storage,
		logger:  logger.With(slog.String("component", "drone")),
		tags:    opts.Tags,
		threads: threads,
		swarm:   make(map[uuid.UUID]models.Host),
	}
}

// ID returns the drone's identifier.
func (d *Drone) ID() uuid.UUID { return d.id }

// Tags returns the drone's capability tags.
func (d *Drone) Tags() []string { return d.tags }

// Threads returns the drone's worker capacity.
func (d *Drone) Threads() int { return d.threads }

// Load seeds the swarm and the active workload from stored records. Call
// it before Start.
func (d *Drone) Load(hosts []models.Host, jobs []models.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range hosts {
		if h.ID == d.id {
			continue
		}
		d.swarm[h.ID] = h
	}
	for i := range jobs {
		j := jobs[i]
		if !j.Active {
			continue
		}
		d.workload = append(d.workload, &j)
	}
	d.logger.Info("loaded swarm state",
		slog.Int("hosts", len(d.swarm)),
		slog.Int("jobs", len(d.workload)))
}

// Start moves the drone from Offline to Online.
func (d *Drone) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateOffline {
		return ErrNotOffline
	}
	d.state = StateOnline
	d.logger.Info("running", slog.String("id", d.id.String()))
	return nil
}

// Run consumes b until a Stop message is handled and every message queued
// behind it has been drained. It returns ctx.Err() if ctx ends first.
func (d *Drone) Run(ctx context.Context, b *bus.Bus) error {
	if d.State() != StateOnline {
		return ErrNotOnline
	}
	d.bus = b

	for {
		msg, err := b.Recv(ctx)
		if errors.Is(err, bus.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		d.handle(msg)
	}
}

func (d *Drone) handle(msg bus.Message) {
	if msg.Kind() != bus.KindNote {
		if s := d.State(); s != StateOnline {
			d.logger.Info("ignoring control message",
				slog.String("kind", msg.Kind().String()),
				slog.String("state", s.String()))
			return
		}
	}
	msg.Dispatch(d)
}

// State returns the lifecycle state.
func (d *Drone) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Swarm returns a copy of the known peers keyed by id.
func (d *Drone) Swarm() map[uuid.UUID]models.Host {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[uuid.UUID]models.Host, len(d.swarm))
	for id, h := range d.swarm {
		out[id] = h
	}
	return out
}

// OnlinePeers returns the endpoints of every peer last seen online.
func (d *Drone) OnlinePeers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, h := range d.swarm {
		if h.Online {
			out = append(out, h.Endpoint())
		}
	}
	return out
}

// Workload returns copies of the queued and running jobs in queue order.
func (d *Drone) Workload() []models.Job {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyJobs(d.workload)
}

// Archive returns copies of the jobs that reached a terminal state.
func (d *Drone) Archive() []models.Job {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyJobs(d.archive)
}

func copyJobs(jobs []*models.Job) []models.Job {
	out := make([]models.Job, len(jobs))
	for i, j := range jobs {
		out[i] = *j
	}
	return out
}
