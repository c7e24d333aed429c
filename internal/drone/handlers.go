package drone

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/models"
)

var _ bus.Handler = (*Drone)(nil)

func (d *Drone) HandleOnline(host *models.Host) {
	h, ok := d.peerHost("Online", host)
	if !ok {
		return
	}
	h.MarkOnline()
	d.putHost(h)
	d.logger.Info("remote drone has gone online", slog.String("host_id", h.ID.String()))
}

func (d *Drone) HandleOffline(host *models.Host) {
	h, ok := d.peerHost("Offline", host)
	if !ok {
		return
	}
	h.MarkOffline()
	d.putHost(h)
	d.logger.Info("remote drone has gone offline", slog.String("host_id", h.ID.String()))
}

func (d *Drone) HandleStop() {
	d.mu.Lock()
	d.state = StateShuttingDown
	d.mu.Unlock()

	d.logger.Info("shutdown")
	if d.bus != nil {
		d.bus.Close()
	}
}

// HandleQueueJob appends a new, active job with an unseen id to the
// workload tail.
func (d *Drone) HandleQueueJob(job *models.Job) {
	if job == nil || job.ID == uuid.Nil {
		d.dropEmpty("QueueJob")
		return
	}
	j := *job
	if j.Status != models.JobStatusNew || !j.Active {
		d.logger.Warn("rejecting job that is not new",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(j.Status)),
			slog.Bool("active", j.Active))
		return
	}

	d.mu.Lock()
	if d.knownJobLocked(j.ID) {
		d.mu.Unlock()
		d.logger.Warn("dropping duplicate job", slog.String("job_id", j.ID.String()))
		return
	}
	d.workload = append(d.workload, &j)
	queued := len(d.workload)
	d.mu.Unlock()

	d.persist("save job", d.storage.SaveJob(&j))
	d.logger.Info("job queued",
		slog.String("job_id", j.ID.String()),
		slog.Int("queued", queued))
}

// HandleStartJob marks host as working and hands it the oldest new job.
func (d *Drone) HandleStartJob(host *models.Host) {
	h, ok := d.peerHost("StartJob", host)
	if !ok {
		return
	}
	h.Online = true
	h.Status = models.HostStatusWorking
	d.putHost(h)

	d.mu.Lock()
	var started *models.Job
	for _, j := range d.workload {
		if j.Status == models.JobStatusNew {
			started = j
			break
		}
	}
	var snapshot models.Job
	var err error
	if started != nil {
		if err = started.Transition(models.JobStatusWorking); err == nil {
			started.Owner = h.ID
		}
		snapshot = *started
	}
	d.mu.Unlock()

	if started == nil {
		d.logger.Info("host started work with no job queued", slog.String("host_id", h.ID.String()))
		return
	}
	if err != nil {
		d.logger.Error("cannot start job",
			slog.String("job_id", snapshot.ID.String()),
			slog.Any("error", err))
		return
	}
	d.persist("save job", d.storage.SaveJob(&snapshot))
	d.persist("assign job", d.storage.AssignJob(h.ID, snapshot.ID))
	d.logger.Info("job started",
		slog.String("job_id", snapshot.ID.String()),
		slog.String("host_id", h.ID.String()))
}

// HandleFinishJob marks host as idle and archives the oldest job it was
// running.
func (d *Drone) HandleFinishJob(host *models.Host) {
	h, ok := d.peerHost("FinishJob", host)
	if !ok {
		return
	}
	h.Online = true
	h.Status = models.HostStatusIdle
	d.putHost(h)

	d.mu.Lock()
	idx := -1
	for i, j := range d.workload {
		if j.Status == models.JobStatusWorking && j.Owner == h.ID {
			idx = i
			break
		}
	}
	var snapshot models.Job
	var err error
	if idx >= 0 {
		j := d.workload[idx]
		if err = j.Transition(models.JobStatusFinished); err == nil {
			d.workload = append(d.workload[:idx], d.workload[idx+1:]...)
			d.archive = append(d.archive, j)
		}
		snapshot = *j
	}
	d.mu.Unlock()

	if idx < 0 {
		d.logger.Info("host finished work with no job running", slog.String("host_id", h.ID.String()))
		return
	}
	if err != nil {
		d.logger.Error("cannot finish job",
			slog.String("job_id", snapshot.ID.String()),
			slog.Any("error", err))
		return
	}
	d.persist("save job", d.storage.SaveJob(&snapshot))
	d.logger.Info("job finished",
		slog.String("job_id", snapshot.ID.String()),
		slog.String("host_id", h.ID.String()))
}

func (d *Drone) HandleNote(text string) {
	if text == "" {
		d.dropEmpty("Message")
		return
	}
	d.logger.Info(text)
}

// peerHost copies a host payload. A missing host or a nil id counts as an
// absent payload; the drone's own id is never a peer.
func (d *Drone) peerHost(kind string, host *models.Host) (models.Host, bool) {
	if host == nil || host.ID == uuid.Nil {
		d.dropEmpty(kind)
		return models.Host{}, false
	}
	if host.ID == d.id {
		d.logger.Info("ignoring message about self", slog.String("kind", kind))
		return models.Host{}, false
	}
	return *host, true
}

// knownJobLocked reports whether id is queued, running or archived. d.mu
// must be held.
func (d *Drone) knownJobLocked(id uuid.UUID) bool {
	for _, j := range d.workload {
		if j.ID == id {
			return true
		}
	}
	for _, j := range d.archive {
		if j.ID == id {
			return true
		}
	}
	return false
}

// putHost replaces the swarm entry for h and writes it through. The last
// update for an id wins.
func (d *Drone) putHost(h models.Host) {
	d.mu.Lock()
	d.swarm[h.ID] = h
	d.mu.Unlock()

	d.persist("update host", d.storage.UpsertHost(&h))
}

func (d *Drone) persist(op string, err error) {
	if err != nil {
		d.logger.Error("storage write failed", slog.String("op", op), slog.Any("error", err))
	}
}

func (d *Drone) dropEmpty(kind string) {
	d.logger.Warn("dropping message without payload", slog.String("kind", kind))
}
