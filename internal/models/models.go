// Package models defines the core domain types for the swarm drone.
package models

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultPort is the inter-drone port used when none is configured.
const DefaultPort = 9079

// HostStatus represents what a peer drone is currently doing.
type HostStatus string

const (
	HostStatusOnline  HostStatus = "Online"
	HostStatusOffline HostStatus = "Offline"
	HostStatusIdle    HostStatus = "Idle"
	HostStatusWorking HostStatus = "Working"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusNew      JobStatus = "New"
	JobStatusWorking  JobStatus = "Working"
	JobStatusFinished JobStatus = "Finished"
	JobStatusError    JobStatus = "Error"
	JobStatusCanceled JobStatus = "Canceled"
)

// JobStatuses returns every job status in the order the storage gate seeds
// the job_status_enum lookup table.
func JobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusCanceled,
		JobStatusError,
		JobStatusFinished,
		JobStatusNew,
		JobStatusWorking,
	}
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFinished, JobStatusError, JobStatusCanceled:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when a job status change is not allowed.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Host is a peer drone's identity and reachability.
type Host struct {
	ID      uuid.UUID  `json:"id" cbor:"id" msgpack:"id"`
	Address string     `json:"address" cbor:"address" msgpack:"address"`
	Port    int        `json:"port" cbor:"port" msgpack:"port"`
	Online  bool       `json:"online" cbor:"online" msgpack:"online"`
	Status  HostStatus `json:"status" cbor:"status" msgpack:"status"`
}

// NewHost creates a host record. Hosts start offline until announced.
func NewHost(id uuid.UUID, address string, port int) *Host {
	return &Host{
		ID:      id,
		Address: address,
		Port:    port,
		Status:  HostStatusOffline,
	}
}

// MarkOnline flags the host as reachable.
func (h *Host) MarkOnline() {
	h.Online = true
	h.Status = HostStatusOnline
}

// MarkOffline flags the host as gone.
func (h *Host) MarkOffline() {
	h.Online = false
	h.Status = HostStatusOffline
}

// Endpoint returns the host's inter-drone address in host:port form.
func (h *Host) Endpoint() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// Job is a unit of work queued on a drone.
type Job struct {
	ID       uuid.UUID  `json:"id" cbor:"id" msgpack:"id"`
	Tags     []string   `json:"tags,omitempty" cbor:"tags,omitempty" msgpack:"tags,omitempty"`
	Active   bool       `json:"active" cbor:"active" msgpack:"active"`
	Status   JobStatus  `json:"status" cbor:"status" msgpack:"status"`
	Owner    uuid.UUID  `json:"owner,omitempty" cbor:"owner,omitempty" msgpack:"owner,omitempty"`
	Created  time.Time  `json:"created" cbor:"created" msgpack:"created"`
	Finished *time.Time `json:"finished,omitempty" cbor:"finished,omitempty" msgpack:"finished,omitempty"`
}

// NewJob creates an active job in the New state.
func NewJob(tags ...string) *Job {
	return &Job{
		ID:      uuid.New(),
		Tags:    tags,
		Active:  true,
		Status:  JobStatusNew,
		Created: time.Now().UTC(),
	}
}

// Transition moves the job to status to. Terminal statuses deactivate the
// job and stamp its finish time.
func (j *Job) Transition(to JobStatus) error {
	ok := false
	switch j.Status {
	case JobStatusNew:
		ok = to == JobStatusWorking || to == JobStatusCanceled
	case JobStatusWorking:
		ok = to.Terminal()
	}
	if !ok {
		return ErrInvalidTransition
	}

	j.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		j.Active = false
		j.Finished = &now
	}
	return nil
}
