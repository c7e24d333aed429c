// Package bus carries typed control messages from any number of producers
// into the drone state machine.
package bus

import "github.com/whitf/swarm/internal/models"

// Kind identifies a control message variant.
type Kind int

const (
	KindOnline Kind = iota
	KindOffline
	KindStop
	KindQueueJob
	KindStartJob
	KindFinishJob
	KindNote
)

func (k Kind) String() string {
	switch k {
	case KindOnline:
		return "Online"
	case KindOffline:
		return "Offline"
	case KindStop:
		return "Stop"
	case KindQueueJob:
		return "QueueJob"
	case KindStartJob:
		return "StartJob"
	case KindFinishJob:
		return "FinishJob"
	case KindNote:
		return "Message"
	default:
		return "Unknown"
	}
}

// Handler receives a dispatched control message. It has one method per
// variant: adding a variant means every Handler stops compiling until it
// decides what to do with it.
type Handler interface {
	HandleOnline(host *models.Host)
	HandleOffline(host *models.Host)
	HandleStop()
	HandleQueueJob(job *models.Job)
	HandleStartJob(host *models.Host)
	HandleFinishJob(host *models.Host)
	HandleNote(text string)
}

// Message is a control message. The set of implementations is closed to
// this package.
type Message interface {
	Kind() Kind
	Dispatch(h Handler)
	sealed()
}

// Online announces that a peer drone came online.
type Online struct{ Host *models.Host }

// Offline announces that a peer drone went offline.
type Offline struct{ Host *models.Host }

// Stop asks the drone to shut down.
type Stop struct{}

// QueueJob submits a job to the local workload.
type QueueJob struct{ Job *models.Job }

// StartJob reports that a host picked up a job.
type StartJob struct{ Host *models.Host }

// FinishJob reports that a host finished a job.
type FinishJob struct{ Host *models.Host }

// Note is a free-form informational message.
type Note struct{ Text string }

func (Online) Kind() Kind    { return KindOnline }
func (Offline) Kind() Kind   { return KindOffline }
func (Stop) Kind() Kind      { return KindStop }
func (QueueJob) Kind() Kind  { return KindQueueJob }
func (StartJob) Kind() Kind  { return KindStartJob }
func (FinishJob) Kind() Kind { return KindFinishJob }
func (Note) Kind() Kind      { return KindNote }

func (m Online) Dispatch(h Handler)    { h.HandleOnline(m.Host) }
func (m Offline) Dispatch(h Handler)   { h.HandleOffline(m.Host) }
func (Stop) Dispatch(h Handler)        { h.HandleStop() }
func (m QueueJob) Dispatch(h Handler)  { h.HandleQueueJob(m.Job) }
func (m StartJob) Dispatch(h Handler)  { h.HandleStartJob(m.Host) }
func (m FinishJob) Dispatch(h Handler) { h.HandleFinishJob(m.Host) }
func (m Note) Dispatch(h Handler)      { h.HandleNote(m.Text) }

func (Online) sealed()    {}
func (Offline) sealed()   {}
func (Stop) sealed()      {}
func (QueueJob) sealed()  {}
func (StartJob) sealed()  {}
func (FinishJob) sealed() {}
func (Note) sealed()      {}
