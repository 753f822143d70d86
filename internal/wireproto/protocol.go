package wireproto

import "encoding/json"

// RequestCategory distinguishes the three kinds of worker-bound requests.
type RequestCategory string

const (
	CategoryQueued  RequestCategory = "QUEUED"
	CategoryRequest RequestCategory = "REQUEST"
	CategoryService RequestCategory = "SERVICE"
)

// Priority mirrors the five priority levels a Request may carry.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityBelowNormal
	PriorityNormal
	PriorityHigh
	PriorityVeryHigh
)

// DefaultPriority is the priority assigned when none is specified.
const DefaultPriority = PriorityNormal

// RequestHeader identifies one outbound frame's request.
type RequestHeader struct {
	ID              string          `json:"id"`
	Category        RequestCategory `json:"category"`
	QueuedType      string          `json:"queued_type,omitempty"`
	ManagementType  string          `json:"management_type,omitempty"`
	TimeoutSec      int             `json:"timeout,omitempty"`
	Priority        Priority        `json:"priority"`
	InstanceID      string          `json:"instance_id"`
}

// Status is the worker-reported outcome of a request, carried on every
// ResponseHeader.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusCreated      Status = "CREATED"
	StatusQueued       Status = "QUEUED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusIsCancelling Status = "IS_CANCELLING"
	StatusCancelled    Status = "CANCELLED"
	StatusBad          Status = "BAD"
	StatusFailed       Status = "FAILED"
)

// Performance is the create/start/finish timestamp triple (milliseconds
// since epoch) attached to every response; a status-probe reply echoes the
// original operation's record via TargetPerformance.
type Performance struct {
	CreateTimeMs int64 `json:"create_time_ms"`
	StartTimeMs  int64 `json:"start_time_ms"`
	FinishTimeMs int64 `json:"finish_time_ms"`
}

// ResponseHeader identifies one inbound frame's response.
type ResponseHeader struct {
	ID                string       `json:"id"`
	Status            Status       `json:"status"`
	StatusExt         string       `json:"status_ext,omitempty"`
	Performance       Performance  `json:"performance"`
	TargetPerformance *Performance `json:"target_performance,omitempty"`
	InstanceID        string       `json:"instance_id"`
}

// Frame is the generic envelope used for the initial read of any inbound
// message: the header decodes eagerly so the Messenger can route by ID,
// while Body stays raw until the caller knows the concrete type to decode
// it into (determined by the header's QueuedType/ManagementType or, on a
// response, by the originating Request's own type).
type Frame struct {
	Request  *RequestHeader  `json:"request,omitempty"`
	Response *ResponseHeader `json:"response,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}
