package workerproc

import "github.com/lsst/qserv-sub024/internal/wireproto"

// WorkerEchoRequest answers request.EchoRequest's transport-layer
// liveness probe: it finishes immediately with the same data it
// received, giving a caller a cheap round trip to confirm a connection
// is live end to end rather than just TCP-connected.
type WorkerEchoRequest struct {
	*Base

	data string
}

func NewWorkerEchoRequest(id string, priority wireproto.Priority, data string) *WorkerEchoRequest {
	r := &WorkerEchoRequest{data: data}
	r.Base = NewBase(id, "ECHO", priority, Hooks{Execute: r.execute})
	return r
}

func (r *WorkerEchoRequest) Data() string { return r.data }

func (r *WorkerEchoRequest) execute(b *Base) (bool, wireproto.Status, error) {
	return true, wireproto.StatusSuccess, nil
}
