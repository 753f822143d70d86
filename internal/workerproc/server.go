package workerproc

import (
	"io"
	"net"
	"sync"

	"github.com/lsst/qserv-sub024/internal/obs"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"go.uber.org/zap"
)

// Builder constructs a WorkerRequest for one incoming QUEUED frame and a
// function to extract its wire-format success body once finished. It is
// the worker-side equivalent of the Controller's request factories.
type Builder func(hdr wireproto.RequestHeader, body []byte) (req *Base, resultBody func() (interface{}, error), err error)

// Server accepts Controller connections and dispatches incoming QUEUED
// frames to a Processor, writing the response frame back on the same
// connection once each request reaches a terminal state (or immediately,
// for management frames that don't go through the processor at all).
type Server struct {
	proc     *Processor
	build    Builder
	instance string
	log      *zap.Logger

	expirationSec int
}

// NewServer wires a Server to proc. instance is this worker's InstanceID,
// echoed on every response and checked against every inbound request's
// InstanceID (a mismatch is reported BAD per section 6).
func NewServer(proc *Processor, build Builder, instance string, expirationSec int, log *zap.Logger) *Server {
	return &Server{proc: proc, build: build, instance: instance, expirationSec: expirationSec, log: log}
}

// Serve accepts connections from ln until it returns an error (typically
// because ln was closed during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// handle owns one persistent Controller connection: a writer goroutine
// serializes outbound response frames, the read loop dispatches inbound
// request frames.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	out := make(chan wireproto.Frame, 256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range out {
			if err := wireproto.WriteFrame(conn, frame); err != nil {
				return
			}
		}
	}()

	resultBodies := struct {
		mu sync.Mutex
		m  map[string]func() (interface{}, error)
	}{m: make(map[string]func() (interface{}, error))}

	for {
		raw, err := wireproto.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("workerproc: connection read error", obs.Err(err))
			}
			break
		}
		var frame wireproto.Frame
		if err := wireproto.Unmarshal(raw, &frame); err != nil {
			s.log.Warn("workerproc: dropping malformed frame", obs.Err(err))
			continue
		}
		if frame.Request == nil {
			continue
		}
		hdr := *frame.Request

		if hdr.InstanceID != "" && hdr.InstanceID != s.instance {
			out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: wireproto.StatusBad, StatusExt: "INSTANCE_MISMATCH", InstanceID: s.instance}}
			continue
		}

		if hdr.ManagementType != "" {
			s.handleManagement(hdr, frame.Body, out)
			continue
		}

		req, resultBody, err := s.build(hdr, frame.Body)
		if err != nil {
			out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: wireproto.StatusBad, StatusExt: err.Error(), InstanceID: s.instance}}
			continue
		}
		resultBodies.mu.Lock()
		resultBodies.m[hdr.ID] = resultBody
		resultBodies.mu.Unlock()

		req.SetOnFinish(func(b *Base) {
			resultBodies.mu.Lock()
			rb := resultBodies.m[b.id]
			delete(resultBodies.m, b.id)
			resultBodies.mu.Unlock()

			resp := wireproto.ResponseHeader{ID: b.id, Status: b.ExtendedStatus(), InstanceID: s.instance, Performance: b.Performance()}
			var respBody interface{}
			if resp.Status == wireproto.StatusSuccess && rb != nil {
				body, err := rb()
				if err != nil {
					resp.Status = wireproto.StatusBad
					resp.StatusExt = err.Error()
				} else {
					respBody = body
				}
			}
			payload, merr := wireproto.MarshalBody(respBody)
			if merr != nil {
				resp.Status = wireproto.StatusBad
				resp.StatusExt = merr.Error()
				payload = nil
			}
			select {
			case out <- wireproto.Frame{Response: &resp, Body: payload}:
			default:
				s.log.Warn("workerproc: response channel full, dropping", obs.String("id", b.id))
			}
		})

		s.proc.Submit(req, s.expirationSec)
	}

	close(out)
	wg.Wait()
}

func (s *Server) handleManagement(hdr wireproto.RequestHeader, body []byte, out chan<- wireproto.Frame) {
	var target struct {
		TargetID   string `json:"target_id"`
		QueuedType string `json:"queued_type"`
	}
	_ = wireproto.Unmarshal(body, &target)

	switch hdr.ManagementType {
	case "STOP":
		_ = s.proc.Cancel(target.TargetID)
		out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: wireproto.StatusSuccess, InstanceID: s.instance}}

	case "DISPOSE":
		s.proc.Dispose(target.TargetID)
		out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: wireproto.StatusSuccess, InstanceID: s.instance}}

	case "REQUEST_STATUS":
		req, ok := s.proc.Lookup(target.TargetID)
		if !ok {
			out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: wireproto.StatusFailed, StatusExt: "UNKNOWN_REQUEST", InstanceID: s.instance}}
			return
		}
		status := req.ExtendedStatus()
		if req.State() != StateFinished {
			status = wireproto.StatusInProgress
		}
		perf := req.Performance()
		out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: status, InstanceID: s.instance, TargetPerformance: &perf}}

	default:
		out <- wireproto.Frame{Response: &wireproto.ResponseHeader{ID: hdr.ID, Status: wireproto.StatusBad, StatusExt: "UNKNOWN_MANAGEMENT_TYPE", InstanceID: s.instance}}
	}
}
