package socket

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"mailroom/internal/record"
)

// Engine is the queue surface the socket front end exposes. The queue
// package satisfies it through QueueEngine.
type Engine interface {
	Publish(ctx context.Context, payload []byte, opts ...record.Option) (record.Record, error)
	Consume(ctx context.Context) (record.Record, bool)
	Replay(ctx context.Context, startTime time.Time, startID string) []record.Record
	Depth(ctx context.Context) (depth int, appended, taken uint64)
	Health(ctx context.Context) (bool, string)
}

type Config struct {
	Network, Address, UnixSocketPath, AuthToken string
	MaxInflight, GlobalQueueLimit, Workers      int
	TLSConfig                                   *tls.Config
}

type Server struct {
	cfg     Config
	engine  Engine
	ln      net.Listener
	addr    atomic.Value
	globalQ chan struct{}
	ops     chan queuedRequest
	closed  atomic.Bool
	wg      sync.WaitGroup
}

type queuedRequest struct {
	ctx     context.Context
	req     *QueueRequest
	conn    *connection
	release func()
}

type connection struct {
	c        net.Conn
	writerQ  chan *QueueResponse
	inflight chan struct{}
}

func NewServer(cfg Config, engine Engine) *Server {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 64
	}
	if cfg.GlobalQueueLimit <= 0 {
		cfg.GlobalQueueLimit = 4096
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	return &Server{cfg: cfg, engine: engine, globalQ: make(chan struct{}, cfg.GlobalQueueLimit), ops: make(chan queuedRequest, 256)}
}

func (s *Server) Addr() string {
	if v := s.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Address
	if s.cfg.Network == "unix" {
		addr = s.cfg.UnixSocketPath
	}
	ln, err := net.Listen(s.cfg.Network, addr)
	if err != nil {
		return err
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.ln = ln
	s.addr.Store(ln.Addr().String())

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
	go func() { <-ctx.Done(); _ = s.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				continue
			}
			return err
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	close(s.ops)
	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	conn := &connection{c: raw, writerQ: make(chan *QueueResponse, 256), inflight: make(chan struct{}, s.cfg.MaxInflight)}
	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.writeLoop(conn) }()
	go func() { defer s.wg.Done(); defer raw.Close(); defer close(conn.writerQ); s.readLoop(ctx, conn) }()
}

func (s *Server) writeLoop(conn *connection) {
	w := bufio.NewWriter(conn.c)
	for res := range conn.writerQ {
		payload, err := MarshalMessage(res)
		if err != nil {
			continue
		}
		if err := WriteFrame(w, payload); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *connection) {
	r := bufio.NewReader(conn.c)
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			return
		}
		req, err := UnmarshalRequest(payload)
		if err != nil {
			s.send(conn, &QueueResponse{ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if err := ValidateRequest(req); err != nil {
			s.send(conn, &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if s.cfg.AuthToken != "" && req.AuthToken != s.cfg.AuthToken {
			s.send(conn, &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeUnauthenticated), ErrorMessage: "invalid auth token"})
			continue
		}

		select {
		case conn.inflight <- struct{}{}:
		default:
			s.send(conn, &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "connection inflight limit exceeded"})
			continue
		}
		releaseInflight := func() { <-conn.inflight }
		select {
		case s.globalQ <- struct{}{}:
		default:
			releaseInflight()
			s.send(conn, &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "adapter queue overloaded"})
			continue
		}

		qr := queuedRequest{ctx: ctx, req: req, conn: conn, release: func() { <-s.globalQ; releaseInflight() }}
		select {
		case s.ops <- qr:
		default:
			qr.release()
			s.send(conn, &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "operation queue overloaded"})
		}
	}
}

func (s *Server) runWorker() {
	defer s.wg.Done()
	for req := range s.ops {
		res := s.handleRequest(req.ctx, req.req)
		req.release()
		s.send(req.conn, res)
	}
}

func (s *Server) send(conn *connection, res *QueueResponse) {
	select {
	case conn.writerQ <- res:
	default:
	}
}

func (s *Server) handleRequest(ctx context.Context, req *QueueRequest) *QueueResponse {
	res := &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOK)}
	switch Operation(req.Operation) {
	case OperationPing:
		res.Pong = &PongResponse{UnixTimeNs: time.Now().UTC().UnixNano()}
	case OperationHealth:
		ok, msg := s.engine.Health(ctx)
		res.Health = &HealthResponse{Ok: ok, Message: msg}
	case OperationStats:
		depth, appended, taken := s.engine.Depth(ctx)
		res.Stats = &StatsResponse{Depth: int64(depth), Appended: appended, Taken: taken}
	case OperationPublish:
		return s.handlePublish(ctx, req, res)
	case OperationPublishBatch:
		return s.handlePublishBatch(ctx, req, res)
	case OperationConsume:
		rec, found := s.engine.Consume(ctx)
		res.Consume = &ConsumeResponse{Found: found}
		if found {
			res.Consume.Record = toWire(rec)
		}
	case OperationReplay:
		return s.handleReplay(ctx, req, res)
	default:
		return badReq(req, "unknown operation")
	}
	return res
}

func badReq(req *QueueRequest, msg string) *QueueResponse {
	return &QueueResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: msg}
}

func (s *Server) handlePublish(ctx context.Context, req *QueueRequest, res *QueueResponse) *QueueResponse {
	if req.Publish == nil {
		return badReq(req, "publish payload required")
	}
	rec, err := s.engine.Publish(ctx, req.Publish.Payload, publishOptions(req.Publish)...)
	if err != nil {
		res.ErrorCode, res.ErrorMessage = int32(ErrorCodeBadRequest), err.Error()
		return res
	}
	res.Publish = &PublishResponse{Accepted: true, Records: []*Message{toWire(rec)}}
	return res
}

func (s *Server) handlePublishBatch(ctx context.Context, req *QueueRequest, res *QueueResponse) *QueueResponse {
	if req.PublishBatch == nil || len(req.PublishBatch.Entries) == 0 {
		return badReq(req, "publish_batch entries required")
	}
	out := &PublishResponse{Accepted: true}
	for _, entry := range req.PublishBatch.Entries {
		rec, err := s.engine.Publish(ctx, entry.Payload, publishOptions(entry)...)
		if err != nil {
			res.ErrorCode, res.ErrorMessage = int32(ErrorCodeBadRequest), err.Error()
			return res
		}
		out.Records = append(out.Records, toWire(rec))
	}
	res.Publish = out
	return res
}

func (s *Server) handleReplay(ctx context.Context, req *QueueRequest, res *QueueResponse) *QueueResponse {
	if req.Replay == nil {
		return badReq(req, "replay query required")
	}
	var startTime time.Time
	if req.Replay.StartTimeUtc != "" {
		parsed, err := time.Parse(time.RFC3339, req.Replay.StartTimeUtc)
		if err != nil {
			return badReq(req, fmt.Sprintf("invalid start_time_utc: %v", err))
		}
		startTime = parsed.UTC()
	}
	recs := s.engine.Replay(ctx, startTime, req.Replay.StartId)
	out := &ReplayResponse{}
	for _, rec := range recs {
		out.Records = append(out.Records, toWire(rec))
	}
	res.Replay = out
	return res
}

func publishOptions(req *PublishRequest) []record.Option {
	var opts []record.Option
	if req.MessageType != "" {
		opts = append(opts, record.WithMessageType(req.MessageType))
	}
	if req.HasPriority {
		opts = append(opts, record.WithPriority(int(req.Priority)))
	}
	return opts
}

func toWire(rec record.Record) *Message {
	msg := &Message{
		Id:           rec.ID,
		TimestampUtc: rec.CreatedAt.UTC().Format(time.RFC3339),
		Payload:      rec.Payload,
		MessageType:  rec.MessageType,
	}
	if rec.Priority != nil {
		msg.HasPriority = true
		msg.Priority = int64(*rec.Priority)
	}
	return msg
}

func DialAndRequest(ctx context.Context, network, address string, req *QueueRequest) (*QueueResponse, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	payload, err := MarshalMessage(req)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	frame, err := ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}
	return UnmarshalResponse(frame)
}

func Retryable(code int32) bool { return ErrorCode(code) == ErrorCodeOverloaded }
