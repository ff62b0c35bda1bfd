/*
 * Copyright 2024 The propd Authors.
 */

// Package propd implements the property service (C6): it accepts set
// requests over the two local sockets, validates and authorizes them,
// applies them to the right property-area file, and replies (§4.6).
package propd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/greenfield-labs/propd/internal/propctx"
	"github.com/greenfield-labs/propd/internal/proparea"
	"github.com/greenfield-labs/propd/internal/propwire"
)

// Defaults mirror spec §6 "Directories".
const (
	DefaultPropertiesDir = "/dev/__properties__"
	DefaultSocketDir     = "/dev/socket"
)

// Config holds everything the service needs to start serving.
type Config struct {
	PropertiesDir string
	SocketDir     string
	PersistLogPath string
	Auth          AuthFunc
	Logger        *zap.SugaredLogger
}

// Service is the running property service: one writable Area per context,
// both listening sockets, and the persist log.
type Service struct {
	cfg    Config
	ctx    *propctx.Index
	areas  map[string]*proparea.Area
	log    *persistLog
	logger *zap.SugaredLogger

	mu sync.Mutex // serializes Apply across connections (spec §4.6, §5)

	listeners []net.Listener
}

// New loads the context index, opens every area file for writing, takes
// the exclusive advisory lock on each (spec §5), and replays the persist
// log (spec §4.6). It does not yet accept connections; call Serve for
// that.
func New(cfg Config) (*Service, error) {
	if cfg.Auth == nil {
		cfg.Auth = DefaultAuth
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, err := propctx.Load(filepath.Join(cfg.PropertiesDir, "property_contexts"))
	if err != nil {
		return nil, fmt.Errorf("propd: loading property_contexts: %w", err)
	}

	areas := map[string]*proparea.Area{}
	for _, c := range ctx.Contexts() {
		a, err := proparea.OpenWriter(filepath.Join(cfg.PropertiesDir, c))
		if err != nil {
			for _, opened := range areas {
				opened.Close()
			}
			return nil, fmt.Errorf("propd: opening area %q: %w", c, err)
		}
		areas[c] = a
	}

	s := &Service{cfg: cfg, ctx: ctx, areas: areas, logger: logger}

	if cfg.PersistLogPath != "" {
		// Replay (which may truncate a corrupt tail) runs before the log
		// is opened for appending, so new records follow the last valid
		// one rather than the old end of file.
		if err := replayPersistLog(cfg.PersistLogPath, func(name, value string) {
			s.applyLocked(name, value)
		}); err != nil {
			logger.Warnw("persist log replay failed", "error", err)
		}

		pl, err := openPersistLog(cfg.PersistLogPath)
		if err != nil {
			s.closeAreas()
			return nil, fmt.Errorf("propd: opening persist log: %w", err)
		}
		s.log = pl
	}

	return s, nil
}

func (s *Service) closeAreas() {
	for _, a := range s.areas {
		a.Close()
	}
}

// Close unmaps every area and closes the persist log.
func (s *Service) Close() error {
	if s.log != nil {
		s.log.Close()
	}
	s.closeAreas()
	return nil
}

// Serve listens on both the general and privileged sockets until ctx is
// canceled (spec §4.7 "Sockets"). Connections are accepted concurrently;
// mutations are serialized by s.mu (spec §4.6 "Event loop").
func (s *Service) Serve(ctx context.Context) error {
	general := filepath.Join(s.cfg.SocketDir, "property_service")
	system := filepath.Join(s.cfg.SocketDir, "property_service_for_system")

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	for _, spec := range []struct {
		path       string
		privileged bool
	}{{general, false}, {system, true}} {
		l, err := s.listen(spec.path)
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, l)

		wg.Add(1)
		go func(l net.Listener, privileged bool) {
			defer wg.Done()
			if err := s.acceptLoop(ctx, l, privileged); err != nil {
				errCh <- err
			}
		}(l, spec.privileged)
	}

	go func() {
		<-ctx.Done()
		for _, l := range s.listeners {
			l.Close()
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) listen(path string) (net.Listener, error) {
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("propd: listening on %q: %w", path, err)
	}
	return l, nil
}

func (s *Service) acceptLoop(ctx context.Context, l net.Listener, privileged bool) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn, privileged)
	}
}

// handleConn drives one connection through Accept -> ReadFrame -> Validate
// -> Authorize -> Apply -> Reply -> Close (spec §4.6 "Per-request state
// machine"). Exactly one request is read per connection.
func (s *Service) handleConn(conn net.Conn, privileged bool) {
	activeConnections.Inc()
	defer activeConnections.Dec()
	defer conn.Close()

	req, err := propwire.ReadRequest(propwire.NewBufferedReader(conn))
	if err != nil {
		s.logger.Debugw("read request failed", "error", err)
		return
	}

	kind := s.process(conn, req, privileged)

	requestsTotal.Inc()
	if kind != propwire.KindOK {
		requestsFailed.WithLabelValues(kind.String()).Inc()
	}

	if req.Version == 2 {
		if err := propwire.WriteV2Reply(conn, kind); err != nil {
			s.logger.Debugw("write reply failed", "error", err)
		}
	}
}

func (s *Service) process(conn net.Conn, req *propwire.Request, privileged bool) propwire.ErrKind {
	if err := validateName(req.Name); err != nil {
		return propwire.KindOf(err)
	}
	if err := validateValue(req.Name, req.Value); err != nil {
		return propwire.KindOf(err)
	}
	if isControl(req.Name) && !privileged {
		return propwire.KindPermissionDenied
	}

	areaCtx, err := s.ctx.Route(req.Name)
	if err != nil {
		return propwire.KindNoContext
	}

	uid, gid, pid, _ := peerCredentials(conn)
	peer := PeerInfo{UID: uid, GID: gid, PID: pid, Privileged: privileged}
	if !s.cfg.Auth(peer, req.Name, areaCtx) {
		return propwire.KindPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyLocked(req.Name, req.Value); err != nil {
		return propwire.KindOf(err)
	}

	if isPersist(req.Name) && s.log != nil {
		if err := s.log.Append(req.Name, req.Value); err != nil {
			s.logger.Warnw("persist log append failed", "name", req.Name, "error", err)
		}
	}

	return propwire.KindOK
}

// applyLocked routes name, looks up or allocates its prop_info, and
// performs the writer protocol (spec §4.6 "Apply", §4.1 "Writer
// protocol"). Caller holds s.mu, or calls during single-threaded replay.
func (s *Service) applyLocked(name, value string) error {
	areaCtx, err := s.ctx.Route(name)
	if err != nil {
		return propwire.NewError(propwire.KindNoContext)
	}
	area, ok := s.areas[areaCtx]
	if !ok {
		return propwire.NewError(propwire.KindNoContext)
	}

	prop, err := area.Find(name)
	if err == proparea.ErrNotFound {
		_, err := area.Add(name, []byte(value))
		return mapAreaErr(err)
	}
	if err != nil {
		return mapAreaErr(err)
	}

	if isReadOnly(name) {
		return propwire.NewError(propwire.KindReadonlyViolation)
	}

	return mapAreaErr(area.Update(prop, name, []byte(value)))
}

func mapAreaErr(err error) error {
	switch err {
	case nil:
		return nil
	case proparea.ErrAreaFull:
		return propwire.NewError(propwire.KindAreaFull)
	case proparea.ErrInvalidName:
		return propwire.NewError(propwire.KindInvalidName)
	case proparea.ErrValueTooLong:
		return propwire.NewError(propwire.KindInvalidValue)
	case proparea.ErrAlreadyExists:
		return propwire.NewError(propwire.KindReadonlyViolation)
	default:
		return propwire.NewError(propwire.KindInternal)
	}
}
