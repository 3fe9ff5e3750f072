package health

import (
	"fmt"
	"io"
	"net"
	"sync"

	"mirrorsync/internal/mirror"
)

const response = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nOK"

// Server is a minimal TCP liveness endpoint. It answers every connection
// with a fixed 200 response, enough for container health probes without
// pulling a full HTTP server into the process.
type Server struct {
	listener net.Listener
	logger   mirror.Logger

	wg     sync.WaitGroup
	closed chan struct{}
}

// Start begins listening on addr and serving probes in the background.
func Start(addr string, logger mirror.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	s := &Server{
		listener: listener,
		logger:   logger,
		closed:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.serve()

	logger.Info("health check server listening", "addr", listener.Addr().String())
	return s, nil
}

// Addr returns the bound address, useful when addr requested port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.logger.Warn("health listener accept failed", "error", err)
				return
			}
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, 1024)
	if _, err := conn.Read(buf); err != nil && err != io.EOF {
		return
	}
	_, _ = conn.Write([]byte(response))
}

// Close stops the listener and waits for in-flight probes to finish.
func (s *Server) Close() {
	close(s.closed)
	s.listener.Close()
	s.wg.Wait()
}
