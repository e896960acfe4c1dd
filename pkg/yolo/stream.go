package yolo

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kamiya-yoshiyuki/yolov8/internal/entity"
)

// streamConn holds the single websocket to the runner's streaming endpoint.
// The connection is dialed lazily and guarded by a mutex: frames from
// concurrent clients are serialized over the one socket.
type streamConn struct {
	log          *logrus.Logger
	url          string
	conn         *websocket.Conn
	mu           sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newStreamConn(logger *logrus.Logger, url string) *streamConn {
	return &streamConn{
		log:          logger,
		url:          url,
		readTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

// connectLocked dials the runner. Caller holds the mutex.
func (s *streamConn) connectLocked() error {
	if s.url == "" {
		return fmt.Errorf("streaming URL not configured")
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.writeTimeout)); err != nil {
			s.log.Warnf("error sending pong to runner: %v", err)
		}
		return nil
	})

	s.conn = conn
	return nil
}

func (s *streamConn) processFrame(frame []byte) (*entity.FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return nil, fmt.Errorf("cannot connect to streaming endpoint: %w", err)
		}
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		s.dropLocked()
		return nil, err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.dropLocked()
		return nil, fmt.Errorf("failed to send frame: %w", err)
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.dropLocked()
		return nil, err
	}

	var result entity.FrameResult
	if err := s.conn.ReadJSON(&result); err != nil {
		s.dropLocked()
		return nil, fmt.Errorf("failed to read frame result: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("runner error: %s", result.Error)
	}

	return &result, nil
}

// dropLocked closes a broken connection so the next frame redials. Caller
// holds the mutex.
func (s *streamConn) dropLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *streamConn) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}
