package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/carelink/chat-client/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	sendBufSize = 256
)

var ErrClosed = errors.New("transport closed")

type SocketConfig struct {
	URL                 string
	AccessToken         string
	PingInterval        time.Duration
	ReconnectMaxElapsed time.Duration
}

// Socket is the websocket Transport. It dials, pumps, pings, and redials
// with exponential backoff when the connection drops. While disconnected no
// events are dispatched; subscribers simply stop hearing from it, already
// delivered state is untouched.
type Socket struct {
	cfg  SocketConfig
	subs *Subscribers
	log  *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan *domain.Event
	done   chan struct{}
	closed bool
}

func Dial(ctx context.Context, cfg SocketConfig, log *zap.SugaredLogger) (*Socket, error) {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectMaxElapsed == 0 {
		cfg.ReconnectMaxElapsed = 2 * time.Minute
	}
	s := &Socket{
		cfg:  cfg,
		subs: NewSubscribers(),
		log:  log,
		send: make(chan *domain.Event, sendBufSize),
		done: make(chan struct{}),
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	go s.readPump()
	go s.writePump()
	return s, nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if s.cfg.AccessToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + s.cfg.AccessToken}}
	}
	conn, _, err := websocket.Dial(ctx, s.cfg.URL, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(64 * 1024)
	return conn, nil
}

func (s *Socket) Subscribe(eventType string, h Handler) func() {
	return s.subs.Subscribe(eventType, h)
}

func (s *Socket) Send(ctx context.Context, ev *domain.Event) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.send <- ev:
		return nil
	}
}

func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (s *Socket) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Socket) readPump() {
	for {
		conn := s.current()
		if conn == nil {
			return
		}
		var ev domain.Event
		if err := wsjson.Read(context.Background(), conn, &ev); err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warnw("socket read failed, reconnecting", "err", err)
			if !s.reconnect() {
				return
			}
			continue
		}
		s.subs.Dispatch(&ev)
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			conn := s.current()
			if conn == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := wsjson.Write(ctx, conn, ev)
			cancel()
			if err != nil {
				s.log.Warnw("socket write failed", "type", ev.Type, "err", err)
			}
		case <-ticker.C:
			conn := s.current()
			if conn == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				s.log.Debugw("ping failed", "err", err)
			}
		}
	}
}

// reconnect redials with exponential backoff until it succeeds, the backoff
// budget runs out, or the socket is closed.
func (s *Socket) reconnect() bool {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.cfg.ReconnectMaxElapsed

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		select {
		case <-s.done:
			return backoff.Permanent(ErrClosed)
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		c, err := s.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, b)
	if err != nil {
		s.log.Errorw("reconnect gave up", "err", err)
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.log.Infow("socket reconnected", "url", s.cfg.URL)
	return true
}
