package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	sendQueueSize = 32
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// session is the per-connection endpoint: it owns the socket, the heartbeat,
// and the player id once the client has sent Connect. Events addressed to it
// are queued on send and written by writePump in order.
type session struct {
	cfg   *Config
	coord *Coordinator
	conn  *websocket.Conn

	send chan ServerEvent
	done chan struct{}

	id        int64
	connected bool
}

func serveWS(cfg *Config, coord *Coordinator) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		logf(cfg, "SERVE: Websocket session for %s", realIP(r))

		s := &session{
			cfg:   cfg,
			coord: coord,
			conn:  conn,
			send:  make(chan ServerEvent, sendQueueSize),
			done:  make(chan struct{}),
		}

		go s.writePump()
		s.readPump()
	}
}

// deliver queues an event without blocking the coordinator. Events for a
// closed or saturated session are dropped; the transport's Disconnect is the
// authoritative cleanup.
func (s *session) deliver(event ServerEvent) {
	select {
	case <-s.done:
	case s.send <- event:
	default:
	}
}

func (s *session) readPump() {
	defer func() {
		if s.connected {
			s.coord.Disconnect(s.id)
		}
		close(s.done)
		_ = s.conn.Close()
	}()

	resetDeadline := func() {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.clientTimeout))
	}

	resetDeadline()
	s.conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		resetDeadline()
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()

		if kind != websocket.TextMessage {
			continue
		}

		event, err := DecodeClientEvent(data)
		if err != nil {
			s.deliver(ErrorMessage{Message: fmt.Sprintf("Invalid message: %s", data)})
			continue
		}

		if connect, ok := event.(ConnectEvent); ok {
			if s.connected {
				s.deliver(ErrorMessage{Message: errAlreadyConnected})
				continue
			}
			s.id = s.coord.Connect(connect.Name, s)
			s.connected = true
			s.deliver(ConnectedMessage{ID: s.id})
			continue
		}

		if !s.connected {
			s.deliver(ErrorMessage{Message: errNotConnected})
			continue
		}

		s.coord.Handle(s.id, event)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.cfg.heartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case event := <-s.send:
			data, err := EncodeServerEvent(event)
			if err != nil {
				log.Println("encode error:", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}
