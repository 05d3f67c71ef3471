package referee

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/connect4/client/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
	sendBuffer     = 256
)

// Client is one connected socket. name and gameID are owned by the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	name   string
	gameID string
}

// ServeWs upgrades the request and attaches the connection to the hub. The
// game id may be given as ?gameId= and is confirmed by joinGame.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", map[string]interface{}{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		gameID: r.URL.Query().Get("gameId"),
	}
	if !hub.attach(client) {
		conn.Close()
		return
	}
	hub.log.Debug("client connected", map[string]interface{}{"remote": r.RemoteAddr, "gameId": client.gameID})

	go client.writePump(client.send)
	go client.readPump()
}

// readPump reads frames until the socket fails and hands them to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket error", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.hub.log.Warn("dropping malformed message", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeJoinGame:
			var join protocol.JoinGame
			if err := json.Unmarshal(msg.Payload, &join); err != nil {
				c.hub.log.Warn("bad joinGame payload", err)
				continue
			}
			c.hub.handleJoin(c, join)

		case protocol.TypeMakeMove:
			var move protocol.MakeMove
			if err := json.Unmarshal(msg.Payload, &move); err != nil {
				c.hub.log.Warn("bad makeMove payload", err)
				continue
			}
			c.hub.handleMove(c, move.Column)

		default:
			c.hub.log.Debug("ignoring message", map[string]interface{}{"type": msg.Type})
		}
	}
}

// writePump drains send onto the socket and pings the peer. A closed send
// channel ends the connection with a close frame.
func (c *Client) writePump(send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
