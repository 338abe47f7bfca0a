package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 32
)

// Client is one live websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID string
	role   string

	// joinedUser is set once the client enters its user room. Guarded by
	// the hub mutex.
	joinedUser string
}

func newClient(h *Hub, conn *websocket.Conn, userID, role string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		role:   role,
	}
}

// trySend queues a frame without blocking. Slow consumers lose frames
// rather than stalling the broadcast.
func (c *Client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// inboundData is the union of fields the browser client sends with any
// activity event.
type inboundData struct {
	UserID        string  `json:"userId"`
	AttemptNumber int     `json:"attemptNumber"`
	CurrentStep   int     `json:"currentStep"`
	Completion    float64 `json:"completionPercentage"`
	StepName      string  `json:"stepName"`
	Status        string  `json:"status"`
	IsOnline      bool    `json:"isOnline"`
	IsEvaluating  bool    `json:"isEvaluating"`
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.hub.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug(context.Background(), "websocket read failed",
					logger.String("userID", c.userID), logger.Error(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env envelope) {
	var data inboundData
	if len(env.Data) > 0 {
		// Malformed data degrades to the zero value; the event still
		// counts as activity from this connection.
		_ = json.Unmarshal(env.Data, &data)
	}

	// Non-admin connections can only act as themselves.
	userID := data.UserID
	if c.role != model.RoleAdmin || userID == "" {
		userID = c.userID
	}

	kind := model.Kind(env.Event)
	switch kind {
	case model.KindJoinAdmin:
		if c.role != model.RoleAdmin {
			return
		}
		c.hub.joinAdmin(c)
		return
	case model.KindJoinUser:
		c.hub.joinUser(c, userID)
	case model.KindEvaluationStarted, model.KindEvaluationUpdate,
		model.KindUserLogout, model.KindStatusChange, model.KindHeartbeat:
		// Forwarded below.
	default:
		return
	}

	c.hub.enqueue(model.Activity{
		Kind:          kind,
		UserID:        userID,
		AttemptNumber: data.AttemptNumber,
		CurrentStep:   data.CurrentStep,
		Completion:    data.Completion,
		StepName:      data.StepName,
		Status:        data.Status,
		IsOnline:      data.IsOnline,
		IsEvaluating:  data.IsEvaluating,
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the connection down and, for user-room members, synthesizes a
// disconnect event so presence catches silent drops.
func (c *Client) close() {
	userID, wasUser := c.hub.remove(c)
	close(c.send)
	_ = c.conn.Close()

	if wasUser {
		c.hub.enqueue(model.Activity{Kind: model.KindDisconnect, UserID: userID})
	}
}
