package facade

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Registration clients are browser apps served from a separate origin
	// during development, so the upgrade handshake accepts any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// courseUpdate is the wire shape of a streamed event, per spec §6:
// {type, courseId, payload, timestamp}.
type courseUpdate struct {
	Type      domain.EventType `json:"type"`
	CourseID  string           `json:"courseId"`
	Payload   interface{}      `json:"payload,omitempty"`
	Timestamp string           `json:"timestamp"`
}

type controlMessage struct {
	Action   string `json:"action"` // "authenticate" | "subscribe:course" | "unsubscribe:course"
	StudentID string `json:"studentId,omitempty"`
	CourseID string `json:"courseId,omitempty"`
}

// Stream is the GET /ws streaming gateway. A client authenticates with
// {studentId}, then issues subscribe:course/unsubscribe:course control
// messages; the gateway adapts the in-process Event Bus into
// course:update websocket frames.
func (h *Handler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var (
		mu       sync.Mutex
		studentID string
		subs      = make(map[string]*eventbus.Subscription) // courseId hex -> subscription
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil
		}
		switch msg.Action {
		case "authenticate":
			mu.Lock()
			studentID = msg.StudentID
			mu.Unlock()
		case "subscribe:course":
			mu.Lock()
			authenticated := studentID != ""
			mu.Unlock()
			if !authenticated {
				continue
			}
			courseID, err := h.svc.ResolveCourseID(c.Request().Context(), msg.CourseID)
			if err != nil {
				continue
			}
			topic := eventbus.Topic(courseID.Hex())
			mu.Lock()
			if _, already := subs[topic]; !already {
				sub := h.bus.Subscribe(topic)
				subs[topic] = sub
				go relay(conn, sub, &mu)
			}
			mu.Unlock()
		case "unsubscribe:course":
			courseID, err := h.svc.ResolveCourseID(c.Request().Context(), msg.CourseID)
			if err != nil {
				continue
			}
			topic := eventbus.Topic(courseID.Hex())
			mu.Lock()
			if sub, ok := subs[topic]; ok {
				sub.Unsubscribe()
				delete(subs, topic)
			}
			mu.Unlock()
		}
	}
}

// relay forwards one subscription's events to the client as course:update
// frames until the subscription is closed. writeMu serializes writes to
// the shared connection across every active relay goroutine.
func relay(conn *websocket.Conn, sub *eventbus.Subscription, writeMu *sync.Mutex) {
	for evt := range sub.Events() {
		update := courseUpdate{
			Type:      evt.EventType,
			CourseID:  evt.CourseID.Hex(),
			Payload:   evt,
			Timestamp: evt.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		}
		writeMu.Lock()
		err := conn.WriteJSON(update)
		writeMu.Unlock()
		if err != nil {
			log.Printf("facade: websocket write failed, dropping relay: %v", err)
			return
		}
	}
}
