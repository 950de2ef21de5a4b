package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConnState is the lifecycle of one client connection.
type ConnState int

const (
	Connecting ConnState = iota
	Joined
	Active
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// transitions lists the legal moves between connection states.
var transitions = map[ConnState][]ConnState{
	Connecting: {Joined, Closed},
	Joined:     {Active, Closed},
	Active:     {Closed},
}

// accepted lists the inbound message types each state handles.
var accepted = map[ConnState][]string{
	Connecting: {TypeJoin},
	Active:     {TypeMove, TypeStartFix, TypeFixComplete},
}

// ErrJoinRejected is returned by Handle when the loop refused a join.
var ErrJoinRejected = errors.New("join rejected")

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Client adapts one transport connection to the server loop. Handle is called
// from a single reader goroutine; Outbox is drained by a single writer.
type Client struct {
	id    string
	srv   *Server
	out   chan any
	log   *logrus.Entry
	mu    sync.Mutex
	state ConnState
}

// NewClient registers nothing yet; the client joins a room on its first
// join message.
func (s *Server) NewClient(remote string) *Client {
	id := uuid.NewString()
	return &Client{
		id:  id,
		srv: s,
		out: make(chan any, s.cfg.SendBuffer),
		log: s.log.WithFields(logrus.Fields{
			"player": id,
			"remote": remote,
		}),
	}
}

func (c *Client) ID() string { return c.id }

// Outbox carries every message addressed to this client. It is never closed;
// writers stop on their own context.
func (c *Client) Outbox() <-chan any { return c.out }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves to next if the table allows it.
func (c *Client) transition(next ConnState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(transitions[c.state], next) {
		return false
	}
	c.state = next
	return true
}

// reply sends directly to this client, bypassing the loop.
func (c *Client) reply(msg any) {
	select {
	case c.out <- msg:
	default:
		c.log.Warn("outbox full, dropped reply")
	}
}

// Handle decodes one inbound frame and forwards it to the server loop.
// Malformed frames are answered with an error message. A returned error means
// the connection should be closed.
func (c *Client) Handle(ctx context.Context, data []byte) error {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Warn("invalid json")
		c.reply(errorMessage("invalid JSON format"))
		return nil
	}
	if err := validate.Struct(msg); err != nil {
		c.log.WithField("type", msg.Type).WithError(err).Warn("invalid message")
		c.reply(errorMessage(describe(msg.Type, err)))
		return nil
	}

	state := c.State()
	if !slices.Contains(accepted[state], msg.Type) {
		c.log.WithFields(logrus.Fields{
			"type":  msg.Type,
			"state": state,
		}).Warn("message not accepted in current state, dropped")
		return nil
	}

	switch msg.Type {
	case TypeJoin:
		return c.join(ctx, msg)
	case TypeMove:
		return c.srv.post(ctx, moveEvent{playerID: c.id, x: *msg.X, y: *msg.Y, z: msg.Z, rotationY: msg.RotationY})
	case TypeStartFix:
		return c.srv.post(ctx, startFixEvent{playerID: c.id, panelID: *msg.PanelID})
	case TypeFixComplete:
		return c.srv.post(ctx, fixCompleteEvent{playerID: c.id, panelID: *msg.PanelID})
	}
	return nil
}

func (c *Client) join(ctx context.Context, msg inbound) error {
	if !c.transition(Joined) {
		return nil
	}
	reply := make(chan string, 1)
	ev := joinEvent{playerID: c.id, memberID: msg.MemberID, name: msg.Name, gameID: msg.GameID, out: c.out, reply: reply}
	if err := c.srv.post(ctx, ev); err != nil {
		c.transition(Closed)
		return err
	}
	select {
	case roomID, ok := <-reply:
		if !ok || roomID == "" {
			c.transition(Closed)
			return ErrJoinRejected
		}
		c.transition(Active)
		c.log.WithField("room", roomID).Debug("client active")
		return nil
	case <-c.srv.done:
		c.transition(Closed)
		return ErrServerStopped
	case <-ctx.Done():
		// The join is already queued; staying Joined lets Close post the leave.
		return ctx.Err()
	}
}

// Close leaves the room, if any. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	prev := c.state
	c.state = Closed
	c.mu.Unlock()
	if prev == Closed || prev == Connecting {
		return
	}
	if err := c.srv.post(context.Background(), leaveEvent{playerID: c.id}); err != nil {
		c.log.WithError(err).Debug("leave not delivered")
	}
}

func describe(msgType string, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid message"
	}
	fe := verrs[0]
	if fe.StructField() == "Type" {
		if msgType == "" {
			return "missing message type"
		}
		return fmt.Sprintf("unknown message type: %s", msgType)
	}
	if fe.Tag() == "max" {
		return fmt.Sprintf("%s: %s too long", msgType, fe.Field())
	}
	return fmt.Sprintf("%s: missing %s", msgType, fe.Field())
}
