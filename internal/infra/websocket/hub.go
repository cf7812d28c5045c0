package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openctemio/docflow/internal/app/notify"
	"github.com/openctemio/docflow/pkg/logger"
)

const (
	maxClientsPerAddr  = 10
	maxGroupsPerClient = 50
	broadcastBuffer    = 256
)

var (
	errTooManyGroups = errors.New("too many groups")
	errNotAttached   = errors.New("client not attached")
)

// Hub owns group membership in the goroutine running Run and fans
// notifications out to the clients joined to a group.
type Hub struct {
	log   *logger.Logger
	allow func(group string) bool

	attachCh  chan *Client
	detachCh  chan *Client
	requests  chan request
	broadcast chan notify.Notification
	statsCh   chan chan Stats
	stopped   chan struct{}
}

type request struct {
	client *Client
	frame  Frame
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients int            `json:"clients"`
	Groups  map[string]int `json:"groups"`
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithGroupFilter replaces AllowGroup as the check applied to joins.
func WithGroupFilter(allow func(group string) bool) HubOption {
	return func(h *Hub) { h.allow = allow }
}

// NewHub creates a Hub. Nothing is delivered until Run is called.
func NewHub(log *logger.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		log:       log.With("component", "websocket_hub"),
		allow:     AllowGroup,
		attachCh:  make(chan *Client),
		detachCh:  make(chan *Client),
		requests:  make(chan request),
		broadcast: make(chan notify.Notification, broadcastBuffer),
		statsCh:   make(chan chan Stats),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves membership changes and broadcasts until ctx is done, then closes
// every client with a going-away frame.
func (h *Hub) Run(ctx context.Context) {
	m := newMembership()
	h.log.Info("websocket hub started")
	defer func() {
		close(h.stopped)
		n := m.closeAll()
		h.log.Info("websocket hub stopped", "closed_clients", n)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.attachCh:
			if !m.attach(c) {
				h.log.Warn("too many connections from address",
					"remote_addr", c.Addr,
					"max", maxClientsPerAddr,
				)
				c.close()
				continue
			}
			h.log.Debug("client attached", "client_id", c.ID, "remote_addr", c.Addr)

		case c := <-h.detachCh:
			m.detach(c)
			h.log.Debug("client detached", "client_id", c.ID)

		case r := <-h.requests:
			r.client.deliver(h.apply(m, r))

		case n := <-h.broadcast:
			h.fanout(m, n)

		case reply := <-h.statsCh:
			reply <- m.stats()
		}
	}
}

func (h *Hub) apply(m *membership, r request) Frame {
	f := r.frame
	if f.Op == OpLeave {
		m.leave(r.client, f.Group)
		return Frame{Op: OpLeft, Group: f.Group, Ref: f.Ref}
	}

	if !h.allow(f.Group) {
		return errorFrame(f.Ref, CodeForbiddenGroup, "unknown group "+f.Group)
	}
	switch err := m.join(r.client, f.Group); {
	case errors.Is(err, errTooManyGroups):
		h.log.Warn("group limit reached", "client_id", r.client.ID, "max", maxGroupsPerClient)
		return errorFrame(f.Ref, CodeTooManyGroups, fmt.Sprintf("at most %d groups per connection", maxGroupsPerClient))
	case err != nil:
		return errorFrame(f.Ref, CodeBadFrame, err.Error())
	}
	return Frame{Op: OpJoined, Group: f.Group, Ref: f.Ref}
}

func (h *Hub) fanout(m *membership, n notify.Notification) {
	members := m.groups[n.Group]
	if len(members) == 0 {
		return
	}
	data, err := json.Marshal(Frame{Op: OpNotification, Group: n.Group, Notification: &n})
	if err != nil {
		h.log.Error("encode notification", "group", n.Group, "type", n.Type, "error", err)
		return
	}
	for c := range members {
		c.enqueue(data)
	}
	h.log.Debug("notification delivered",
		"group", n.Group,
		"type", n.Type,
		"recipients", len(members),
	)
}

// attach hands a new connection to the hub. It returns false once the hub has
// stopped.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.attachCh <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.detachCh <- c:
	case <-h.stopped:
	}
}

func (h *Hub) submit(c *Client, f Frame) {
	select {
	case h.requests <- request{client: c, frame: f}:
	case <-h.stopped:
	}
}

// Notify implements notify.Sink. A stopped hub drops notifications.
func (h *Hub) Notify(ctx context.Context, n notify.Notification) error {
	select {
	case h.broadcast <- n:
		return nil
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the attached client count and members per group.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case h.statsCh <- reply:
		return <-reply
	case <-h.stopped:
		return Stats{Groups: map[string]int{}}
	}
}

// membership is only touched by Hub.Run.
type membership struct {
	clients map[*Client]map[string]struct{}
	groups  map[string]map[*Client]struct{}
	perAddr map[string]int
}

func newMembership() *membership {
	return &membership{
		clients: make(map[*Client]map[string]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
		perAddr: make(map[string]int),
	}
}

func (m *membership) attach(c *Client) bool {
	if m.perAddr[c.Addr] >= maxClientsPerAddr {
		return false
	}
	m.perAddr[c.Addr]++
	m.clients[c] = make(map[string]struct{})
	return true
}

func (m *membership) detach(c *Client) {
	joined, ok := m.clients[c]
	if !ok {
		return
	}
	for g := range joined {
		m.removeMember(g, c)
	}
	delete(m.clients, c)
	if m.perAddr[c.Addr] <= 1 {
		delete(m.perAddr, c.Addr)
	} else {
		m.perAddr[c.Addr]--
	}
}

func (m *membership) join(c *Client, group string) error {
	joined, ok := m.clients[c]
	if !ok {
		return errNotAttached
	}
	if _, ok := joined[group]; ok {
		return nil
	}
	if len(joined) >= maxGroupsPerClient {
		return errTooManyGroups
	}
	joined[group] = struct{}{}
	if m.groups[group] == nil {
		m.groups[group] = make(map[*Client]struct{})
	}
	m.groups[group][c] = struct{}{}
	return nil
}

func (m *membership) leave(c *Client, group string) {
	if joined, ok := m.clients[c]; ok {
		delete(joined, group)
	}
	m.removeMember(group, c)
}

func (m *membership) removeMember(group string, c *Client) {
	members, ok := m.groups[group]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(m.groups, group)
	}
}

func (m *membership) stats() Stats {
	s := Stats{Clients: len(m.clients), Groups: make(map[string]int, len(m.groups))}
	for g, members := range m.groups {
		s.Groups[g] = len(members)
	}
	return s
}

func (m *membership) closeAll() int {
	n := len(m.clients)
	for c := range m.clients {
		c.goingAway()
	}
	m.clients = nil
	m.groups = nil
	return n
}

var _ notify.Sink = (*Hub)(nil)
