package internal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomrelay/internal/history"
)

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opEvent
)

type command struct {
	op   opKind
	sess *Session
	ev   ClientEvent
}

const relayQueueSize = 1024

// Relay is the event/state-machine layer. All mutations flow through a single
// command queue consumed by one loop goroutine, so handler bodies run to
// completion without interleaving and per-room ordering is the queue order.
// The injected components still carry their own locks because HTTP reads and
// the retention sweeper run concurrently with the loop.
type Relay struct {
	logger   *zap.Logger
	registry *Registry
	rooms    *Directory
	history  *history.Log
	metrics  *Metrics

	queue chan command

	// sessions is touched only by the loop goroutine.
	sessions map[string]*Session
}

func NewRelay(logger *zap.Logger, registry *Registry, rooms *Directory, hist *history.Log, metrics *Metrics) *Relay {
	return &Relay{
		logger:   logger.Named("relay"),
		registry: registry,
		rooms:    rooms,
		history:  hist,
		metrics:  metrics,
		queue:    make(chan command, relayQueueSize),
		sessions: make(map[string]*Session),
	}
}

// Connect enqueues a transport-level arrival. The connection enters the
// anonymous state until it identifies.
func (r *Relay) Connect(s *Session) {
	r.queue <- command{op: opConnect, sess: s}
}

// Disconnect enqueues a transport-level closure.
func (r *Relay) Disconnect(s *Session) {
	r.queue <- command{op: opDisconnect, sess: s}
}

// Dispatch enqueues a decoded client event for processing.
func (r *Relay) Dispatch(s *Session, ev ClientEvent) {
	r.queue <- command{op: opEvent, sess: s, ev: ev}
}

// Run consumes the command queue until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-r.queue:
			r.process(cmd)
		}
	}
}

func (r *Relay) process(cmd command) {
	r.metrics.IncEvent()
	switch cmd.op {
	case opConnect:
		r.handleConnect(cmd.sess)
	case opDisconnect:
		r.handleDisconnect(cmd.sess)
	case opEvent:
		if _, tracked := r.sessions[cmd.sess.id]; !tracked {
			return
		}
		if err := cmd.ev.Validate(); err != nil {
			r.logger.Debug("dropping malformed event",
				zap.String("connID", cmd.sess.id), zap.Error(err))
			return
		}
		switch cmd.ev.Type {
		case EventIdentify:
			r.handleIdentify(cmd.sess, cmd.ev)
		case EventJoinRoom:
			r.handleJoin(cmd.sess, cmd.ev)
		case EventSendMessage:
			r.handleSend(cmd.sess, cmd.ev, history.KindText)
		case EventSendFile:
			r.handleSend(cmd.sess, cmd.ev, history.KindFile)
		case EventTypingStart, EventTypingStop:
			r.handleTyping(cmd.sess, cmd.ev)
		}
	}
}

func (r *Relay) handleConnect(s *Session) {
	r.sessions[s.id] = s
	r.metrics.IncConn()
	r.logger.Info("connection opened", zap.String("connID", s.id))
}

func (r *Relay) handleDisconnect(s *Session) {
	if _, tracked := r.sessions[s.id]; !tracked {
		return
	}
	delete(r.sessions, s.id)
	r.metrics.DecConn()

	left := r.rooms.RemoveConnection(s.id)
	user, identified := r.registry.Unregister(s.id)
	if identified {
		r.broadcastRegistered(PresenceOfflineEvent{
			Type:     EventPresenceOffline,
			ID:       user.ID,
			LastSeen: user.LastSeen,
		}, "")
	}
	close(s.send)
	r.logger.Info("connection closed",
		zap.String("connID", s.id),
		zap.Strings("rooms", left),
		zap.Bool("identified", identified))
}

func (r *Relay) handleIdentify(s *Session, ev ClientEvent) {
	user := r.registry.Register(s.id, ev.ID, ev.Name, ev.Avatar)

	// The caller gets the roster snapshot as of this moment, itself included.
	// Everyone else gets the online announcement instead.
	r.send(s, RosterEvent{Type: EventRoster, Users: rosterUsers(r.registry.Roster())})
	r.broadcastRegistered(PresenceOnlineEvent{
		Type:   EventPresenceOnline,
		ID:     user.ID,
		Name:   user.Name,
		Avatar: user.Avatar,
	}, s.id)

	r.logger.Info("connection identified",
		zap.String("connID", s.id),
		zap.String("userID", user.ID),
		zap.String("name", user.Name))
}

func (r *Relay) handleJoin(s *Session, ev ClientEvent) {
	if _, identified := r.registry.Lookup(s.id); !identified {
		r.logger.Debug("dropping join-room from unidentified connection",
			zap.String("connID", s.id), zap.String("roomID", ev.RoomID))
		return
	}
	r.rooms.Join(s.id, ev.RoomID)
	r.registry.MarkJoined(s.id, ev.RoomID)

	// Replay goes to the joining connection only, never broadcast.
	r.send(s, HistoryEvent{
		Type:     EventHistory,
		RoomID:   ev.RoomID,
		Messages: r.history.Snapshot(ev.RoomID),
	})
	r.logger.Info("joined room",
		zap.String("connID", s.id), zap.String("roomID", ev.RoomID))
}

func (r *Relay) handleSend(s *Session, ev ClientEvent, kind string) {
	user, identified := r.registry.Lookup(s.id)
	if !identified || !r.rooms.Contains(ev.RoomID, s.id) {
		r.logger.Debug("dropping send from non-member",
			zap.String("connID", s.id),
			zap.String("roomID", ev.RoomID),
			zap.Bool("identified", identified))
		return
	}

	msg := history.Message{
		ID:           uuid.NewString(),
		RoomID:       ev.RoomID,
		SenderID:     user.ID,
		SenderName:   user.Name,
		SenderAvatar: user.Avatar,
		MsgType:      kind,
		Timestamp:    time.Now().UTC(),
	}
	switch kind {
	case history.KindText:
		msg.Text = ev.Text
	case history.KindFile:
		msg.FileName = ev.FileName
		msg.FileData = ev.FileData
		msg.FileSize = ev.FileSize
	}

	r.history.Append(ev.RoomID, msg)
	r.registry.Touch(s.id)
	r.metrics.IncMessage()

	// Sender included, so its UI reflects the authoritative server state.
	payload, err := json.Marshal(MessageEvent{Type: EventMessage, Message: msg})
	if err != nil {
		r.logger.Error("encode message event", zap.Error(err))
		return
	}
	for _, connID := range r.rooms.Members(ev.RoomID) {
		r.deliver(connID, payload)
	}
}

func (r *Relay) handleTyping(s *Session, ev ClientEvent) {
	user, identified := r.registry.Lookup(s.id)
	if !identified {
		r.logger.Debug("dropping typing event from unidentified connection",
			zap.String("connID", s.id))
		return
	}
	payload, err := json.Marshal(TypingEvent{
		Type:     ev.Type,
		RoomID:   ev.RoomID,
		UserID:   user.ID,
		UserName: user.Name,
	})
	if err != nil {
		r.logger.Error("encode typing event", zap.Error(err))
		return
	}
	for _, connID := range r.rooms.Members(ev.RoomID) {
		if connID == s.id {
			continue
		}
		r.deliver(connID, payload)
	}
}

// broadcastRegistered fans an event out to every identified connection except
// skipConnID.
func (r *Relay) broadcastRegistered(event any, skipConnID string) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("encode broadcast event", zap.Error(err))
		return
	}
	for _, connID := range r.registry.ConnIDs() {
		if connID == skipConnID {
			continue
		}
		r.deliver(connID, payload)
	}
}

func (r *Relay) send(s *Session, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("encode event", zap.Error(err))
		return
	}
	r.deliver(s.id, payload)
}

// deliver hands a frame to one recipient without blocking. A full send buffer
// drops the frame for that recipient only; the failure is logged and counted,
// never propagated to the sender or the other recipients.
func (r *Relay) deliver(connID string, payload []byte) {
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	select {
	case s.send <- payload:
	default:
		r.metrics.IncDropped()
		r.logger.Warn("dropped delivery to slow connection", zap.String("connID", connID))
	}
}
