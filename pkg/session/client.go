package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// timeNow is swapped out in tests that exercise expiry behavior.
var timeNow = time.Now

// Client is the action-effect bridge: the single integration point between
// application intents and the wire. Every intent is posted onto one internal
// event loop, and every inbound wire event is applied there too, so no
// session state is ever mutated concurrently and nothing else can reach the
// physical connection.
type Client struct {
	cfg    Config
	store  *Store
	bus    *updateBus
	logger zerolog.Logger

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the event loop goroutine.
	status     Status
	retryCount uint
	lastErr    string
	lastToken  string
	gen        int // connection generation, guards stale async completions
	conn       Conn
	backoff    *backoff.ExponentialBackOff
	retryTimer *time.Timer
	rooms      *roomSet
	outbox     *outbox
	presence   *presenceTracker
	sweepTimer *time.Timer
}

// New creates a Client and starts its event loop. The client stays
// disconnected until the first Connect intent.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("session: missing URL")
	}
	if cfg.Token == nil {
		return nil, errors.New("session: missing token source")
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		store:    newStore(),
		bus:      newUpdateBus(),
		logger:   log.With().Str("component", "session").Logger(),
		ops:      make(chan func(), 128),
		done:     make(chan struct{}),
		backoff:  newBackOff(cfg),
		rooms:    newRoomSet(),
		outbox:   newOutbox(),
		presence: newPresenceTracker(cfg.TypingTimeout),
	}
	go c.run()
	return c, nil
}

func (c *Client) run() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			return
		}
	}
}

// post schedules fn on the event loop. Intents arriving after Close are
// dropped.
func (c *Client) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.done:
	}
}

// ---- intents (any goroutine; all fire-and-forget) ----

// Connect establishes the connection using the current token. It is a no-op
// while already connected or connecting with an unchanged token; a changed
// token replaces the live connection. Without a token the intent fails
// immediately and is surfaced, never retried.
func (c *Client) Connect() { c.post(c.connectNow) }

// Disconnect tears down the connection unconditionally, clears retry state
// and flushes pending sends to failed. Idempotent.
func (c *Client) Disconnect() {
	c.post(func() { c.disconnectNow("disconnected") })
}

// JoinRoom subscribes to a conversation. While disconnected the desire is
// recorded and flushed on the next successful connect.
func (c *Client) JoinRoom(conversationID string) {
	c.post(func() { c.joinRoomNow(conversationID) })
}

// LeaveRoom unsubscribes from a conversation. A leave issued while the join
// is still unacknowledged wins over the join.
func (c *Client) LeaveRoom(conversationID string) {
	c.post(func() { c.leaveRoomNow(conversationID) })
}

// Send dispatches a chat message with an optimistic local echo and returns
// the generated clientTempId. A send attempted while disconnected stays
// pending and is never auto-resent; re-issuing is the caller's decision
// (resending blindly after an outage risks duplicate delivery).
func (c *Client) Send(conversationID, content string, attachments ...Attachment) string {
	clientTempID := uuid.NewString()
	c.post(func() { c.sendNow(conversationID, clientTempID, content, attachments) })
	return clientTempID
}

// MarkRead emits a read receipt. A no-op while disconnected; receipts have no
// correctness requirement to survive a connection gap.
func (c *Client) MarkRead(conversationID, messageID string) {
	c.post(func() { c.markReadNow(conversationID, messageID) })
}

// StartTyping emits a typing hint. Fire-and-forget, never queued.
func (c *Client) StartTyping(conversationID string) {
	c.post(func() { c.typingNow(EventTypingStart, conversationID) })
}

// StopTyping emits a stop-typing hint. Fire-and-forget, never queued.
func (c *Client) StopTyping(conversationID string) {
	c.post(func() { c.typingNow(EventTypingStop, conversationID) })
}

// Store returns the UI-facing state snapshot store.
func (c *Client) Store() *Store { return c.store }

// Session returns the current session snapshot.
func (c *Client) Session() Session { return c.store.Session() }

// Updates subscribes to the state-update stream. One update is delivered per
// state transition; the channel closes when ctx is canceled. A consumer that
// stops reading never blocks the session: updates are dropped once internal
// buffers fill, and the Store snapshot remains the source of truth.
func (c *Client) Updates(ctx context.Context) (<-chan Update, error) {
	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}
	return c.bus.subscribe(ctx)
}

// Close shuts the client down permanently.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.post(func() {
			c.disconnectNow("client closed")
			c.bus.close()
			close(c.done)
		})
	})
	return nil
}

// ---- connection supervisor (event loop only) ----

func (c *Client) connectNow() {
	token, err := c.cfg.Token.Token()
	if err != nil || token == "" {
		if err == nil {
			err = ErrNoToken
		}
		c.logger.Warn().Err(err).Msg("connect without credential")
		c.lastErr = err.Error()
		c.publishSession()
		return
	}
	switch c.status {
	case StatusConnected, StatusConnecting:
		if token == c.lastToken {
			return
		}
		c.logger.Info().Msg("token changed, replacing connection")
		c.dropConn()
		c.dropRooms()
	case StatusReconnecting:
		c.stopRetryTimer()
	}
	c.lastToken = token
	c.retryCount = 0
	c.lastErr = ""
	c.backoff.Reset()
	c.setStatus(StatusConnecting)
	c.beginDial(token)
}

func (c *Client) beginDial(token string) {
	gen := c.gen
	transport := c.cfg.Transport
	url := c.cfg.URL
	timeout := c.cfg.DialTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := transport.Dial(ctx, url, token)
		c.post(func() { c.onDialResult(gen, conn, err) })
	}()
}

func (c *Client) onDialResult(gen int, conn Conn, err error) {
	if gen != c.gen || (c.status != StatusConnecting && c.status != StatusReconnecting) {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			c.enterAuthError(err.Error())
			return
		}
		c.logger.Warn().Err(err).Uint("retry", c.retryCount).Msg("connect attempt failed")
		c.lastErr = err.Error()
		c.setStatus(StatusReconnecting)
		c.scheduleRetry()
		return
	}

	c.conn = conn
	c.retryCount = 0
	c.lastErr = ""
	c.backoff.Reset()
	c.startReadPump(c.gen, conn)
	c.setStatus(StatusConnected)

	// Full reconciliation before anything else may touch the wire: the
	// server holds no subscription memory across a dropped connection.
	rejoined := c.rooms.reconcile(c.emit)
	for _, id := range rejoined {
		c.store.setRoom(id, RoomPending)
		c.publishRoom(id, RoomPending, "")
	}
	c.logger.Info().Int("rooms", len(rejoined)).Msg("connected")
}

func (c *Client) startReadPump(gen int, conn Conn) {
	go func() {
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				c.post(func() { c.onConnLost(gen, err) })
				return
			}
			c.post(func() { c.handleInbound(gen, env) })
		}
	}()
}

func (c *Client) handleInbound(gen int, env Envelope) {
	if gen != c.gen {
		return
	}
	h, ok := inboundHandlers[env.Event]
	if !ok {
		c.logger.Debug().Str("event", env.Event).Msg("ignoring unknown event")
		return
	}
	h(c, env)
}

func (c *Client) onConnLost(gen int, err error) {
	if gen != c.gen || c.status != StatusConnected {
		return
	}
	c.logger.Warn().Err(err).Msg("connection lost")
	c.dropConn()
	c.dropRooms()
	// Sends that never reached the wire cannot be resolved by a delayed ack.
	for _, m := range c.outbox.failUnwritten("connection lost before send") {
		c.store.failEcho(m.ConversationID, m.ClientTempID, m.Error)
		c.publishOutbound(m)
	}
	c.lastErr = err.Error()
	c.setStatus(StatusReconnecting)
	if isServerClose(err) {
		// Server-initiated disconnect with a still-valid token: retry at
		// once, falling back to regular backoff on repeated failure.
		c.retryCount++
		c.publishSession()
		c.beginDial(c.refreshToken())
		return
	}
	c.scheduleRetry()
}

func (c *Client) scheduleRetry() {
	gen := c.gen
	delay := c.backoff.NextBackOff()
	c.logger.Debug().Dur("delay", delay).Uint("retry", c.retryCount).Msg("scheduling reconnect")
	c.retryTimer = time.AfterFunc(delay, func() {
		c.post(func() { c.onRetryTimer(gen) })
	})
}

func (c *Client) onRetryTimer(gen int) {
	if gen != c.gen || c.status != StatusReconnecting {
		return
	}
	c.retryTimer = nil
	c.retryCount++
	c.publishSession()
	c.beginDial(c.refreshToken())
}

// refreshToken re-reads the token source so a rotated credential is picked up
// on reconnect; the previous token is kept when the source has nothing newer.
func (c *Client) refreshToken() string {
	if tok, err := c.cfg.Token.Token(); err == nil && tok != "" {
		c.lastToken = tok
	}
	return c.lastToken
}

func (c *Client) disconnectNow(reason string) {
	c.stopRetryTimer()
	c.dropConn()
	c.dropRooms()
	c.failAllPending(reason)
	c.retryCount = 0
	c.lastErr = ""
	c.lastToken = ""
	c.backoff.Reset()
	c.setStatus(StatusDisconnected)
}

// enterAuthError parks the session until new credentials arrive. Room desire
// and message history are preserved; only pending sends are flushed to their
// terminal failed state so nothing is left silently pending.
func (c *Client) enterAuthError(reason string) {
	c.stopRetryTimer()
	c.dropConn()
	c.dropRooms()
	c.failAllPending("authentication error")
	c.lastErr = reason
	c.setStatus(StatusAuthError)
	c.logger.Warn().Str("reason", reason).Msg("credentials rejected, awaiting re-authentication")
	if cb := c.cfg.OnAuthExpired; cb != nil {
		go cb(reason)
	}
}

// dropRooms resets physical room state on connection teardown and surfaces
// every Pending/Joined -> Left transition to the store and update stream.
// Desire survives; reconciliation re-joins on the next connection.
func (c *Client) dropRooms() {
	for _, id := range c.rooms.markAllLeft() {
		c.store.setRoom(id, RoomLeft)
		c.publishRoom(id, RoomLeft, "")
	}
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++
}

func (c *Client) stopRetryTimer() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) failAllPending(reason string) {
	for _, m := range c.outbox.failAll(reason) {
		c.store.failEcho(m.ConversationID, m.ClientTempID, m.Error)
		c.publishOutbound(m)
	}
}

// emit writes one envelope to the live connection. A write failure is treated
// as a lost connection; teardown is posted rather than run inline so the
// current transition completes first.
func (c *Client) emit(env Envelope) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteEnvelope(env); err != nil {
		c.logger.Warn().Err(err).Str("event", env.Event).Msg("write failed")
		gen := c.gen
		c.post(func() { c.onConnLost(gen, err) })
		return err
	}
	return nil
}

// ---- intent handlers (event loop only) ----

func (c *Client) joinRoomNow(conversationID string) {
	st := c.rooms.requestJoin(conversationID, c.status.live(), c.emit)
	c.store.setRoom(conversationID, st)
	c.publishRoom(conversationID, st, "")
}

func (c *Client) leaveRoomNow(conversationID string) {
	st := c.rooms.requestLeave(conversationID, c.status.live(), c.emit)
	c.store.setRoom(conversationID, st)
	c.publishRoom(conversationID, st, "")
}

func (c *Client) sendNow(conversationID, clientTempID, content string, attachments []Attachment) {
	m := &OutboundMessage{
		ClientTempID:   clientTempID,
		ConversationID: conversationID,
		Content:        content,
		Attachments:    attachments,
		State:          AckPending,
		CreatedAt:      timeNow(),
	}
	c.outbox.add(m)
	c.store.appendEcho(m)
	c.publishOutbound(m)

	if !c.status.live() {
		c.logger.Debug().Str("conversation_id", conversationID).Msg("send while disconnected stays pending")
		return
	}
	env, err := NewEnvelope(EventSendMessage, SendMessagePayload{
		ConversationID: conversationID,
		ClientTempID:   clientTempID,
		Content:        content,
		Attachments:    attachments,
	})
	if err != nil {
		if failed, ok := c.outbox.fail(clientTempID, err.Error()); ok {
			c.store.failEcho(conversationID, clientTempID, failed.Error)
			c.publishOutbound(failed)
		}
		return
	}
	if c.emit(env) == nil {
		c.outbox.markWritten(clientTempID)
	}
}

func (c *Client) markReadNow(conversationID, messageID string) {
	if !c.status.live() {
		return
	}
	env, err := NewEnvelope(EventMarkRead, MarkReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err == nil {
		_ = c.emit(env)
	}
}

func (c *Client) typingNow(event, conversationID string) {
	if !c.status.live() {
		return
	}
	env, err := NewEnvelope(event, TypingPayload{ConversationID: conversationID})
	if err == nil {
		_ = c.emit(env)
	}
}

// ---- typing expiry sweep ----

// rescheduleSweep arms a timer for the earliest typing expiry so entries
// vanish on time even without an explicit stop event.
func (c *Client) rescheduleSweep() {
	if c.sweepTimer != nil {
		c.sweepTimer.Stop()
		c.sweepTimer = nil
	}
	next, ok := c.presence.nextExpiry()
	if !ok {
		return
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	c.sweepTimer = time.AfterFunc(d, func() { c.post(c.onSweep) })
}

func (c *Client) onSweep() {
	c.sweepTimer = nil
	now := timeNow()
	for _, convID := range c.presence.sweep(now) {
		users := c.presence.typingUsers(convID, now)
		c.store.setTyping(convID, users)
		c.publishTyping(convID, users)
	}
	c.rescheduleSweep()
}

// ---- update publication ----

func (c *Client) setStatus(s Status) {
	if c.status != s {
		c.logger.Info().Str("from", c.status.String()).Str("to", s.String()).Msg("session status")
		c.status = s
	}
	c.publishSession()
}

func (c *Client) publishSession() {
	sess := Session{Status: c.status, RetryCount: c.retryCount, LastError: c.lastErr}
	c.store.setSession(sess)
	c.bus.publish(Update{Kind: UpdateKindSession, Session: &sess})
}

func (c *Client) publishRoom(conversationID string, state RoomState, errMsg string) {
	c.bus.publish(Update{Kind: UpdateKindRoom, Room: &RoomUpdate{
		ConversationID: conversationID,
		State:          state.String(),
		Error:          errMsg,
	}})
}

func (c *Client) publishOutbound(m *OutboundMessage) {
	snapshot := *m
	c.bus.publish(Update{Kind: UpdateKindMessage, Message: &MessageUpdate{
		ConversationID: m.ConversationID,
		Outbound:       &snapshot,
	}})
}

func (c *Client) publishInbound(m Message) {
	c.bus.publish(Update{Kind: UpdateKindMessage, Message: &MessageUpdate{
		ConversationID: m.ConversationID,
		Inbound:        &m,
	}})
}

func (c *Client) publishTyping(conversationID string, userIDs []string) {
	c.bus.publish(Update{Kind: UpdateKindTyping, Typing: &TypingUpdate{
		ConversationID: conversationID,
		UserIDs:        userIDs,
	}})
}

func (c *Client) publishPresence() {
	c.bus.publish(Update{Kind: UpdateKindPresence, Presence: &PresenceUpdate{
		UserIDs: c.presence.onlineUsers(),
		Version: c.presence.version,
	}})
}
