package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	killmailServices "github.com/guarzo/wanderer-kills/internal/killmail/services"
	subscriptionModels "github.com/guarzo/wanderer-kills/internal/subscription/models"
	subscriptionServices "github.com/guarzo/wanderer-kills/internal/subscription/services"
	"github.com/guarzo/wanderer-kills/internal/websocket/models"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256

	// preloadLimit caps how many historical kills a fresh subscription
	// receives per system.
	preloadLimit = 100

	// preloadChunk and preloadYield pace the history replay so a fresh
	// joiner's backlog cannot crowd real-time frames out of the send
	// buffer.
	preloadChunk = 25
	preloadYield = 5 * time.Millisecond
)

// Hub owns the live websocket connections and speaks the killmails:lobby
// protocol. It delivers matched killmails for channel subscriptions and
// trickles recent history to fresh joiners.
type Hub struct {
	manager   *subscriptionServices.Manager
	store     *killmailServices.EventStore
	cutoffAge time.Duration
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*models.Connection // connection id -> connection
	bySub map[string]*models.Connection // subscription id -> connection
}

// NewHub creates a hub over the subscription manager and event store.
func NewHub(manager *subscriptionServices.Manager, store *killmailServices.EventStore, cutoffAge time.Duration) *Hub {
	return &Hub{
		manager:   manager,
		store:     store,
		cutoffAge: cutoffAge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*models.Connection),
		bySub: make(map[string]*models.Connection),
	}
}

// HandleConnection upgrades an HTTP request and runs the connection until
// the client goes away.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		handlers.ErrorResponse(w, handlers.ValidationError("websocket upgrade required"))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := &models.Connection{
		ID:        uuid.New().String(),
		Conn:      ws,
		Send:      make(chan []byte, sendBuffer),
		Done:      make(chan struct{}),
		CreatedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()

	slog.Info("WebSocket connection opened", "connection_id", conn.ID, "remote", r.RemoteAddr)

	go h.writePump(conn)
	h.readPump(conn)
}

func (h *Hub) readPump(conn *models.Connection) {
	defer h.cleanup(conn)

	conn.Conn.SetReadLimit(maxMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read error", "connection_id", conn.ID, "error", err)
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(conn, handlers.ValidationError("malformed message"))
			continue
		}
		h.handleMessage(conn, &msg)
	}
}

func (h *Hub) writePump(conn *models.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case <-conn.Done:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) cleanup(conn *models.Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	if conn.SubscriptionID != "" {
		delete(h.bySub, conn.SubscriptionID)
	}
	h.mu.Unlock()

	if conn.SubscriptionID != "" {
		if err := h.manager.Delete(conn.SubscriptionID); err != nil {
			slog.Debug("Subscription already gone at disconnect",
				"subscription_id", conn.SubscriptionID)
		}
	}
	h.store.RemoveClient(conn.ID)
	close(conn.Done)
	conn.Conn.Close()
	metrics.ActiveConnections.Dec()

	slog.Info("WebSocket connection closed", "connection_id", conn.ID)
}

func (h *Hub) handleMessage(conn *models.Connection, msg *models.ClientMessage) {
	switch msg.Action {
	case models.ActionJoin:
		h.handleJoin(conn, msg)
	case models.ActionSubscribeSystems:
		h.updateFilters(conn, msg.SystemIDs, nil, false)
	case models.ActionUnsubscribeSystems:
		h.updateFilters(conn, msg.SystemIDs, nil, true)
	case models.ActionSubscribeCharacters:
		h.updateFilters(conn, nil, msg.CharacterIDs, false)
	case models.ActionUnsubscribeCharacters:
		h.updateFilters(conn, nil, msg.CharacterIDs, true)
	default:
		h.sendError(conn, handlers.ValidationError("unknown action"))
	}
}

func (h *Hub) handleJoin(conn *models.Connection, msg *models.ClientMessage) {
	if msg.Channel != models.LobbyChannel {
		h.sendError(conn, handlers.ValidationError("unknown channel"))
		return
	}
	if conn.SubscriptionID != "" {
		h.sendError(conn, handlers.ValidationError("already joined"))
		return
	}

	clientID := msg.ClientID
	if clientID == "" {
		clientID = conn.ID
	}

	sub, err := h.manager.Create(subscriptionServices.CreateParams{
		SubscriberID: clientID,
		SystemIDs:    msg.SystemIDs,
		CharacterIDs: msg.CharacterIDs,
		Transport:    subscriptionModels.TransportChannel,
	})
	if err != nil {
		h.sendError(conn, handlers.AsAppError(err))
		return
	}

	conn.SubscriptionID = sub.ID
	conn.ClientID = clientID
	conn.PreloadWindow, conn.PreloadLimit = h.preloadPlan(msg.Preload)
	h.mu.Lock()
	h.bySub[sub.ID] = conn
	h.mu.Unlock()

	h.send(conn, &models.ServerMessage{
		Type:           models.TypeJoined,
		Channel:        models.LobbyChannel,
		SubscriptionID: sub.ID,
		Timestamp:      time.Now().UTC(),
	})

	h.preload(conn, sub.SystemIDs)
}

// updateFilters merges or removes ids on the connection's subscription
// and preloads history for newly watched systems.
func (h *Hub) updateFilters(conn *models.Connection, systemIDs, characterIDs []int64, remove bool) {
	if conn.SubscriptionID == "" {
		h.sendError(conn, handlers.ValidationError("join the channel first"))
		return
	}

	sub, err := h.manager.Get(conn.SubscriptionID)
	if err != nil {
		h.sendError(conn, handlers.AsAppError(err))
		return
	}

	nextSystems := mergeIDs(sub.SystemIDs, systemIDs, remove)
	nextCharacters := mergeIDs(sub.CharacterIDs, characterIDs, remove)
	added := newIDs(sub.SystemIDs, nextSystems)

	updated, err := h.manager.UpdateFilters(conn.SubscriptionID, nextSystems, nextCharacters)
	if err != nil {
		h.sendError(conn, handlers.AsAppError(err))
		return
	}

	h.send(conn, &models.ServerMessage{
		Type:           models.TypeSubscribed,
		Channel:        models.LobbyChannel,
		SubscriptionID: updated.ID,
		Timestamp:      time.Now().UTC(),
	})

	if !remove && len(added) > 0 {
		h.preload(conn, added)
	}
}

// preloadPlan resolves a client's preload request against the server
// defaults. The limit never exceeds preloadLimit.
func (h *Hub) preloadPlan(req *models.PreloadRequest) (time.Duration, int) {
	window, limit := h.cutoffAge, preloadLimit
	if req == nil {
		return window, limit
	}
	if !req.Enabled {
		return window, 0
	}
	if req.SinceHours > 0 {
		window = time.Duration(req.SinceHours) * time.Hour
	}
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	return window, limit
}

// preload trickles recent history for the given systems. It goes through
// the per-client offsets so a system is never replayed to the same
// connection.
func (h *Hub) preload(conn *models.Connection, systemIDs []int64) {
	if len(systemIDs) == 0 || conn.PreloadLimit <= 0 {
		return
	}

	records := h.store.FetchForClient(conn.ID, systemIDs)
	cutoff := time.Now().Add(-conn.PreloadWindow)

	perSystem := make(map[int64][]killmailModels.Killmail)
	for _, record := range records {
		if record.Killmail.KillTime.Before(cutoff) {
			continue
		}
		if len(perSystem[record.SystemID]) >= conn.PreloadLimit {
			continue
		}
		perSystem[record.SystemID] = append(perSystem[record.SystemID], *record.Killmail)
	}

	first := true
	for systemID, kills := range perSystem {
		for start := 0; start < len(kills); start += preloadChunk {
			end := start + preloadChunk
			if end > len(kills) {
				end = len(kills)
			}
			if !first {
				time.Sleep(preloadYield)
			}
			first = false

			h.send(conn, &models.ServerMessage{
				Type:      models.TypeKillmailUpdate,
				Channel:   models.LobbyChannel,
				SystemID:  systemID,
				Timestamp: time.Now().UTC(),
				Kills:     kills[start:end],
				Preload:   true,
			})
		}
	}
}

// DeliverKillmails pushes a combined batch of matched events to the
// connection owning the subscription. It is the ChannelSink the
// subscription manager calls; the batch goes out as one frame per
// system it spans.
func (h *Hub) DeliverKillmails(sub *subscriptionModels.Subscription, records []killmailModels.EventRecord) error {
	h.mu.RLock()
	conn, ok := h.bySub[sub.ID]
	h.mu.RUnlock()
	if !ok {
		return handlers.NotFoundError("no connection for subscription")
	}

	perSystem := make(map[int64][]killmailModels.Killmail)
	order := make([]int64, 0, 1)
	for _, record := range records {
		if _, seen := perSystem[record.SystemID]; !seen {
			order = append(order, record.SystemID)
		}
		perSystem[record.SystemID] = append(perSystem[record.SystemID], *record.Killmail)
	}

	for _, systemID := range order {
		h.send(conn, &models.ServerMessage{
			Type:      models.TypeKillmailUpdate,
			Channel:   models.LobbyChannel,
			SystemID:  systemID,
			Timestamp: time.Now().UTC(),
			Kills:     perSystem[systemID],
		})
	}
	return nil
}

// PushSystemStats sends each joined connection the retained kill counts
// for its watched systems.
func (h *Hub) PushSystemStats() {
	h.mu.RLock()
	conns := make([]*models.Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		if conn.SubscriptionID != "" {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		sub, err := h.manager.Get(conn.SubscriptionID)
		if err != nil || len(sub.SystemIDs) == 0 {
			continue
		}

		stats := make([]models.SystemStat, 0, len(sub.SystemIDs))
		for _, systemID := range sub.SystemIDs {
			stats = append(stats, models.SystemStat{
				SystemID: systemID,
				Kills:    h.store.CountForSystem(systemID),
			})
		}
		h.send(conn, &models.ServerMessage{
			Type:      models.TypeSystemStats,
			Channel:   models.LobbyChannel,
			Timestamp: time.Now().UTC(),
			Stats:     stats,
		})
	}
}

// send queues a frame without blocking. A slow consumer loses frames
// rather than stalling the hub.
func (h *Hub) send(conn *models.Connection, msg *models.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode websocket frame", "error", err)
		return
	}

	select {
	case conn.Send <- data:
	default:
		slog.Warn("WebSocket send buffer full, frame dropped",
			"connection_id", conn.ID, "type", msg.Type)
	}
}

func (h *Hub) sendError(conn *models.Connection, appErr *handlers.AppError) {
	h.send(conn, &models.ServerMessage{
		Type:      models.TypeError,
		Timestamp: time.Now().UTC(),
		Error: &models.ErrorDetail{
			Type:    string(appErr.Type),
			Message: appErr.Message,
			Code:    appErr.Code,
		},
	})
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func mergeIDs(current, delta []int64, remove bool) []int64 {
	set := make(map[int64]struct{}, len(current)+len(delta))
	for _, id := range current {
		set[id] = struct{}{}
	}
	for _, id := range delta {
		if remove {
			delete(set, id)
		} else {
			set[id] = struct{}{}
		}
	}

	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// newIDs returns the ids present in next but not in prev.
func newIDs(prev, next []int64) []int64 {
	seen := make(map[int64]struct{}, len(prev))
	for _, id := range prev {
		seen[id] = struct{}{}
	}

	var out []int64
	for _, id := range next {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
