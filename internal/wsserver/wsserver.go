// Package wsserver exposes the two socket endpoints: /ws/room/{lobby_id}
// (the room engine) and /ws/lobbies (the lobby-list subscription). Each
// upgrade registers a hub connection, starts a write pump draining its
// outbound queue, and runs a read loop until the socket closes.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacks-wars/lobbyd/internal/config"
	"github.com/stacks-wars/lobbyd/internal/external"
	"github.com/stacks-wars/lobbyd/internal/hub"
	"github.com/stacks-wars/lobbyd/internal/lobbylist"
	"github.com/stacks-wars/lobbyd/internal/middleware"
	"github.com/stacks-wars/lobbyd/internal/protocol"
	"github.com/stacks-wars/lobbyd/internal/room"
)

// Server wires the identity extractor, hub, room manager, and lobby-list
// service into the two HTTP upgrade handlers.
type Server struct {
	logger   *logrus.Logger
	hub      *hub.Hub
	identity *external.IdentityExtractor
	rooms    *room.Manager
	lists    *lobbylist.Service
	cfg      config.Config
}

func New(logger *logrus.Logger, h *hub.Hub, identity *external.IdentityExtractor, rooms *room.Manager, lists *lobbylist.Service, cfg config.Config) *Server {
	return &Server{logger: logger, hub: h, identity: identity, rooms: rooms, lists: lists, cfg: cfg}
}

// writePump drains a hub connection's outbound queue onto the websocket
// until ctx is canceled or the write fails.
func writePump(ctx context.Context, c *websocket.Conn, conn *hub.Conn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
				logger.Debugf("wsserver: write failed for connection %s: %v", conn.ID, err)
				return
			}
		}
	}
}

func lobbyIDFromPath(path, prefix string) (uuid.UUID, bool) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.SplitN(rest, "/", 2)[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// RoomHandler upgrades and serves one room connection.
func (s *Server) RoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, ok := lobbyIDFromPath(r.URL.Path, "/ws/room")
		if !ok {
			http.Error(w, "missing or invalid lobby_id", http.StatusBadRequest)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			s.logger.Warnf("wsserver: room accept failed: %v", err)
			return
		}

		identity := s.identity.ResolveRoom(r.Context(), r)
		userID := uuid.Nil
		if identity.Claims != nil {
			userID = identity.Claims.UserID
		}

		conn := hub.Register(s.hub, userID, hub.RoomContext(lobbyID))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		engine := s.rooms.Get(lobbyID)
		if err := engine.Bootstrap(r.Context(), conn.ID, identity); err != nil {
			s.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("wsserver: room bootstrap failed")
			s.hub.Unregister(conn)
			c.Close(websocket.StatusPolicyViolation, "lobby not found")
			return
		}

		middleware.LogSocketConnect(s.logger, r.RemoteAddr, r.URL.Path, lobbyID.String(), userID == uuid.Nil)

		go writePump(ctx, c, conn, s.logger)
		err = s.roomReadLoop(ctx, c, conn, engine, identity)

		s.hub.Unregister(conn)
		middleware.LogSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
		c.Close(websocket.StatusNormalClosure, "closing")
	}
}

func (s *Server) roomReadLoop(ctx context.Context, c *websocket.Conn, conn *hub.Conn, engine *room.Room, identity external.Identity) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		env, err := protocol.DecodeClientEnvelope(data)
		if err != nil {
			s.hub.Send(conn.ID, protocol.MarshalError("INVALID_MESSAGE", "malformed message envelope"))
			continue
		}
		s.dispatchRoomMessage(ctx, conn.ID, engine, identity.Claims, env)
	}
}

func (s *Server) dispatchRoomMessage(ctx context.Context, connID uuid.UUID, engine *room.Room, claims *external.Claims, env protocol.ClientEnvelope) {
	switch env.Type {
	case protocol.ClientJoin:
		engine.Join(ctx, connID, claims)

	case protocol.ClientLeave:
		engine.Leave(ctx, connID, claims)

	case protocol.ClientRequestJoin:
		engine.RequestJoin(ctx, connID, claims)

	case protocol.ClientApproveJoin:
		var p protocol.UserTargetPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid approveJoin payload"))
			return
		}
		engine.ApproveJoin(ctx, connID, claims, p.UserID)

	case protocol.ClientRejectJoin:
		var p protocol.UserTargetPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid rejectJoin payload"))
			return
		}
		engine.RejectJoin(ctx, connID, claims, p.UserID)

	case protocol.ClientKick:
		var p protocol.UserTargetPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid kick payload"))
			return
		}
		engine.Kick(ctx, connID, claims, p.UserID)

	case protocol.ClientUpdateLobbyStatus:
		var p protocol.UpdateLobbyStatusPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid updateLobbyStatus payload"))
			return
		}
		engine.UpdateLobbyStatus(ctx, connID, claims, p.Status)

	case protocol.ClientSendMessage:
		var p protocol.SendMessagePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid sendMessage payload"))
			return
		}
		engine.SendMessage(ctx, connID, claims, p)

	case protocol.ClientAddReaction:
		var p protocol.ReactionPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid addReaction payload"))
			return
		}
		engine.AddReaction(ctx, connID, claims, p)

	case protocol.ClientRemoveReaction:
		var p protocol.ReactionPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid removeReaction payload"))
			return
		}
		engine.RemoveReaction(ctx, connID, claims, p)

	case protocol.ClientPing:
		engine.Ping(ctx, connID, claims)

	case protocol.ClientGameAction:
		var p protocol.GameActionPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "invalid gameAction payload"))
			return
		}
		engine.SubmitGameAction(ctx, connID, claims, p.Action)

	default:
		s.hub.Send(connID, protocol.MarshalError("INVALID_MESSAGE", "unknown message type"))
	}
}

// LobbyListHandler upgrades and serves one lobby-list subscription.
func (s *Server) LobbyListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			s.logger.Warnf("wsserver: lobby-list accept failed: %v", err)
			return
		}

		identity := s.identity.ResolveLobbyList(r.Context(), r)
		userID := uuid.Nil
		if identity.Claims != nil {
			userID = identity.Claims.UserID
		}

		filterKey, statuses := lobbylist.ParseFilter(r.URL.Query().Get("status"))
		conn := hub.Register(s.hub, userID, hub.LobbyListContext(filterKey))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		middleware.LogSocketConnect(s.logger, r.RemoteAddr, r.URL.Path, "", userID == uuid.Nil)

		s.sendLobbyListPage(r.Context(), conn.ID, statuses, 0, s.cfg.LobbyListPageSize)

		go writePump(ctx, c, conn, s.logger)
		err = s.lobbyListReadLoop(ctx, c, conn, statuses)

		s.hub.Unregister(conn)
		middleware.LogSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
		c.Close(websocket.StatusNormalClosure, "closing")
	}
}

func (s *Server) sendLobbyListPage(ctx context.Context, connID uuid.UUID, statuses []string, offset, limit int) {
	page, err := s.lists.Page(ctx, statuses, offset, limit)
	if err != nil {
		s.hub.Send(connID, protocol.MarshalError("FETCH_FAILED", "failed to fetch lobby list"))
		return
	}
	msg, err := protocol.Marshal(protocol.ServerLobbyList, page)
	if err != nil {
		s.logger.WithError(err).Error("wsserver: failed to marshal lobby list page")
		return
	}
	s.hub.Send(connID, msg)
}

func (s *Server) lobbyListReadLoop(ctx context.Context, c *websocket.Conn, conn *hub.Conn, statuses []string) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		env, err := protocol.DecodeClientEnvelope(data)
		if err != nil {
			s.hub.Send(conn.ID, protocol.MarshalError("INVALID_MESSAGE", "malformed message envelope"))
			continue
		}

		switch env.Type {
		case protocol.ClientSubscribe:
			var p protocol.SubscribePayload
			if err := json.Unmarshal(env.Raw, &p); err != nil {
				s.hub.Send(conn.ID, protocol.MarshalError("INVALID_MESSAGE", "invalid subscribe payload"))
				continue
			}
			var raw string
			if p.Status != nil {
				raw = *p.Status
			}
			var filterKey string
			filterKey, statuses = lobbylist.ParseFilter(raw)
			s.hub.Recontext(conn, hub.LobbyListContext(filterKey))
			s.sendLobbyListPage(ctx, conn.ID, statuses, 0, p.Limit)

		case protocol.ClientLoadMore:
			var p protocol.LoadMorePayload
			if err := json.Unmarshal(env.Raw, &p); err != nil {
				s.hub.Send(conn.ID, protocol.MarshalError("INVALID_MESSAGE", "invalid loadMore payload"))
				continue
			}
			s.sendLobbyListPage(ctx, conn.ID, statuses, p.Offset, p.Limit)

		default:
			s.hub.Send(conn.ID, protocol.MarshalError("INVALID_MESSAGE", "unknown message type"))
		}
	}
}
