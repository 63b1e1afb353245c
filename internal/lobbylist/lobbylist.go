// Package lobbylist implements the lobby-list subscription: an enriched,
// paged, status-filtered view over every lobby, kept live by broadcasting
// incremental row updates to subscribers whenever a lobby's state changes.
//
// Each row merges external.RelationalStore metadata with
// store.LobbyStateRepository's live runtime state.
package lobbylist

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacks-wars/lobbyd/internal/apperror"
	"github.com/stacks-wars/lobbyd/internal/external"
	"github.com/stacks-wars/lobbyd/internal/hub"
	"github.com/stacks-wars/lobbyd/internal/protocol"
	"github.com/stacks-wars/lobbyd/internal/rtmodels"
	"github.com/stacks-wars/lobbyd/internal/store"
)

// Service answers paged lobby-list queries and publishes incremental row
// updates to hub subscribers.
type Service struct {
	logger       *logrus.Logger
	hub          *hub.Hub
	relational   external.RelationalStore
	lobbies      *store.LobbyStateRepository
	defaultLimit int
}

func NewService(logger *logrus.Logger, h *hub.Hub, relational external.RelationalStore, lobbies *store.LobbyStateRepository, defaultLimit int) *Service {
	return &Service{logger: logger, hub: h, relational: relational, lobbies: lobbies, defaultLimit: defaultLimit}
}

// NormalizeFilter canonicalizes a set of status strings into the opaque
// hub.Context filter key: sorted, comma-joined, empty meaning "all
// statuses". Used both for registering a subscriber's hub bucket and for
// testing whether a given status falls inside a subscriber's filter.
func NormalizeFilter(statuses []string) string {
	clean := make([]string, 0, len(statuses))
	for _, s := range statuses {
		s = strings.TrimSpace(s)
		if s != "" {
			clean = append(clean, s)
		}
	}
	sort.Strings(clean)
	return strings.Join(clean, ",")
}

// ParseFilter splits a comma-separated status query/subscribe value into
// its normalized filter key and the underlying status slice the relational
// store's paging query expects.
func ParseFilter(raw string) (filterKey string, statuses []string) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	parts := strings.Split(raw, ",")
	return NormalizeFilter(parts), normalizedParts(parts)
}

func normalizedParts(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// FilterMatches reports whether status belongs to the set described by a
// normalized filter key ("" matches every status).
func FilterMatches(filterKey, status string) bool {
	if filterKey == "" {
		return true
	}
	for _, s := range strings.Split(filterKey, ",") {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Service) limitOrDefault(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return limit
}

// Page builds one page of the enriched lobby list for the given status
// filter. A row that fails to enrich (missing runtime state, relational
// lookup failure) is logged and omitted rather than failing the whole
// page.
func (s *Service) Page(ctx context.Context, statuses []string, offset, limit int) (*protocol.LobbyListPayload, error) {
	limit = s.limitOrDefault(limit)
	if offset < 0 {
		offset = 0
	}

	ids, total, err := s.relational.FindLobbiesByStatuses(ctx, statuses, offset, limit)
	if err != nil {
		return nil, apperror.FetchFailed(err)
	}

	runtimes, err := s.lobbies.GetBatch(ctx, ids)
	if err != nil {
		return nil, apperror.FetchFailed(err)
	}

	rows := make([]protocol.LobbyListRow, 0, len(ids))
	for _, id := range ids {
		row, ok := s.buildRow(ctx, id, runtimes[id])
		if !ok {
			continue
		}
		rows = append(rows, *row)
	}

	return &protocol.LobbyListPayload{
		Rows:   rows,
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Status: NormalizeFilter(statuses),
	}, nil
}

// buildRow joins one lobby's relational metadata onto its runtime state.
// rt may be nil (the lobby has no live runtime record yet); that lobby is
// then skipped and logged as a warning.
func (s *Service) buildRow(ctx context.Context, lobbyID uuid.UUID, rt *rtmodels.LobbyRuntimeState) (*protocol.LobbyListRow, bool) {
	if rt == nil {
		s.logger.WithField("lobby_id", lobbyID).Warn("lobbylist: no runtime state for lobby, omitting row")
		return nil, false
	}

	meta, err := s.relational.FindLobbyByID(ctx, lobbyID)
	if err != nil {
		s.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("lobbylist: failed to enrich lobby metadata, omitting row")
		return nil, false
	}

	hostUsername := ""
	if profile, err := s.relational.FindUserByID(ctx, meta.HostUserID); err == nil {
		hostUsername = profile.Username
	} else {
		s.logger.WithError(err).WithField("user_id", meta.HostUserID).Warn("lobbylist: failed to enrich host profile")
	}

	return &protocol.LobbyListRow{
		LobbyID:       lobbyID.String(),
		GamePath:      meta.GamePath,
		Status:        string(rt.Status),
		HostUserID:    meta.HostUserID.String(),
		HostUsername:  hostUsername,
		PlayerCount:   len(rt.Participants),
		MaxPlayers:    meta.MaxPlayers,
		CurrentAmount: rt.CurrentAmount,
		IsPrivate:     meta.IsPrivate,
	}, true
}

// PublishUpdate pushes a single-row incremental update for lobbyID to every
// subscriber whose filter is empty or contains that lobby's current status,
// via hub.BroadcastLobbyList. A lobby that fails to enrich is
// logged and silently skipped, the same as a Page row. Implements
// room.ListNotifier.
func (s *Service) PublishUpdate(ctx context.Context, lobbyID uuid.UUID) {
	rt, err := s.lobbies.Get(ctx, lobbyID)
	if err != nil {
		s.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("lobbylist: failed to load runtime state for publish")
		return
	}
	row, ok := s.buildRow(ctx, lobbyID, rt)
	if !ok {
		return
	}

	payload := protocol.LobbyListPayload{Rows: []protocol.LobbyListRow{*row}, Total: 1}
	msg, err := protocol.Marshal(protocol.ServerLobbyList, payload)
	if err != nil {
		s.logger.WithError(err).Error("lobbylist: failed to marshal incremental update")
		return
	}

	s.hub.BroadcastLobbyList(string(rt.Status), msg)
}
