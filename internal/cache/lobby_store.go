package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/store"
)

// waitingIndexKey is a sorted set of waiting lobby ids scored by population,
// then creation time. Equal scores fall back to member order, and lobby ids
// are time-ordered UUIDs.
const waitingIndexKey = "lobbies:waiting"

// RedisLobbyStore keeps lobbies in Redis. Each lobby is a JSON document with a
// key TTL matching its expiry; members live in a sibling hash.
type RedisLobbyStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisLobbyStore wraps an existing client.
func NewRedisLobbyStore(rdb *redis.Client) *RedisLobbyStore {
	return &RedisLobbyStore{rdb: rdb, now: time.Now}
}

func lobbyKey(id string) string   { return "lobby:" + id }
func playersKey(id string) string { return "lobby:" + id + ":players" }

func waitingScore(l *models.Lobby) float64 {
	return float64(l.PlayerCount)*1e13 + float64(l.CreatedAt.UnixMilli())
}

// writeLobby queues every write that keeps the document, its TTL and the
// waiting index consistent.
func writeLobby(ctx context.Context, pipe redis.Pipeliner, l *models.Lobby, data []byte) {
	pipe.Set(ctx, lobbyKey(l.ID), data, 0)
	if !l.ExpiresAt.IsZero() {
		pipe.PExpireAt(ctx, lobbyKey(l.ID), l.ExpiresAt)
		pipe.PExpireAt(ctx, playersKey(l.ID), l.ExpiresAt)
	}
	if l.Status == models.StatusWaiting {
		pipe.ZAdd(ctx, waitingIndexKey, redis.Z{Score: waitingScore(l), Member: l.ID})
	} else {
		pipe.ZRem(ctx, waitingIndexKey, l.ID)
	}
}

func (s *RedisLobbyStore) CreateLobby(ctx context.Context, lobby *models.Lobby, first models.LobbyPlayer) error {
	data, err := json.Marshal(lobby)
	if err != nil {
		return fmt.Errorf("marshal lobby: %w", err)
	}
	member, err := json.Marshal(first)
	if err != nil {
		return fmt.Errorf("marshal player: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, playersKey(lobby.ID), first.PlayerID, member)
		writeLobby(ctx, pipe, lobby, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create lobby %s: %w", lobby.ID, err)
	}
	return nil
}

// getter is satisfied by both *redis.Client and a watched *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisLobbyStore) load(ctx context.Context, g getter, id string) (*models.Lobby, error) {
	raw, err := g.Get(ctx, lobbyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lobby %s: %w", id, err)
	}
	var l models.Lobby
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lobby %s: %w", id, err)
	}
	if l.Expired(s.now()) {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *RedisLobbyStore) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *RedisLobbyStore) FindWaiting(ctx context.Context) (*models.Lobby, error) {
	for {
		ids, err := s.rdb.ZRange(ctx, waitingIndexKey, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("query waiting index: %w", err)
		}
		if len(ids) == 0 {
			return nil, store.ErrNotFound
		}
		l, err := s.load(ctx, s.rdb, ids[0])
		if err == nil && l.Status == models.StatusWaiting {
			return l, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// Stale index entry: the lobby expired or moved on.
		if err := s.rdb.ZRem(ctx, waitingIndexKey, ids[0]).Err(); err != nil {
			return nil, fmt.Errorf("prune waiting index: %w", err)
		}
	}
}

func (s *RedisLobbyStore) CompareAndSwap(ctx context.Context, id string, u store.Update) (*models.Lobby, error) {
	var result *models.Lobby
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Condition != nil && !u.Condition(cur.Clone()) {
			return store.ErrConditionFailed
		}
		next := cur.Clone()
		if u.Apply != nil {
			u.Apply(next)
		}
		next.Version = cur.Version + 1

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal lobby: %w", err)
		}
		var member []byte
		if u.AddPlayer != nil {
			if member, err = json.Marshal(u.AddPlayer); err != nil {
				return fmt.Errorf("marshal player: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if member != nil {
				pipe.HSet(ctx, playersKey(id), u.AddPlayer.PlayerID, member)
			}
			writeLobby(ctx, pipe, next, data)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}, lobbyKey(id))

	if errors.Is(err, redis.TxFailedErr) {
		return nil, store.ErrConditionFailed
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisLobbyStore) SetPlayerRole(ctx context.Context, lobbyID, playerID, role string) error {
	if _, err := s.load(ctx, s.rdb, lobbyID); err != nil {
		return err
	}
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, playersKey(lobbyID), playerID).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("player %s in lobby %s: %w", playerID, lobbyID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var p models.LobbyPlayer
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode player %s: %w", playerID, err)
		}
		p.Role = role
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, playersKey(lobbyID), playerID, data)
			return nil
		})
		return err
	}, playersKey(lobbyID))
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConditionFailed
	}
	return err
}

func (s *RedisLobbyStore) ListPlayers(ctx context.Context, lobbyID string) ([]models.LobbyPlayer, error) {
	if _, err := s.load(ctx, s.rdb, lobbyID); err != nil {
		return nil, err
	}
	raw, err := s.rdb.HGetAll(ctx, playersKey(lobbyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list players of %s: %w", lobbyID, err)
	}
	players := make([]models.LobbyPlayer, 0, len(raw))
	for id, v := range raw {
		var p models.LobbyPlayer
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode player %s: %w", id, err)
		}
		players = append(players, p)
	}
	store.SortPlayers(players)
	return players, nil
}

// PurgeExpired drops index entries whose lobby has expired. Key TTLs reclaim
// the documents themselves.
func (s *RedisLobbyStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rdb.ZRange(ctx, waitingIndexKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan waiting index: %w", err)
	}
	purged := 0
	for _, id := range ids {
		l, err := s.load(ctx, s.rdb, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return purged, err
		}
		if err == nil && !l.Expired(now) {
			continue
		}
		if err := s.rdb.Del(ctx, lobbyKey(id), playersKey(id)).Err(); err != nil {
			return purged, err
		}
		if err := s.rdb.ZRem(ctx, waitingIndexKey, id).Err(); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
