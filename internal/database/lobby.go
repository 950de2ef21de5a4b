package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS lobbies (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	player_count    INT NOT NULL,
	max_players     INT NOT NULL,
	players         TEXT[] NOT NULL DEFAULT '{}',
	server_endpoint TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ,
	version         BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS lobbies_status_population_idx
	ON lobbies (status, player_count, created_at, id);
CREATE TABLE IF NOT EXISTS lobby_players (
	lobby_id    TEXT NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
	player_id   TEXT NOT NULL,
	player_name TEXT NOT NULL,
	role        TEXT NOT NULL DEFAULT '',
	joined_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (lobby_id, player_id)
);
`

const selectLobby = `
	SELECT id, status, player_count, max_players, players,
	       server_endpoint, created_at, expires_at, version
	FROM lobbies
`

// notExpired is appended to lobby reads; $1 is reserved for the clock.
const notExpired = `(expires_at IS NULL OR expires_at > $1)`

// PostgresLobbyStore keeps lobbies in PostgreSQL. Compare-and-swap is done
// with a version column: the update only applies if nobody wrote in between.
type PostgresLobbyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresLobbyStore wraps an existing pool.
func NewPostgresLobbyStore(pool *pgxpool.Pool) *PostgresLobbyStore {
	return &PostgresLobbyStore{pool: pool, now: time.Now}
}

// Migrate creates the lobby tables if they do not exist.
func (s *PostgresLobbyStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate lobby schema: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanLobby(row pgx.Row) (*models.Lobby, error) {
	var (
		l         models.Lobby
		status    string
		expiresAt *time.Time
	)
	err := row.Scan(
		&l.ID,
		&status,
		&l.PlayerCount,
		&l.MaxPlayers,
		&l.Players,
		&l.ServerEndpoint,
		&l.CreatedAt,
		&expiresAt,
		&l.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Status = models.LobbyStatus(status)
	if expiresAt != nil {
		l.ExpiresAt = *expiresAt
	}
	return &l, nil
}

func insertPlayer(ctx context.Context, tx pgx.Tx, lobbyID string, p models.LobbyPlayer) error {
	q := `
	INSERT INTO lobby_players (lobby_id, player_id, player_name, role, joined_at)
	VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Exec(ctx, q, lobbyID, p.PlayerID, p.PlayerName, p.Role, p.JoinedAt)
	return err
}

func (s *PostgresLobbyStore) CreateLobby(ctx context.Context, lobby *models.Lobby, first models.LobbyPlayer) error {
	q := `
	INSERT INTO lobbies (
		id, status, player_count, max_players, players,
		server_endpoint, created_at, expires_at, version
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			lobby.ID,
			string(lobby.Status),
			lobby.PlayerCount,
			lobby.MaxPlayers,
			lobby.Players,
			lobby.ServerEndpoint,
			lobby.CreatedAt,
			nullTime(lobby.ExpiresAt),
			lobby.Version,
		)
		if err != nil {
			return err
		}
		return insertPlayer(ctx, tx, lobby.ID, first)
	})
	if err != nil {
		return fmt.Errorf("create lobby %s: %w", lobby.ID, err)
	}
	return nil
}

func (s *PostgresLobbyStore) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	return scanLobby(s.pool.QueryRow(ctx, selectLobby+` WHERE id = $2 AND `+notExpired, s.now(), id))
}

func (s *PostgresLobbyStore) FindWaiting(ctx context.Context) (*models.Lobby, error) {
	q := selectLobby + ` WHERE status = $2 AND ` + notExpired + `
		ORDER BY player_count ASC, created_at ASC, id ASC
		LIMIT 1`
	return scanLobby(s.pool.QueryRow(ctx, q, s.now(), string(models.StatusWaiting)))
}

func (s *PostgresLobbyStore) CompareAndSwap(ctx context.Context, id string, u store.Update) (*models.Lobby, error) {
	var result *models.Lobby
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		cur, err := scanLobby(tx.QueryRow(ctx, selectLobby+` WHERE id = $2 AND `+notExpired, s.now(), id))
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

		q := `
		UPDATE lobbies
		SET status = $3, player_count = $4, max_players = $5, players = $6,
		    server_endpoint = $7, expires_at = $8, version = $9
		WHERE id = $1 AND version = $2
		`
		tag, err := tx.Exec(ctx, q,
			id,
			cur.Version,
			string(next.Status),
			next.PlayerCount,
			next.MaxPlayers,
			next.Players,
			next.ServerEndpoint,
			nullTime(next.ExpiresAt),
			next.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrConditionFailed
		}
		if u.AddPlayer != nil {
			if err := insertPlayer(ctx, tx, id, *u.AddPlayer); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresLobbyStore) SetPlayerRole(ctx context.Context, lobbyID, playerID, role string) error {
	if _, err := s.GetLobby(ctx, lobbyID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE lobby_players SET role = $3 WHERE lobby_id = $1 AND player_id = $2`,
		lobbyID, playerID, role)
	if err != nil {
		return fmt.Errorf("set role of %s: %w", playerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s in lobby %s: %w", playerID, lobbyID, store.ErrNotFound)
	}
	return nil
}

func (s *PostgresLobbyStore) ListPlayers(ctx context.Context, lobbyID string) ([]models.LobbyPlayer, error) {
	if _, err := s.GetLobby(ctx, lobbyID); err != nil {
		return nil, err
	}
	q := `
		SELECT player_id, player_name, role, joined_at
		FROM lobby_players
		WHERE lobby_id = $1
		ORDER BY joined_at, player_id
	`
	rows, err := s.pool.Query(ctx, q, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []models.LobbyPlayer{}
	for rows.Next() {
		var p models.LobbyPlayer
		if err := rows.Scan(&p.PlayerID, &p.PlayerName, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *PostgresLobbyStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lobbies WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired lobbies: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
