package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/go-sql-driver/mysql"
)

// MariaStore реализует Store для MariaDB/MySQL.
// Использует таблицу battle_replays: поля описания плюс JSON-документ.
type MariaStore struct {
	db    *sql.DB
	codec *Codec
}

// NewMariaStore подключается к базе и создаёт таблицу при необходимости.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname); parseTime включается принудительно
func NewMariaStore(dsn string, codec *Codec) (*MariaStore, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("неверная строка подключения MariaDB: %w", err)
	}
	mc.ParseTime = true

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaStore{db: db, codec: codec}
	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return store, nil
}

func (r *MariaStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS battle_replays (
			id              VARCHAR(64)  PRIMARY KEY,
			territory_id    VARCHAR(64)  NOT NULL DEFAULT '',
			territory_name  VARCHAR(255) NOT NULL DEFAULT '',
			attacker_id     VARCHAR(64)  NOT NULL DEFAULT '',
			attacker_name   VARCHAR(255) NOT NULL DEFAULT '',
			defender_id     VARCHAR(64)  NOT NULL DEFAULT '',
			defender_name   VARCHAR(255) NOT NULL DEFAULT '',
			start_time      DATETIME(3)  NULL,
			duration        DOUBLE       NOT NULL DEFAULT 0,
			attacker_won    BOOLEAN      NOT NULL DEFAULT FALSE,
			event_count     INT          NOT NULL DEFAULT 0,
			highlight_count INT          NOT NULL DEFAULT 0,
			document        LONGBLOB     NOT NULL,
			INDEX idx_territory_start (territory_id, start_time),
			INDEX idx_attacker (attacker_id),
			INDEX idx_defender (defender_id)
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы battle_replays: %w", err)
	}
	return nil
}

// Save использует INSERT ... ON DUPLICATE KEY UPDATE для перезаписи.
func (r *MariaStore) Save(ctx context.Context, s *battle.Session) (string, error) {
	doc, err := r.codec.EncodeSession(s)
	if err != nil {
		return "", err
	}
	sum := s.Summary()

	var start sql.NullTime
	if !sum.StartTime.IsZero() {
		start = sql.NullTime{Time: sum.StartTime.UTC(), Valid: true}
	}

	query := `
		INSERT INTO battle_replays (id, territory_id, territory_name, attacker_id, attacker_name,
			defender_id, defender_name, start_time, duration, attacker_won, event_count, highlight_count, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			territory_id = VALUES(territory_id),
			territory_name = VALUES(territory_name),
			attacker_id = VALUES(attacker_id),
			attacker_name = VALUES(attacker_name),
			defender_id = VALUES(defender_id),
			defender_name = VALUES(defender_name),
			start_time = VALUES(start_time),
			duration = VALUES(duration),
			attacker_won = VALUES(attacker_won),
			event_count = VALUES(event_count),
			highlight_count = VALUES(highlight_count),
			document = VALUES(document)
	`
	_, err = r.db.ExecContext(ctx, query,
		sum.ID, sum.TerritoryID, sum.TerritoryName, sum.AttackerID, sum.AttackerName,
		sum.DefenderID, sum.DefenderName, start, sum.Duration, sum.AttackerWon,
		sum.EventCount, sum.HighlightCount, doc)
	if err != nil {
		return "", fmt.Errorf("ошибка сохранения сессии %s: %w", s.ID, err)
	}
	return s.ID, nil
}

func (r *MariaStore) Load(ctx context.Context, id string) (*battle.Session, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx, `SELECT document FROM battle_replays WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки сессии %s: %w", id, err)
	}
	return r.codec.DecodeSession(doc)
}

// summaryQuery строит запрос списка по фильтру
func summaryQuery(filter SummaryFilter, limit int) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.TerritoryID != "" {
		where = append(where, "territory_id = ?")
		args = append(args, filter.TerritoryID)
	}
	if filter.PlayerID != "" {
		where = append(where, "(attacker_id = ? OR defender_id = ?)")
		args = append(args, filter.PlayerID, filter.PlayerID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, filter.Since.UTC())
	}

	var b strings.Builder
	b.WriteString(`SELECT id, territory_id, territory_name, attacker_id, attacker_name, defender_id,
		defender_name, start_time, duration, attacker_won, event_count, highlight_count FROM battle_replays`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY start_time DESC, id ASC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}

func (r *MariaStore) ListSummaries(ctx context.Context, filter SummaryFilter, limit int) ([]battle.SessionSummary, error) {
	query, args := summaryQuery(filter, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса списка сессий: %w", err)
	}
	defer rows.Close()

	var list []battle.SessionSummary
	for rows.Next() {
		var (
			sum   battle.SessionSummary
			start sql.NullTime
		)
		err := rows.Scan(&sum.ID, &sum.TerritoryID, &sum.TerritoryName, &sum.AttackerID, &sum.AttackerName,
			&sum.DefenderID, &sum.DefenderName, &start, &sum.Duration, &sum.AttackerWon,
			&sum.EventCount, &sum.HighlightCount)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		if start.Valid {
			sum.StartTime = start.Time.UTC()
		}
		list = append(list, sum)
	}
	return list, rows.Err()
}

func (r *MariaStore) Close() error {
	return r.db.Close()
}
