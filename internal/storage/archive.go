// Package storage archives completed conversation turns to SQLite so
// trust and persona decisions can be audited after the fact.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// TurnRecord is one archived conversation turn.
type TurnRecord struct {
	ID          int64     `json:"id"`
	SpeakerUUID string    `json:"speaker_uuid"`
	TempID      string    `json:"temp_id,omitempty"`
	Persona     string    `json:"persona"`
	Intent      string    `json:"intent,omitempty"`
	TrustScore  float64   `json:"trust_score"`
	Role        string    `json:"role"`
	ContextMode string    `json:"context_mode"`
	Utterance   string    `json:"utterance"`
	Response    string    `json:"response"`
	OK          bool      `json:"ok"`
	RoomID      string    `json:"room_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Archive provides persistent turn history.
type Archive struct {
	db *sql.DB
}

// NewArchive opens or creates the archive database.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode keeps readers from blocking the write path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("turn archive initialized", "path", dbPath)
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		speaker_uuid TEXT NOT NULL,
		temp_id TEXT NOT NULL DEFAULT '',
		persona TEXT NOT NULL,
		intent TEXT NOT NULL DEFAULT '',
		trust_score REAL NOT NULL,
		role TEXT NOT NULL,
		context_mode TEXT NOT NULL,
		utterance TEXT NOT NULL,
		response TEXT NOT NULL,
		ok INTEGER NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_turns_speaker ON turns(speaker_uuid);
	CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_persona ON turns(persona);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveTurn appends one turn.
func (a *Archive) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO turns
		(speaker_uuid, temp_id, persona, intent, trust_score, role, context_mode, utterance, response, ok, room_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SpeakerUUID,
		rec.TempID,
		rec.Persona,
		rec.Intent,
		rec.TrustScore,
		rec.Role,
		rec.ContextMode,
		rec.Utterance,
		rec.Response,
		rec.OK,
		rec.RoomID,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// ListTurnsOptions filters and paginates turn listing.
type ListTurnsOptions struct {
	Limit       int
	Offset      int
	SpeakerUUID string
	Persona     string
	Since       *time.Time
	Until       *time.Time
}

// ListTurns retrieves archived turns, newest first.
func (a *Archive) ListTurns(ctx context.Context, opts ListTurnsOptions) ([]TurnRecord, error) {
	query := `
		SELECT id, speaker_uuid, temp_id, persona, intent, trust_score, role, context_mode, utterance, response, ok, room_id, created_at
		FROM turns WHERE 1=1`

	args := []any{}

	if opts.SpeakerUUID != "" {
		query += " AND speaker_uuid = ?"
		args = append(args, opts.SpeakerUUID)
	}
	if opts.Persona != "" {
		query += " AND persona = ?"
		args = append(args, opts.Persona)
	}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, *opts.Until)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		err := rows.Scan(
			&rec.ID,
			&rec.SpeakerUUID,
			&rec.TempID,
			&rec.Persona,
			&rec.Intent,
			&rec.TrustScore,
			&rec.Role,
			&rec.ContextMode,
			&rec.Utterance,
			&rec.Response,
			&rec.OK,
			&rec.RoomID,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats are aggregate archive statistics.
type Stats struct {
	TotalTurns      int64            `json:"total_turns"`
	TurnsByPersona  map[string]int64 `json:"turns_by_persona"`
	TurnsByRole     map[string]int64 `json:"turns_by_role"`
	UniqueSpeakers  int64            `json:"unique_speakers"`
	AvgTrustScore   float64          `json:"avg_trust_score"`
	FailedTurnCount int64            `json:"failed_turn_count"`
}

// GetStats computes aggregate statistics, optionally bounded below.
func (a *Archive) GetStats(ctx context.Context, since *time.Time) (*Stats, error) {
	stats := &Stats{
		TurnsByPersona: make(map[string]int64),
		TurnsByRole:    make(map[string]int64),
	}

	whereClause := "WHERE 1=1"
	args := []any{}
	if since != nil {
		whereClause += " AND created_at >= ?"
		args = append(args, *since)
	}

	row := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT speaker_uuid),
			COALESCE(AVG(trust_score), 0),
			COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0)
		FROM turns %s`, whereClause), args...)
	if err := row.Scan(&stats.TotalTurns, &stats.UniqueSpeakers, &stats.AvgTrustScore, &stats.FailedTurnCount); err != nil {
		return nil, fmt.Errorf("failed to get aggregate stats: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`SELECT persona, COUNT(*) FROM turns %s GROUP BY persona`, whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get persona stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var persona string
		var count int64
		if err := rows.Scan(&persona, &count); err != nil {
			return nil, err
		}
		stats.TurnsByPersona[persona] = count
	}

	rows, err = a.db.QueryContext(ctx, fmt.Sprintf(`SELECT role, COUNT(*) FROM turns %s GROUP BY role`, whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var count int64
		if err := rows.Scan(&role, &count); err != nil {
			return nil, err
		}
		stats.TurnsByRole[role] = count
	}

	return stats, nil
}

// Cleanup removes turns older than the retention window.
func (a *Archive) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := a.db.Exec("DELETE FROM turns WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old turns: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		slog.Info("cleaned up old turns", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}
