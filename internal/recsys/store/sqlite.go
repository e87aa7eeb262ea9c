// Copyright 2026 The recsys Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recsys/internal/recsys/event"
	"recsys/internal/recsys/recerr"
)

// SQLiteStore implements EventStore on a single SQLite database. The schema
// keeps the typed recommend fields (variant, items) in dedicated columns so
// the secondary indexes match the scan patterns of the analyzers; everything
// else rides along as raw payload JSON.
type SQLiteStore struct {
	db             *sql.DB
	rowCap         int
	defaultTimeout time.Duration
}

// NewSQLiteStore opens (or creates) the database at uri and applies the
// schema. Use "file::memory:?cache=shared" in tests. rowCap <= 0 selects
// DefaultRowCap.
func NewSQLiteStore(uri string, rowCap int) (*SQLiteStore, error) {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", recerr.ErrStoreUnavailable, err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// table-lock contention between the ingest path and analyzer scans.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, rowCap: rowCap, defaultTimeout: 10 * time.Second}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		item_id TEXT NOT NULL DEFAULT '',
		variant TEXT NOT NULL DEFAULT '',
		ts_ms INTEGER NOT NULL,
		items_json TEXT,
		payload_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts_type ON events(ts_ms, type);
	CREATE INDEX IF NOT EXISTS idx_events_ts_type_variant ON events(ts_ms, type, variant);
	CREATE INDEX IF NOT EXISTS idx_events_user_ts ON events(user_id, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_events_item_ts ON events(item_id, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts_desc ON events(type, ts_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_events_variant_ts ON events(variant, ts_ms);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// withDeadline bounds ctx with the store's default timeout when the caller
// did not set one.
func (s *SQLiteStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.defaultTimeout > 0 {
		return context.WithTimeout(ctx, s.defaultTimeout)
	}
	return ctx, func() {}
}

// Append persists one event. Events are immutable after this call.
func (s *SQLiteStore) Append(ctx context.Context, ev event.Event) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	var itemsJSON sql.NullString
	if ev.Items != nil {
		b, err := json.Marshal(ev.Items)
		if err != nil {
			return fmt.Errorf("%w: marshal items: %v", recerr.ErrInternal, err)
		}
		itemsJSON = sql.NullString{String: string(b), Valid: true}
	}
	var payloadJSON sql.NullString
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal payload: %v", recerr.ErrInternal, err)
		}
		payloadJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(type, user_id, item_id, variant, ts_ms, items_json, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.UserID, ev.ItemID, string(ev.Variant), ev.TS.UnixMilli(), itemsJSON, payloadJSON)
	if err != nil {
		return fmt.Errorf("%w: append: %v", recerr.ErrStoreUnavailable, err)
	}
	return nil
}

// Range scans [from, to] ascending by ts, insertion order breaking ties.
// The row cap truncates oversized results and sets Partial.
func (s *SQLiteStore) Range(ctx context.Context, from, to time.Time, f Filter) (RangeResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT type, user_id, item_id, variant, ts_ms, items_json, payload_json
		FROM events WHERE ts_ms >= ? AND ts_ms <= ?`)
	args := []any{from.UnixMilli(), to.UnixMilli()}

	if len(f.Types) == 1 {
		sb.WriteString(" AND type = ?")
		args = append(args, string(f.Types[0]))
	} else if len(f.Types) > 1 {
		sb.WriteString(" AND type IN (?" + strings.Repeat(",?", len(f.Types)-1) + ")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.UserID != "" {
		sb.WriteString(" AND user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ItemID != "" {
		sb.WriteString(" AND item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.Variant != "" {
		sb.WriteString(" AND variant = ?")
		args = append(args, string(f.Variant))
	}
	sb.WriteString(" ORDER BY ts_ms ASC, seq ASC LIMIT ?")
	args = append(args, s.rowCap+1)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return RangeResult{}, fmt.Errorf("%w: range scan: %v", recerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var res RangeResult
	for rows.Next() {
		var (
			typ, userID, itemID, variant string
			tsMS                         int64
			itemsJSON, payloadJSON       sql.NullString
		)
		if err := rows.Scan(&typ, &userID, &itemID, &variant, &tsMS, &itemsJSON, &payloadJSON); err != nil {
			return RangeResult{}, fmt.Errorf("%w: range scan row: %v", recerr.ErrStoreUnavailable, err)
		}
		ev := event.Event{
			Type:    event.Type(typ),
			UserID:  userID,
			ItemID:  itemID,
			Variant: event.Variant(variant),
			TS:      time.UnixMilli(tsMS).UTC(),
		}
		if itemsJSON.Valid {
			if err := json.Unmarshal([]byte(itemsJSON.String), &ev.Items); err != nil {
				return RangeResult{}, fmt.Errorf("%w: decode items: %v", recerr.ErrInternal, err)
			}
		}
		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &ev.Payload); err != nil {
				return RangeResult{}, fmt.Errorf("%w: decode payload: %v", recerr.ErrInternal, err)
			}
		}
		res.Events = append(res.Events, ev)
		if len(res.Events) > s.rowCap {
			// One row past the cap proves truncation; drop it.
			res.Events = res.Events[:s.rowCap]
			res.Partial = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return RangeResult{}, fmt.Errorf("%w: range scan: %v", recerr.ErrStoreUnavailable, err)
	}
	return res, nil
}

// AggregateFunnel counts events per type since from. When variant is set,
// recommend events are restricted to that variant; interactions are not,
// since interaction events carry no variant of their own.
func (s *SQLiteStore) AggregateFunnel(ctx context.Context, from time.Time, variant event.Variant) (FunnelReport, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	q := `SELECT type, COUNT(*), COUNT(DISTINCT user_id)
		FROM events WHERE ts_ms >= ?`
	args := []any{from.UnixMilli()}
	if variant != "" {
		q += ` AND (type != 'recommend' OR variant = ?)`
		args = append(args, string(variant))
	}
	q += ` GROUP BY type ORDER BY type`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return FunnelReport{}, fmt.Errorf("%w: funnel: %v", recerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	rep := FunnelReport{Since: from, Variant: variant}
	for rows.Next() {
		var st FunnelStage
		var typ string
		if err := rows.Scan(&typ, &st.Count, &st.DistinctUsers); err != nil {
			return FunnelReport{}, fmt.Errorf("%w: funnel row: %v", recerr.ErrStoreUnavailable, err)
		}
		st.Type = event.Type(typ)
		rep.Stages = append(rep.Stages, st)
	}
	if err := rows.Err(); err != nil {
		return FunnelReport{}, fmt.Errorf("%w: funnel: %v", recerr.ErrStoreUnavailable, err)
	}
	return rep, nil
}

// AggregateItemTrend profiles interaction counts per item since from,
// heaviest first. itemID narrows to a single item when set.
func (s *SQLiteStore) AggregateItemTrend(ctx context.Context, from time.Time, itemID string) (ItemTrendReport, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	q := `SELECT item_id,
			SUM(CASE WHEN type = 'play' THEN 1 ELSE 0 END),
			SUM(CASE WHEN type = 'view' THEN 1 ELSE 0 END),
			SUM(CASE WHEN type = 'skip' THEN 1 ELSE 0 END),
			COUNT(DISTINCT user_id)
		FROM events
		WHERE ts_ms >= ? AND type IN ('play', 'view', 'skip') AND item_id != ''`
	args := []any{from.UnixMilli()}
	if itemID != "" {
		q += ` AND item_id = ?`
		args = append(args, itemID)
	}
	q += ` GROUP BY item_id ORDER BY COUNT(*) DESC LIMIT 50`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return ItemTrendReport{}, fmt.Errorf("%w: item trend: %v", recerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	rep := ItemTrendReport{Since: from}
	for rows.Next() {
		var it ItemTrend
		if err := rows.Scan(&it.ItemID, &it.Plays, &it.Views, &it.Skips, &it.DistinctUsers); err != nil {
			return ItemTrendReport{}, fmt.Errorf("%w: item trend row: %v", recerr.ErrStoreUnavailable, err)
		}
		rep.Items = append(rep.Items, it)
	}
	if err := rows.Err(); err != nil {
		return ItemTrendReport{}, fmt.Errorf("%w: item trend: %v", recerr.ErrStoreUnavailable, err)
	}
	return rep, nil
}

// AggregateUserEngagement summarizes per-user activity since from, with the
// 20 most active users listed individually.
func (s *SQLiteStore) AggregateUserEngagement(ctx context.Context, from time.Time) (EngagementReport, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	rep := EngagementReport{Since: from}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id), COUNT(*),
			COUNT(DISTINCT CASE WHEN item_id != '' THEN item_id END)
		 FROM events WHERE ts_ms >= ?`, from.UnixMilli(),
	).Scan(&rep.ActiveUsers, &rep.TotalEvents, &rep.DistinctItems)
	if err != nil {
		return EngagementReport{}, fmt.Errorf("%w: engagement totals: %v", recerr.ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, COUNT(*),
			COUNT(DISTINCT CASE WHEN item_id != '' THEN item_id END)
		 FROM events WHERE ts_ms >= ?
		 GROUP BY user_id ORDER BY COUNT(*) DESC LIMIT 20`, from.UnixMilli())
	if err != nil {
		return EngagementReport{}, fmt.Errorf("%w: engagement: %v", recerr.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ue UserEngagement
		if err := rows.Scan(&ue.UserID, &ue.Events, &ue.DistinctItems); err != nil {
			return EngagementReport{}, fmt.Errorf("%w: engagement row: %v", recerr.ErrStoreUnavailable, err)
		}
		rep.TopUsers = append(rep.TopUsers, ue)
	}
	if err := rows.Err(); err != nil {
		return EngagementReport{}, fmt.Errorf("%w: engagement: %v", recerr.ErrStoreUnavailable, err)
	}
	return rep, nil
}
