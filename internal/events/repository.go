package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filter controls which events to return.
type Filter struct {
	Type     Type   // optional: filter by event type
	Severity string // optional: filter by fault severity
	Signal   string // optional: filter by interlock signal
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains paginated event results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for event persistence.
type Repository interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository persists the event stream to SQLite. The store is
// append-only: there is no update or delete path. Fault events are
// additionally written to a dedicated fault_records table so fault
// history survives event-table pruning policies.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts one event. The event's own ID and timestamps are used
// verbatim; nothing is generated here, preserving the authority's record
// exactly.
func (r *SQLiteRepository) Append(ctx context.Context, ev Event) error {
	var snapshot *string
	if len(ev.Interlocks) > 0 {
		s := string(ev.Interlocks)
		snapshot = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO safety_events
		 (id, sequence, type, wall_time, monotonic_ns, from_state, to_state, cause,
		  source, signal, severity, detail, action_taken, interlocks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Sequence, string(ev.Type),
		ev.WallTime.UTC().Format(time.RFC3339Nano), int64(ev.Monotonic),
		nullableString(ev.FromState), nullableString(ev.ToState), nullableString(ev.Trigger),
		nullableString(ev.Source), nullableString(ev.Signal), nullableString(ev.Severity),
		nullableString(ev.Detail), nullableString(ev.ActionTaken), snapshot,
	)
	if err != nil {
		return fmt.Errorf("inserting safety event: %w", err)
	}

	if ev.Type != TypeFault {
		return nil
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO fault_records
		 (id, wall_time, monotonic_ns, source, signal, severity, detail,
		  prior_state, action_taken, interlocks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WallTime.UTC().Format(time.RFC3339Nano), int64(ev.Monotonic),
		ev.Source, nullableString(ev.Signal), ev.Severity, ev.Detail,
		nullableString(ev.FromState), nullableString(ev.ActionTaken), snapshot,
	)
	if err != nil {
		return fmt.Errorf("inserting fault record: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings, for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Signal != "" {
		conditions = append(conditions, "signal = ?")
		args = append(args, filter.Signal)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM safety_events %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting safety events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, sequence, type, wall_time, monotonic_ns, from_state, to_state, cause,
		        source, signal, severity, detail, action_taken, interlocks
		 FROM safety_events %s ORDER BY sequence DESC LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying safety events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating safety events: %w", err)
	}
	if out == nil {
		out = []Event{}
	}

	return &ListResult{Events: out, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var evType, wallTime string
	var monotonic int64
	var fromState, toState, trigger, source, signal, severity, detail, action, snapshot sql.NullString

	if err := rows.Scan(&ev.ID, &ev.Sequence, &evType, &wallTime, &monotonic,
		&fromState, &toState, &trigger, &source, &signal, &severity,
		&detail, &action, &snapshot); err != nil {
		return Event{}, fmt.Errorf("scanning safety event: %w", err)
	}

	ev.Type = Type(evType)
	ev.Monotonic = time.Duration(monotonic)
	t, err := time.Parse(time.RFC3339Nano, wallTime)
	if err != nil {
		return Event{}, fmt.Errorf("parsing event timestamp %q: %w", wallTime, err)
	}
	ev.WallTime = t

	ev.FromState = fromState.String
	ev.ToState = toState.String
	ev.Trigger = trigger.String
	ev.Source = source.String
	ev.Signal = signal.String
	ev.Severity = severity.String
	ev.Detail = detail.String
	ev.ActionTaken = action.String
	if snapshot.Valid && snapshot.String != "" {
		ev.Interlocks = json.RawMessage(snapshot.String)
	}
	return ev, nil
}
