package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pinglog/app/internal/probe"
)

// AppendResult durably records one probe result. A failed append means the
// store itself is unavailable, which is fatal to the run loop upstream.
func (s *Store) AppendResult(res probe.Result) error {
	var latency, reason any
	switch res.Outcome.Kind {
	case probe.KindSuccess:
		latency = res.Outcome.Latency.Microseconds()
	case probe.KindError:
		reason = res.Outcome.Reason
	}
	_, err := s.db.Exec(`
		INSERT INTO pings (address, taken_at, outcome, latency_us, reason)
		VALUES (?, ?, ?, ?, ?)`,
		res.Address, res.TakenAt.UTC().UnixMicro(), int(res.Outcome.Kind), latency, reason)
	if err != nil {
		return fmt.Errorf("append ping: %w", err)
	}
	return nil
}

// QueryFilter narrows a history query. The zero value selects everything.
type QueryFilter struct {
	Address string    // empty matches all addresses
	Since   time.Time // zero means no lower bound
}

// Results is a cursor over ping history in ascending timestamp order.
// History is unbounded, so rows are decoded one at a time; re-issue the
// query to restart.
type Results struct {
	rows *sql.Rows
	cur  probe.Result
	err  error
}

// QueryResults opens a cursor over the ping history matching f.
func (s *Store) QueryResults(f QueryFilter) (*Results, error) {
	q := `SELECT address, taken_at, outcome, latency_us, reason FROM pings`
	var where []string
	var args []any
	if f.Address != "" {
		where = append(where, "address = ?")
		args = append(args, f.Address)
	}
	if !f.Since.IsZero() {
		where = append(where, "taken_at >= ?")
		args = append(args, f.Since.UTC().UnixMicro())
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY taken_at ASC, id ASC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pings: %w", err)
	}
	return &Results{rows: rows}, nil
}

// Next advances the cursor. It returns false at the end of the result set
// or on error; check Err afterwards.
func (r *Results) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}
	var takenAt int64
	var outcome int
	var latency sql.NullInt64
	var reason sql.NullString
	if err := r.rows.Scan(&r.cur.Address, &takenAt, &outcome, &latency, &reason); err != nil {
		r.err = err
		return false
	}
	r.cur.TakenAt = time.UnixMicro(takenAt).UTC()
	r.cur.Outcome = probe.Outcome{Kind: probe.Kind(outcome)}
	if latency.Valid {
		r.cur.Outcome.Latency = time.Duration(latency.Int64) * time.Microsecond
	}
	if reason.Valid {
		r.cur.Outcome.Reason = reason.String
	}
	return true
}

// Result returns the row the cursor is positioned on.
func (r *Results) Result() probe.Result { return r.cur }

func (r *Results) Err() error { return r.err }

func (r *Results) Close() error { return r.rows.Close() }

// LastProbed returns when address was most recently probed. The second
// return is false when the address has never been probed. The
// (address, taken_at) index keeps this off the full history scan.
func (s *Store) LastProbed(address string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(taken_at) FROM pings WHERE address = ?`, address).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last probed: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(ts.Int64).UTC(), true, nil
}

// ProbedAddresses returns every address with ping history, including
// addresses no longer tracked.
func (s *Store) ProbedAddresses() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT address FROM pings ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("probed addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}
