package outbound

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Store is the persistence interface the controller needs; spec.md treats
// the underlying SQL schema as opaque (spec §1). DB connections are opened
// per state transition and closed immediately (spec §5: "short-lived").
type Store interface {
	LoadBatch(ctx context.Context, limit int) ([]*Job, error)
	MarkSent(ctx context.Context, jobID string, completedAt time.Time) error
	IncrementAttempts(ctx context.Context, jobID string) error
	MonthlyReset(ctx context.Context) (int64, error)
}

// MySQLStore implements Store against the `subscribers` + invoices schema
// (spec §6: "Persistent storage"). Grounded on the go-sql-driver/mysql
// access pattern used by the pack's telephony/billing repos.
type MySQLStore struct {
	dsn string
}

// NewMySQLStore builds a store from connection parameters.
func NewMySQLStore(host string, port int, user, password, dbname string) *MySQLStore {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, password, host, port, dbname)
	return &MySQLStore{dsn: dsn}
}

func (s *MySQLStore) open() (*sql.DB, error) {
	db, err := sql.Open("mysql", s.dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Second)
	db.SetMaxOpenConns(4)
	return db, nil
}

// LoadBatch loads candidate rows per spec §4.6's filter, then applies the
// cut-day policy and phone validation in Go since both depend on "today"
// and normalization rules that are awkward to express portably in SQL.
func (s *MySQLStore) LoadBatch(ctx context.Context, limit int) ([]*Job, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	const query = `
		SELECT s.id, s.telefono, s.outbound_call_attempts, s.corte, s.cliente,
		       COALESCE(SUM(i.balance), 0) AS debt_total
		FROM subscribers s
		JOIN invoices i ON i.subscriber_id = s.id AND i.closed = 0
		WHERE s.outbound_call = 1
		  AND s.outbound_call_is_sent = 0
		  AND s.activo = 1
		  AND s.eliminar = 0
		GROUP BY s.id, s.telefono, s.outbound_call_attempts, s.corte, s.cliente
		HAVING debt_total > 0
		LIMIT ?`

	rows, err := db.QueryContext(ctx, query, limit*4) // over-fetch; cut-day/phone filtering trims further
	if err != nil {
		return nil, fmt.Errorf("outbound: load batch: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var jobs []*Job
	for rows.Next() {
		var (
			id, telefono, corte, cliente string
			attempts                     int
			debtTotal                    float64
		)
		if err := rows.Scan(&id, &telefono, &attempts, &corte, &cliente, &debtTotal); err != nil {
			return nil, err
		}

		cutDay, ok := ParseCutDay(corte)
		if !ok || !CutDayEligible(now, cutDay) {
			continue
		}
		phone, ok := ValidatePhone(telefono)
		if !ok {
			continue
		}

		jobs = append(jobs, &Job{
			ID:         id,
			Phone:      phone,
			CutDay:     cutDay,
			ClientName: cliente,
			DebtAmount: debtTotal,
			Attempts:   attempts,
			State:      StateInitiated,
		})
		if len(jobs) >= limit {
			break
		}
	}
	return jobs, rows.Err()
}

// MarkSent sets is_sent=1, completed_at, and increments attempts on the
// first PlaybackStarted of a job (spec §4.6 persistence rules). is_sent is
// never reset here; only the separate monthly reset clears it.
func (s *MySQLStore) MarkSent(ctx context.Context, jobID string, completedAt time.Time) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		UPDATE subscribers
		SET outbound_call_is_sent = 1,
		    outbound_call_completed_at = ?,
		    outbound_call_attempts = outbound_call_attempts + 1
		WHERE id = ?`, completedAt, jobID)
	return err
}

// IncrementAttempts records a failed attempt without touching is_sent
// (spec §4.6: "On terminal failure after MAX attempts, update attempts
// only").
func (s *MySQLStore) IncrementAttempts(ctx context.Context, jobID string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		`UPDATE subscribers SET outbound_call_attempts = outbound_call_attempts + 1 WHERE id = ?`, jobID)
	return err
}

// MonthlyReset clears is_sent, attempts, and completed_at for a new billing
// cycle. Spec.md treats the reset job itself as peripheral/out of scope
// (§1); this method exists so an external cron entry point has somewhere to
// call. Scope matches the eligibility query above: only affiliates enrolled
// for outbound calling, active, and not soft-deleted.
func (s *MySQLStore) MonthlyReset(ctx context.Context) (int64, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, `
		UPDATE subscribers
		SET outbound_call_is_sent = 0,
		    outbound_call_attempts = 0,
		    outbound_call_completed_at = NULL
		WHERE outbound_call = 1
		  AND activo = 1
		  AND eliminar = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
