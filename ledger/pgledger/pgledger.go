// Package pgledger is a PostgreSQL-backed ledger.Ledger.
package pgledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
)

// Schema creates the tables the store uses. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS veritaslog_logs (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	blob_id        TEXT NOT NULL,
	commitment_hex TEXT NOT NULL,
	owner          TEXT NOT NULL,
	severity_code  SMALLINT NOT NULL,
	created_at     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS veritaslog_access (
	seq     BIGSERIAL,
	log_id  TEXT NOT NULL REFERENCES veritaslog_logs(id),
	address TEXT NOT NULL,
	state   TEXT NOT NULL CHECK (state IN ('allowed', 'pending')),
	reason  TEXT NOT NULL DEFAULT '',
	at      BIGINT NOT NULL,
	PRIMARY KEY (log_id, address)
);
CREATE TABLE IF NOT EXISTS veritaslog_rejections (
	seq         BIGSERIAL PRIMARY KEY,
	log_id      TEXT NOT NULL REFERENCES veritaslog_logs(id),
	requester   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	rejected_at BIGINT NOT NULL
);
`

const (
	stateAllowed = "allowed"
	statePending = "pending"
)

type Store struct {
	DB     *pgxpool.Pool
	Clock  clock.Clock
	Logger *slog.Logger
	NewID  func() string
}

var _ ledger.Ledger = (*Store)(nil)

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Connect opens a pool with the pool limits the daemons run with.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgledger: parse dsn")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "pgledger: connect")
	}
	return pool, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, Schema)
	return errors.Wrap(err, "pgledger: migrate")
}

func (s *Store) now() int64 { return clock.OrReal(s.Clock).Now().Unix() }

func (s *Store) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return "log_" + uuid.NewString()
}

func (s *Store) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Store) RegisterLog(ctx context.Context, reg ledger.Registration) (model.LogRecord, error) {
	reg, err := reg.Normalize()
	if err != nil {
		return model.LogRecord{}, err
	}
	created := reg.CreatedAt
	if created == 0 {
		created = s.now()
	}
	id := s.newID()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO veritaslog_logs(id,blob_id,commitment_hex,owner,severity_code,created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		id, reg.BlobID, reg.CommitmentHex, reg.Owner, int16(reg.Severity.Code()), created)
	if err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: insert log")
	}
	_, err = tx.Exec(ctx, `INSERT INTO veritaslog_access(log_id,address,state,at) VALUES($1,$2,$3,$4)`,
		id, reg.Owner, stateAllowed, created)
	if err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: allow owner")
	}
	if err := tx.Commit(ctx); err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: commit")
	}
	s.logger().Info("log registered", "log", id, "blob", reg.BlobID, "commitment", reg.CommitmentHex)
	return s.Log(ctx, id)
}

func (s *Store) Log(ctx context.Context, id string) (model.LogRecord, error) {
	var (
		rec  model.LogRecord
		code int16
	)
	err := s.DB.QueryRow(ctx, `SELECT id,blob_id,commitment_hex,owner,severity_code,created_at FROM veritaslog_logs WHERE id=$1`, id).
		Scan(&rec.ID, &rec.BlobID, &rec.CommitmentHex, &rec.Owner, &code, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LogRecord{}, errors.Wrapf(ledger.ErrNotFound, "log %s", id)
	}
	if err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: select log")
	}
	setSeverity(&rec, code)
	rec.Allowed = []string{}
	rec.Pending = []model.AccessRequest{}

	rows, err := s.DB.Query(ctx, `SELECT address,state,reason,at FROM veritaslog_access WHERE log_id=$1 ORDER BY seq ASC`, id)
	if err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: select access")
	}
	defer rows.Close()
	for rows.Next() {
		var addr, state, reason string
		var at int64
		if err := rows.Scan(&addr, &state, &reason, &at); err != nil {
			return model.LogRecord{}, errors.Wrap(err, "pgledger: scan access")
		}
		if state == stateAllowed {
			rec.Allowed = append(rec.Allowed, addr)
		} else {
			rec.Pending = append(rec.Pending, model.AccessRequest{Requester: addr, Reason: reason, RequestedAt: at})
		}
	}
	if err := rows.Err(); err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: access rows")
	}

	rej, err := s.DB.Query(ctx, `SELECT requester,reason,rejected_at FROM veritaslog_rejections WHERE log_id=$1 ORDER BY seq ASC`, id)
	if err != nil {
		return model.LogRecord{}, errors.Wrap(err, "pgledger: select rejections")
	}
	defer rej.Close()
	for rej.Next() {
		var r model.Rejection
		if err := rej.Scan(&r.Requester, &r.Reason, &r.RejectedAt); err != nil {
			return model.LogRecord{}, errors.Wrap(err, "pgledger: scan rejection")
		}
		rec.Rejected = append(rec.Rejected, r)
	}
	return rec, errors.Wrap(rej.Err(), "pgledger: rejection rows")
}

func (s *Store) Events(ctx context.Context, limit int) ([]model.LogEvent, error) {
	if limit <= 0 {
		limit = ledger.DefaultEventLimit
	}
	rows, err := s.DB.Query(ctx, `SELECT id,blob_id,commitment_hex,owner,severity_code,created_at FROM veritaslog_logs ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "pgledger: select events")
	}
	defer rows.Close()
	out := []model.LogEvent{}
	for rows.Next() {
		var (
			ev   model.LogEvent
			code int16
		)
		if err := rows.Scan(&ev.LogID, &ev.BlobID, &ev.CommitmentHex, &ev.Owner, &code, &ev.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "pgledger: scan event")
		}
		ev.SeverityCode = uint8(code)
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "pgledger: event rows")
}

func (s *Store) RequestAccess(ctx context.Context, logID, requester, reason string) error {
	requester, err := ledger.Address(requester)
	if err != nil {
		return err
	}
	return s.inTx(ctx, logID, func(tx pgx.Tx, owner string) error {
		state, err := accessState(ctx, tx, logID, requester)
		if err != nil {
			return err
		}
		if state == stateAllowed {
			return errors.Wrapf(ledger.ErrAlreadyAllowed, "log %s", logID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM veritaslog_access WHERE log_id=$1 AND address=$2`, logID, requester); err != nil {
			return errors.Wrap(err, "pgledger: clear request")
		}
		_, err = tx.Exec(ctx, `INSERT INTO veritaslog_access(log_id,address,state,reason,at) VALUES($1,$2,$3,$4,$5)`,
			logID, requester, statePending, reason, s.now())
		return errors.Wrap(err, "pgledger: insert request")
	})
}

func (s *Store) Approve(ctx context.Context, logID, caller, requester string) error {
	caller, requester, err := addresses(caller, requester)
	if err != nil {
		return err
	}
	return s.inTx(ctx, logID, func(tx pgx.Tx, owner string) error {
		if owner != caller {
			return errors.Wrapf(ledger.ErrNotOwner, "log %s", logID)
		}
		state, err := accessState(ctx, tx, logID, requester)
		if err != nil {
			return err
		}
		switch state {
		case stateAllowed:
			return errors.Wrapf(ledger.ErrAlreadyAllowed, "log %s", logID)
		case "":
			return errors.Wrapf(ledger.ErrNoRequest, "log %s", logID)
		}
		_, err = tx.Exec(ctx, `UPDATE veritaslog_access SET state=$3, at=$4 WHERE log_id=$1 AND address=$2`,
			logID, requester, stateAllowed, s.now())
		return errors.Wrap(err, "pgledger: approve")
	})
}

func (s *Store) Reject(ctx context.Context, logID, caller, requester, reason string) error {
	caller, requester, err := addresses(caller, requester)
	if err != nil {
		return err
	}
	return s.inTx(ctx, logID, func(tx pgx.Tx, owner string) error {
		if owner != caller {
			return errors.Wrapf(ledger.ErrNotOwner, "log %s", logID)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM veritaslog_access WHERE log_id=$1 AND address=$2 AND state=$3`,
			logID, requester, statePending)
		if err != nil {
			return errors.Wrap(err, "pgledger: remove request")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ledger.ErrNoRequest, "log %s", logID)
		}
		_, err = tx.Exec(ctx, `INSERT INTO veritaslog_rejections(log_id,requester,reason,rejected_at) VALUES($1,$2,$3,$4)`,
			logID, requester, reason, s.now())
		return errors.Wrap(err, "pgledger: record rejection")
	})
}

func (s *Store) CheckAccess(ctx context.Context, identityHex, logID, requester string) (bool, error) {
	requester, err := ledger.Address(requester)
	if err != nil {
		return false, nil
	}
	c, err := commitment.Parse(identityHex)
	if err != nil {
		return false, nil
	}
	var ok bool
	err = s.DB.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM veritaslog_logs l JOIN veritaslog_access a ON a.log_id = l.id
		WHERE l.id=$1 AND l.commitment_hex=$2 AND a.address=$3 AND a.state=$4)`,
		logID, c.Hex(), requester, stateAllowed).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "pgledger: check access")
	}
	return ok, nil
}

// inTx locks the log row and runs fn with its owner.
func (s *Store) inTx(ctx context.Context, logID string, fn func(tx pgx.Tx, owner string) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "pgledger: begin")
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx, `SELECT owner FROM veritaslog_logs WHERE id=$1 FOR UPDATE`, logID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(ledger.ErrNotFound, "log %s", logID)
	}
	if err != nil {
		return errors.Wrap(err, "pgledger: lock log")
	}
	if err := fn(tx, owner); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "pgledger: commit")
}

func accessState(ctx context.Context, tx pgx.Tx, logID, addr string) (string, error) {
	var state string
	err := tx.QueryRow(ctx, `SELECT state FROM veritaslog_access WHERE log_id=$1 AND address=$2`, logID, addr).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "pgledger: select state")
	}
	return state, nil
}

func addresses(caller, requester string) (string, string, error) {
	c, err := ledger.Address(caller)
	if err != nil {
		return "", "", err
	}
	r, err := ledger.Address(requester)
	if err != nil {
		return "", "", err
	}
	return c, r, nil
}

func setSeverity(rec *model.LogRecord, code int16) {
	rec.SeverityCode = uint8(code)
	if sev, err := logbundle.SeverityFromCode(rec.SeverityCode); err == nil {
		rec.Severity = string(sev)
	}
}
