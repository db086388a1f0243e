package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/model"
)

// Memory is an in-process Ledger. When Path is set every mutation rewrites
// the JSON file at Path, and OpenFile restores it.
type Memory struct {
	Path   string
	Clock  clock.Clock
	Logger *slog.Logger
	// NewID returns fresh log ids. Defaults to "log_" + a random UUID.
	NewID func() string

	mu   sync.Mutex
	logs map[string]*model.LogRecord
	// order holds ids in registration order.
	order []string
}

var _ Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{logs: make(map[string]*model.LogRecord)}
}

type memoryFile struct {
	Version int               `json:"version"`
	Logs    []model.LogRecord `json:"logs"`
}

// OpenFile loads a ledger persisted at path. A missing file yields an empty
// ledger that will be created on first write.
func OpenFile(path string) (*Memory, error) {
	m := NewMemory()
	m.Path = path
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	var f memoryFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", path, err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("ledger: %s: unsupported version %d", path, f.Version)
	}
	for i := range f.Logs {
		r := f.Logs[i]
		if _, dup := m.logs[r.ID]; dup || r.ID == "" {
			return nil, fmt.Errorf("ledger: %s: bad or duplicate log id %q", path, r.ID)
		}
		m.logs[r.ID] = &r
		m.order = append(m.order, r.ID)
	}
	return m, nil
}

func (m *Memory) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return "log_" + uuid.NewString()
}

func (m *Memory) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m *Memory) RegisterLog(ctx context.Context, reg Registration) (model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.LogRecord{}, err
	}
	reg, err := reg.Normalize()
	if err != nil {
		return model.LogRecord{}, err
	}
	created := reg.CreatedAt
	if created == 0 {
		created = clock.OrReal(m.Clock).Now().Unix()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logs == nil {
		m.logs = make(map[string]*model.LogRecord)
	}
	id := m.newID()
	if _, dup := m.logs[id]; dup {
		return model.LogRecord{}, fmt.Errorf("ledger: id %q already registered", id)
	}
	rec := &model.LogRecord{
		ID:            id,
		BlobID:        reg.BlobID,
		CommitmentHex: reg.CommitmentHex,
		Owner:         reg.Owner,
		Allowed:       []string{reg.Owner},
		Pending:       []model.AccessRequest{},
		CreatedAt:     created,
		SeverityCode:  reg.Severity.Code(),
		Severity:      string(reg.Severity),
	}
	m.logs[id] = rec
	m.order = append(m.order, id)
	if err := m.persistLocked(); err != nil {
		delete(m.logs, id)
		m.order = m.order[:len(m.order)-1]
		return model.LogRecord{}, err
	}
	m.logger().Info("log registered", "log", id, "blob", reg.BlobID, "commitment", reg.CommitmentHex)
	return cloneRecord(rec), nil
}

func (m *Memory) Log(ctx context.Context, id string) (model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.LogRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.logs[id]
	if !ok {
		return model.LogRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Events(ctx context.Context, limit int) ([]model.LogEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LogEvent, 0, min(limit, len(m.order)))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, EventOf(*m.logs[m.order[i]]))
	}
	return out, nil
}

func (m *Memory) RequestAccess(ctx context.Context, logID, requester, reason string) error {
	requester, err := Address(requester)
	if err != nil {
		return err
	}
	now := clock.OrReal(m.Clock).Now().Unix()
	return m.mutate(ctx, logID, func(rec *model.LogRecord) error {
		if slices.Contains(rec.Allowed, requester) {
			return ErrAlreadyAllowed
		}
		rec.Pending = slices.DeleteFunc(rec.Pending, func(p model.AccessRequest) bool { return p.Requester == requester })
		rec.Pending = append(rec.Pending, model.AccessRequest{Requester: requester, Reason: reason, RequestedAt: now})
		return nil
	})
}

func (m *Memory) Approve(ctx context.Context, logID, caller, requester string) error {
	caller, requester, err := callerAndRequester(caller, requester)
	if err != nil {
		return err
	}
	return m.mutate(ctx, logID, func(rec *model.LogRecord) error {
		if rec.Owner != caller {
			return ErrNotOwner
		}
		if slices.Contains(rec.Allowed, requester) {
			return ErrAlreadyAllowed
		}
		if !removePending(rec, requester) {
			return ErrNoRequest
		}
		rec.Allowed = append(rec.Allowed, requester)
		return nil
	})
}

func (m *Memory) Reject(ctx context.Context, logID, caller, requester, reason string) error {
	caller, requester, err := callerAndRequester(caller, requester)
	if err != nil {
		return err
	}
	now := clock.OrReal(m.Clock).Now().Unix()
	return m.mutate(ctx, logID, func(rec *model.LogRecord) error {
		if rec.Owner != caller {
			return ErrNotOwner
		}
		if !removePending(rec, requester) {
			return ErrNoRequest
		}
		rec.Rejected = append(rec.Rejected, model.Rejection{Requester: requester, Reason: reason, RejectedAt: now})
		return nil
	})
}

func (m *Memory) CheckAccess(ctx context.Context, identityHex, logID, requester string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	requester, err := Address(requester)
	if err != nil {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.logs[logID]
	if !ok {
		return false, nil
	}
	if !SameIdentity(rec.CommitmentHex, identityHex) {
		return false, nil
	}
	return slices.Contains(rec.Allowed, requester), nil
}

// FileChecker answers access checks from a ledger file owned by another
// process. It rereads the file on every check.
type FileChecker struct{ Path string }

func (f FileChecker) CheckAccess(ctx context.Context, identityHex, logID, requester string) (bool, error) {
	m, err := OpenFile(f.Path)
	if err != nil {
		return false, err
	}
	return m.CheckAccess(ctx, identityHex, logID, requester)
}

// mutate applies fn to a copy of the record and commits it only when fn and
// persistence both succeed.
func (m *Memory) mutate(ctx context.Context, logID string, fn func(*model.LogRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.logs[logID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, logID)
	}
	next := cloneRecord(rec)
	if err := fn(&next); err != nil {
		return fmt.Errorf("%w: log %s", err, logID)
	}
	m.logs[logID] = &next
	if err := m.persistLocked(); err != nil {
		m.logs[logID] = rec
		return err
	}
	return nil
}

func (m *Memory) persistLocked() error {
	if m.Path == "" {
		return nil
	}
	f := memoryFile{Version: 1, Logs: make([]model.LogRecord, 0, len(m.order))}
	for _, id := range m.order {
		f.Logs = append(f.Logs, *m.logs[id])
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, m.Path)
}

func callerAndRequester(caller, requester string) (string, string, error) {
	c, err := Address(caller)
	if err != nil {
		return "", "", err
	}
	r, err := Address(requester)
	if err != nil {
		return "", "", err
	}
	return c, r, nil
}

func removePending(rec *model.LogRecord, requester string) bool {
	n := len(rec.Pending)
	rec.Pending = slices.DeleteFunc(rec.Pending, func(p model.AccessRequest) bool { return p.Requester == requester })
	return len(rec.Pending) != n
}

func cloneRecord(r *model.LogRecord) model.LogRecord {
	out := *r
	out.Allowed = slices.Clone(r.Allowed)
	out.Pending = slices.Clone(r.Pending)
	out.Rejected = slices.Clone(r.Rejected)
	if out.Allowed == nil {
		out.Allowed = []string{}
	}
	if out.Pending == nil {
		out.Pending = []model.AccessRequest{}
	}
	return out
}
