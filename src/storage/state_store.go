package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"surgetrader/src/model"
)

// StateStore persists the engine document. The command queue is owned by the store so
// that commits from the engine never drop commands appended concurrently by the dashboard.
type StateStore struct {
	backend Backend
	now     func() time.Time

	mu  sync.Mutex
	doc *model.Snapshot
}

func NewStateStore(backend Backend) *StateStore {
	return &StateStore{
		backend: backend,
		now:     time.Now,
		doc:     model.NewSnapshot(),
	}
}

// Load reads the persisted document. A missing document yields an empty state. A corrupt
// document also yields an empty state, together with an error wrapping model.ErrDataIntegrity;
// the returned snapshot is usable in both cases.
func (s *StateStore) Load(ctx context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		logger.Info("no persisted state, starting empty")
		s.doc = model.NewSnapshot()
		return s.doc.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	doc := model.NewSnapshot()
	if err := json.Unmarshal(raw, doc); err != nil {
		logger.WithError(err).Error("persisted state is corrupt, starting empty")
		s.doc = model.NewSnapshot()
		return s.doc.Clone(), fmt.Errorf("%w: %v", model.ErrDataIntegrity, err)
	}
	doc.Normalize()
	s.doc = doc

	logger.WithFields(logger.Fields{
		"positions":       len(doc.Positions),
		"pendingSignals":  len(doc.PendingSignals),
		"history":         len(doc.History),
		"pendingCommands": len(doc.PendingCommands),
	}).Info("state loaded")

	return doc.Clone(), nil
}

// Commit persists state. Its PendingCommands are ignored in favour of the store's queue.
func (s *StateStore) Commit(ctx context.Context, state *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := state.Clone()
	next.PendingCommands = append([]model.Command{}, s.doc.PendingCommands...)
	if err := s.write(ctx, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Enqueue appends a command to the FIFO queue and persists it.
func (s *StateStore) Enqueue(ctx context.Context, cmd model.Command) (model.Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.Clone()
	next.PendingCommands = append(next.PendingCommands, cmd)
	if err := s.write(ctx, next); err != nil {
		return cmd, err
	}
	s.doc = next

	logger.WithFields(logger.Fields{
		"id":     cmd.ID,
		"action": cmd.Action,
		"symbol": cmd.Symbol,
	}).Info("command queued")
	return cmd, nil
}

// Pop removes the oldest command and persists the shortened queue before returning it.
// It returns nil when the queue is empty. When the write fails the command stays queued.
func (s *StateStore) Pop(ctx context.Context) (*model.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.doc.PendingCommands) == 0 {
		return nil, nil
	}

	next := s.doc.Clone()
	cmd := next.PendingCommands[0]
	next.PendingCommands = next.PendingCommands[1:]
	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	s.doc = next
	return &cmd, nil
}

// PendingCommands returns a copy of the queued commands.
func (s *StateStore) PendingCommands() []model.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Command{}, s.doc.PendingCommands...)
}

// Snapshot returns a copy of the last persisted document.
func (s *StateStore) Snapshot() *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *StateStore) write(ctx context.Context, doc *model.Snapshot) error {
	doc.Normalize()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.backend.Write(ctx, raw); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
