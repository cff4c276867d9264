package handler

import (
	"context"
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/model"
)

type snapshotSource interface {
	Snapshot() *model.Snapshot
}

type commandQueue interface {
	PendingCommands() []model.Command
	Enqueue(ctx context.Context, cmd model.Command) (model.Command, error)
}

// currentState returns a copy of the engine snapshot carrying the queue as it is now,
// including commands submitted since the last engine commit.
func currentState(source snapshotSource, queue commandQueue) *model.Snapshot {
	snap := source.Snapshot()
	if snap == nil {
		return nil
	}
	out := snap.Clone()
	out.PendingCommands = queue.PendingCommands()
	out.Normalize()
	return out
}

// GetStateHandler serves the read-only trading state.
func GetStateHandler(source snapshotSource, queue commandQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := currentState(source, queue)
		if snap == nil {
			http.Error(w, "state not ready", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.WithError(err).Error("failed to encode state response")
		}
	}
}
