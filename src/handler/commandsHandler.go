package handler

import (
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/auth"
	"surgetrader/src/engine"
	"surgetrader/src/model"
)

type commandPayload struct {
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Amount   float64 `json:"amount"`
	Quantity float64 `json:"quantity"`
	Leverage int     `json:"leverage"`
}

// EnqueueCommandHandler validates an operator command and appends it to the queue
// drained by the engine on its next tick.
func EnqueueCommandHandler(queue commandQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, ok := auth.GetOperatorFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload commandPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid command payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		cmd, err := engine.PrepareCommand(model.Command{
			Action:   payload.Action,
			Symbol:   payload.Symbol,
			Side:     payload.Side,
			Type:     payload.Type,
			Price:    payload.Price,
			Amount:   payload.Amount,
			Quantity: payload.Quantity,
			Leverage: payload.Leverage,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		queued, err := queue.Enqueue(r.Context(), cmd)
		if err != nil {
			logger.WithError(err).Error("failed to enqueue command")
			http.Error(w, "Unable to queue command", http.StatusInternalServerError)
			return
		}

		logger.WithFields(logger.Fields{
			"operator": operator,
			"id":       queued.ID,
			"action":   queued.Action,
			"symbol":   queued.Symbol,
		}).Info("operator command accepted")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(queued); err != nil {
			logger.WithError(err).Error("failed to encode command response")
		}
	}
}
