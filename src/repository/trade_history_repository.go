package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"surgetrader/src/database"
	"surgetrader/src/model"
)

// TradeHistoryRepository is the append-only journal of closed trades.
type TradeHistoryRepository struct {
	db *gorm.DB
}

// NewTradeHistoryRepository returns nil when the journal database is disabled.
func NewTradeHistoryRepository() *TradeHistoryRepository {
	if database.MainDB == nil {
		return nil
	}
	logger.WithField("component", "TradeHistoryRepository").
		Info("Creating new TradeHistoryRepository with MainDB")

	return &TradeHistoryRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeHistoryRepository) WithDB(db *gorm.DB) *TradeHistoryRepository {
	return &TradeHistoryRepository{db: db}
}

// Create appends a closed trade. The entry gets its generated ID.
func (r *TradeHistoryRepository) Create(
	ctx context.Context,
	entry *model.HistoryEntry,
) error {

	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeHistoryRepository",
			"op":     "Create",
			"symbol": entry.Symbol,
		}).WithError(err).Error("Failed to journal trade")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradeHistoryRepository",
		"op":     "Create",
		"id":     entry.ID,
		"symbol": entry.Symbol,
		"reason": entry.Reason,
	}).Debug("Trade journaled")

	return nil
}

// TradeSearchOptions filters journal queries. Nil fields are ignored.
type TradeSearchOptions struct {
	Symbol *string
	Reason *string
	Since  *time.Time
	Limit  int
}

// Search returns matching trades from newest to oldest exit.
func (r *TradeHistoryRepository) Search(
	ctx context.Context,
	opts TradeSearchOptions,
) ([]model.HistoryEntry, error) {

	q := r.db.WithContext(ctx).Model(&model.HistoryEntry{})
	if opts.Symbol != nil {
		q = q.Where("symbol = ?", *opts.Symbol)
	}
	if opts.Reason != nil {
		q = q.Where("reason = ?", *opts.Reason)
	}
	if opts.Since != nil {
		q = q.Where("exit_time >= ?", *opts.Since)
	}
	q = q.Order("exit_time DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var out []model.HistoryEntry
	if err := q.Find(&out).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeHistoryRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search trades")
		return nil, err
	}
	return out, nil
}

// TradeSummary aggregates the journal.
type TradeSummary struct {
	Trades    int64   `json:"trades"`
	Wins      int64   `json:"wins"`
	AvgPnlPct float64 `json:"avg_pnl_pct"`
}

// Summary counts trades and winners and averages pnl over the whole journal.
func (r *TradeHistoryRepository) Summary(ctx context.Context) (TradeSummary, error) {
	var s TradeSummary
	err := r.db.WithContext(ctx).
		Model(&model.HistoryEntry{}).
		Select("COUNT(*) AS trades, COALESCE(SUM(CASE WHEN pnl_pct > 0 THEN 1 ELSE 0 END), 0) AS wins, COALESCE(AVG(pnl_pct), 0) AS avg_pnl_pct").
		Scan(&s).Error
	return s, err
}
