// Package worker runs periodic maintenance over the referral graph.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"anzacash/internal/apperr"
	"anzacash/internal/logger"
	"anzacash/internal/models"
	"anzacash/internal/notify"
)

const (
	batchSize   = 500
	alertPrefix = "anzacash:cycle_alerted:"
	alertTTL    = 24 * time.Hour
)

type LevelComputer interface {
	ComputeLevel(ctx context.Context, userID uint) (int, error)
}

// Report summarizes one refresh pass.
type Report struct {
	Checked int
	Cycles  []uint
	Failed  int
}

// LevelRefresher recomputes the cached level of every active user and
// alerts operators about users whose sponsor chain does not terminate.
// Alerts are sent at most once per user per day; the marker lives in redis
// when one is configured.
type LevelRefresher struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Levels   LevelComputer
	Notifier notify.Notifier

	mu      sync.Mutex
	alerted map[uint]time.Time
	now     func() time.Time
}

func NewLevelRefresher(db *gorm.DB, rdb *redis.Client, levels LevelComputer, notifier notify.Notifier) *LevelRefresher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &LevelRefresher{
		DB:       db,
		Redis:    rdb,
		Levels:   levels,
		Notifier: notifier,
		alerted:  make(map[uint]time.Time),
		now:      time.Now,
	}
}

// Start runs a pass immediately and then every interval until ctx is done.
func (r *LevelRefresher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Infof("Level refresher started, interval %s", interval)

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("Level refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("Level refresher stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce walks active users in id order.
func (r *LevelRefresher) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{}
	var lastID uint
	for {
		var ids []uint
		if err := r.DB.WithContext(ctx).
			Model(&models.User{}).
			Where("status = ? AND id > ?", models.StatusActive, lastID).
			Order("id").
			Limit(batchSize).
			Pluck("id", &ids).Error; err != nil {
			return report, fmt.Errorf("list users: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++
			_, err := r.Levels.ComputeLevel(ctx, id)
			switch {
			case err == nil:
			case apperr.KindOf(err) == apperr.KindCycleDetected:
				report.Cycles = append(report.Cycles, id)
				r.alert(ctx, id, err)
			default:
				report.Failed++
				logger.Warningf("Failed to compute level of user %d: %v", id, err)
			}
		}
		lastID = ids[len(ids)-1]
	}

	logger.Infof("Level refresh checked %d users, %d cycles, %d failures",
		report.Checked, len(report.Cycles), report.Failed)
	return report, nil
}

func (r *LevelRefresher) alert(ctx context.Context, userID uint, cause error) {
	first, err := r.markAlerted(ctx, userID)
	if err != nil {
		logger.Warningf("Failed to record cycle alert for user %d: %v", userID, err)
	}
	if !first {
		return
	}
	msg := fmt.Sprintf("Referral cycle detected at user %d: %v", userID, cause)
	if err := r.Notifier.Notify(ctx, msg); err != nil {
		logger.Warningf("Failed to send cycle alert for user %d: %v", userID, err)
	}
}

// markAlerted reports whether no alert for userID was sent within alertTTL,
// recording one if so.
func (r *LevelRefresher) markAlerted(ctx context.Context, userID uint) (bool, error) {
	if r.Redis != nil {
		key := fmt.Sprintf("%s%d", alertPrefix, userID)
		return r.Redis.SetNX(ctx, key, "true", alertTTL).Result()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if at, ok := r.alerted[userID]; ok && now.Sub(at) < alertTTL {
		return false, nil
	}
	r.alerted[userID] = now
	return true, nil
}
