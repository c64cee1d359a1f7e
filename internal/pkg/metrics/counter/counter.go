package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vutran/payrec/app/models"
	"github.com/vutran/payrec/internal/pkg/cache"
	"github.com/vutran/payrec/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	webhookReceivedKey   = "webhook:counters:received"
	webhookDuplicatesKey = "webhook:counters:duplicates"
	webhookConflictsKey  = "webhook:counters:conflicts"
	webhookCompletedKey  = "webhook:counters:completed"
)

func statDay() string {
	return time.Now().UTC().Format("2006-01-02")
}

// AddReceived increments the pending received counter for today in Redis
func AddReceived() error {
	return cache.GetClient().HIncrBy(context.Background(), webhookReceivedKey, statDay(), 1).Err()
}

// AddDuplicate increments the pending duplicate counter for today in Redis
func AddDuplicate() error {
	return cache.GetClient().HIncrBy(context.Background(), webhookDuplicatesKey, statDay(), 1).Err()
}

// AddConflict increments the pending conflict counter for today in Redis
func AddConflict() error {
	return cache.GetClient().HIncrBy(context.Background(), webhookConflictsKey, statDay(), 1).Err()
}

// AddCompleted increments the pending completed-transition counter for today in Redis
func AddCompleted() error {
	return cache.GetClient().HIncrBy(context.Background(), webhookCompletedKey, statDay(), 1).Err()
}

// FlushAll drains all pending counters into the webhook_stats table
func FlushAll() error {
	columns := map[string]string{
		webhookReceivedKey:   "received",
		webhookDuplicatesKey: "duplicates",
		webhookConflictsKey:  "conflicts",
		webhookCompletedKey:  "completed",
	}
	for key, column := range columns {
		if err := flushHashToColumn(key, column); err != nil {
			return err
		}
	}
	return nil
}

// flushHashToColumn drains a Redis hash atomically and applies batched
// increments to webhook_stats. Uses RENAME to a temporary key for an atomic
// drain without losing in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		// Some Redis libs return redis.Nil; treat as empty
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		rdb.Del(ctx, tmpKey)
		return nil
	}

	db := database.GetDB()
	if db == nil {
		// Give the drained counts back to the live hash so the next flush
		// retries them instead of dropping the window.
		if rerr := restoreCounts(rdb, redisKey, data); rerr == nil {
			rdb.Del(ctx, tmpKey)
		}
		return fmt.Errorf("database connection is nil")
	}

	keepTmp := false
	var flushErr error
	for day, v := range data {
		inc, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		stat := models.WebhookStat{Day: day}
		switch column {
		case "received":
			stat.Received = inc
		case "duplicates":
			stat.Duplicates = inc
		case "conflicts":
			stat.Conflicts = inc
		case "completed":
			stat.Completed = inc
		}
		if err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				column: gorm.Expr(column+" + ?", inc),
			}),
		}).Create(&stat).Error; err != nil {
			flushErr = err
			if rerr := rdb.HIncrBy(ctx, redisKey, day, inc).Err(); rerr != nil {
				// Restore failed too: keep the tmp key so nothing is lost.
				keepTmp = true
			}
		}
	}

	// The tmp key is dropped only once every window has either been flushed
	// or returned to the live hash.
	if !keepTmp {
		rdb.Del(ctx, tmpKey)
	}
	return flushErr
}

func restoreCounts(rdb *redis.Client, redisKey string, data map[string]string) error {
	ctx := context.Background()
	for day, v := range data {
		inc, err := strconv.ParseInt(v, 10, 64)
		if err != nil || inc == 0 {
			continue
		}
		if err := rdb.HIncrBy(ctx, redisKey, day, inc).Err(); err != nil {
			return err
		}
	}
	return nil
}
