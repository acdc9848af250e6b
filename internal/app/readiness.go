package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// MongoPinger is the minimal interface for a Mongo client capable of Ping.
type MongoPinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// BuildReadinessChecks returns the redis and mongo readiness checks.
func BuildReadinessChecks(rdb RedisClient, mdb MongoPinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	mongoCheck := func(ctx context.Context) error {
		if mdb == nil {
			return fmt.Errorf("mongo not configured")
		}
		return mdb.Ping(ctx, nil)
	}
	return redisCheck, mongoCheck
}

// ReadyzHandler runs each named check with a short deadline and reports
// 503 if any dependency is down.
func ReadyzHandler(checks map[string]func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}
