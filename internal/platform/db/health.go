package db

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthCheck probes one dependency for the health endpoint.
type HealthCheck struct {
	Name  string
	Ping  func(ctx context.Context) error
	Stats func() any
}

// PoolCheck probes a Postgres pool and reports its statistics.
func PoolCheck(pool *pgxpool.Pool) HealthCheck {
	return HealthCheck{
		Name:  "postgres",
		Ping:  pool.Ping,
		Stats: func() any { return GetPoolStats(pool) },
	}
}

// SQLCheck probes a database/sql handle.
func SQLCheck(name string, db *sql.DB) HealthCheck {
	return HealthCheck{
		Name:  name,
		Ping:  db.PingContext,
		Stats: func() any { return db.Stats() },
	}
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Stats  any    `json:"stats,omitempty"`
}

// HealthHandler returns a handler that runs every check. Any failure turns
// the response into 503.
func HealthHandler(checks ...HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]checkResult, len(checks))
		for _, chk := range checks {
			res := checkResult{Status: "healthy"}
			if err := chk.Ping(ctx); err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
			if chk.Stats != nil {
				res.Stats = chk.Stats()
			}
			results[chk.Name] = res
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}
