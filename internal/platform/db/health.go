package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStatus is the connection pool snapshot the health endpoint reports.
// Operators watch AcquiredConns creep toward MaxConns when a feed backs up.
type PoolStatus struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	Saturated     bool  `json:"saturated"`
}

// PoolStatusFromStat converts pgx pool statistics to the reported snapshot.
func PoolStatusFromStat(stat *pgxpool.Stat) PoolStatus {
	return PoolStatus{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		Saturated:     stat.AcquiredConns() >= stat.MaxConns(),
	}
}

// HealthHandler answers the database health check: a bounded ping plus the
// current pool snapshot. 503 when the database does not answer.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := PoolStatusFromStat(pool.Stat())
		if err := pool.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"reason": err.Error(),
				"pool":   status,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "ok",
			"pool":   status,
		})
	}
}
