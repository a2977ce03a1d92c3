// Package health provides a registry of named subsystem health checkers
// and the liveness and readiness endpoints built on it.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: 3 * time.Second}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if statuses[i].Name == "" {
			statuses[i].Name = nc.name
		}
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// Live handles GET /health/live. It only proves the process serves HTTP.
func (r *Registry) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /health/ready: 200 when every checker passes, 503
// otherwise.
func (r *Registry) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()

	healthy, statuses := r.CheckAll(ctx)
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": statuses})
}

// DBChecker pings a PostgreSQL pool.
func DBChecker(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// RedisChecker pings a Redis client.
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) Status {
		if err := client.Ping(ctx).Err(); err != nil {
			return Status{Name: "redis", Detail: err.Error()}
		}
		return Status{Name: "redis", Healthy: true}
	}
}

// UpstreamChecker reports Open Payments hosts with an open circuit. A
// remote wallet provider being down does not make this server unready, so
// the status stays healthy and only the detail changes.
func UpstreamChecker(openHosts func() []string) Checker {
	return func(context.Context) Status {
		hosts := openHosts()
		if len(hosts) == 0 {
			return Status{Name: "upstream", Healthy: true}
		}
		sort.Strings(hosts)
		return Status{Name: "upstream", Healthy: true, Detail: "open circuits: " + strings.Join(hosts, ", ")}
	}
}
