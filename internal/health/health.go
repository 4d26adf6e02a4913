// Package health reports process readiness for the worker's HTTP
// surface: the database pool plus any registered checks (queue
// connectivity, dead-letter pressure).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const checkTimeout = 1 * time.Second

// Status is the /healthz response body. Checks maps check name to "ok"
// or the failure message.
type Status struct {
	OK      bool              `json:"ok"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Checker aggregates readiness checks. The database pool is the
// baseline check; AddCheck registers more.
type Checker struct {
	service string
	pool    *pgxpool.Pool
	names   []string
	checks  map[string]func(ctx context.Context) error
}

func NewChecker(service string, pool *pgxpool.Pool) *Checker {
	return &Checker{
		service: service,
		pool:    pool,
		checks:  make(map[string]func(ctx context.Context) error),
	}
}

// AddCheck registers a named readiness check. Checks run on every
// /healthz request, each under its own timeout.
func (c *Checker) AddCheck(name string, check func(ctx context.Context) error) {
	if _, exists := c.checks[name]; !exists {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// Handler serves the aggregated status; any failing check turns the
// response into a 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Service: c.service, Checks: map[string]string{}}

		if c.pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			if err := c.pool.Ping(ctx); err != nil {
				st.OK = false
				st.Checks["database"] = err.Error()
			} else {
				st.Checks["database"] = "ok"
			}
			cancel()
		}

		for _, name := range c.names {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			if err := c.checks[name](ctx); err != nil {
				st.OK = false
				st.Checks[name] = err.Error()
			} else {
				st.Checks[name] = "ok"
			}
			cancel()
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
