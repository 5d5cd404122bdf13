// Package scheduler runs the heartbeat and the cron dispatcher. Jobs
// live in SQLite so the LLM's schedule tool and the /jobs command see
// the same state. Both loops defer to the pause manager: while paused,
// ticks and firings are skipped, not queued.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	_ "modernc.org/sqlite"

	"github.com/shannonlabs/shannon/internal/bus"
	"github.com/shannonlabs/shannon/internal/pause"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    cron_expr TEXT NOT NULL,
    action TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    last_run TEXT,
    created_at TEXT NOT NULL
);
`

// cronTick is how often due jobs are evaluated.
const cronTick = 30 * time.Second

// Job is one persisted cron entry.
type Job struct {
	ID        int64
	Name      string
	CronExpr  string
	Action    string
	Channel   string
	Enabled   bool
	LastRun   time.Time
	CreatedAt time.Time
}

// Scheduler owns the jobs database, the heartbeat file and the two
// background loops. Implements the job-store surface the schedule tool
// and /jobs command consume.
type Scheduler struct {
	db            *sql.DB
	bus           *bus.Bus
	pauser        *pause.Manager
	gron          *gronx.Gronx
	heartbeatPath string
	interval      time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Open creates the scheduler and its database under dataDir. Loops do
// not run until Start.
func Open(dataDir, heartbeatPath string, interval time.Duration, b *bus.Bus, pauser *pause.Manager) (*Scheduler, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "jobs.db"))
	if err != nil {
		return nil, fmt.Errorf("scheduler: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: init schema: %w", err)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		db:            db,
		bus:           b,
		pauser:        pauser,
		gron:          gronx.New(),
		heartbeatPath: heartbeatPath,
		interval:      interval,
	}, nil
}

// Start checks for a stale heartbeat from a previous run, then launches
// the heartbeat and cron loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.checkStaleHeartbeat()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{}, 2)
	go s.heartbeatLoop(ctx)
	go s.cronLoop(ctx)
	slog.Info("scheduler started", "heartbeat_interval", s.interval)
}

// Stop halts both loops and closes the database.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.cancel()
		<-s.done
		<-s.done
		s.started = false
	}
	return s.db.Close()
}

func (s *Scheduler) checkStaleHeartbeat() {
	data, err := os.ReadFile(s.heartbeatPath)
	if err != nil {
		return
	}
	last, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return
	}
	age := time.Since(time.Unix(int64(last), 0))
	if age > 3*s.interval {
		slog.Warn("stale heartbeat detected", "age", age.Round(time.Second))
	}
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer func() { s.done <- struct{}{} }()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.pauser != nil && s.pauser.IsPaused() {
				slog.Debug("heartbeat skipped while paused")
				continue
			}
			s.beat()
		}
	}
}

func (s *Scheduler) beat() {
	if err := os.MkdirAll(filepath.Dir(s.heartbeatPath), 0o755); err != nil {
		slog.Error("heartbeat dir create failed", "error", err)
		return
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(s.heartbeatPath, []byte(now), 0o644); err != nil {
		slog.Error("heartbeat write failed", "error", err)
	}
}

func (s *Scheduler) cronLoop(ctx context.Context) {
	defer func() { s.done <- struct{}{} }()
	ticker := time.NewTicker(cronTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.pauser != nil && s.pauser.IsPaused() {
				slog.Debug("cron tick skipped while paused")
				continue
			}
			if err := s.fireDueJobs(); err != nil {
				slog.Error("cron loop error", "error", err)
			}
		}
	}
}

// fireDueJobs publishes a trigger for every enabled job whose next fire
// time since last_run has passed, then advances last_run.
func (s *Scheduler) fireDueJobs() error {
	rows, err := s.db.Query(`
		SELECT id, name, cron_expr, action, channel, last_run FROM jobs WHERE enabled = 1`)
	if err != nil {
		return fmt.Errorf("scheduler: select jobs: %w", err)
	}
	type due struct {
		id       int64
		name     string
		cronExpr string
		action   string
		channel  string
		lastRun  sql.NullString
	}
	var jobs []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.name, &d.cronExpr, &d.action, &d.channel, &d.lastRun); err != nil {
			rows.Close()
			return fmt.Errorf("scheduler: scan job: %w", err)
		}
		jobs = append(jobs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, j := range jobs {
		base := now
		if j.lastRun.Valid && j.lastRun.String != "" {
			if t, err := time.Parse(time.RFC3339Nano, j.lastRun.String); err == nil {
				base = t
			}
		}
		next, err := gronx.NextTickAfter(j.cronExpr, base, false)
		if err != nil {
			slog.Warn("bad cron expression", "job", j.name, "expr", j.cronExpr, "error", err)
			continue
		}
		if next.After(now) {
			continue
		}

		slog.Info("cron job firing", "job", j.name)
		s.bus.Publish(bus.NewTrigger(bus.SchedulerTrigger{
			JobID:    j.id,
			JobName:  j.name,
			CronExpr: j.cronExpr,
			Action:   j.action,
			Channel:  j.channel,
		}))
		if _, err := s.db.Exec(`UPDATE jobs SET last_run = ? WHERE id = ?`,
			now.Format(time.RFC3339Nano), j.id); err != nil {
			return fmt.Errorf("scheduler: update last_run: %w", err)
		}
	}
	return nil
}

// AddJob validates the cron expression and persists a new job.
func (s *Scheduler) AddJob(name, cronExpr, action, channel string) (int64, error) {
	if !s.gron.IsValid(cronExpr) {
		return 0, fmt.Errorf("scheduler: invalid cron expression: %s", cronExpr)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		INSERT INTO jobs (name, cron_expr, action, channel, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, cronExpr, action, channel, now)
	if err != nil {
		return 0, fmt.Errorf("scheduler: add job: %w", err)
	}
	id, _ := res.LastInsertId()
	slog.Info("job added", "job", name, "cron", cronExpr)
	return id, nil
}

// RemoveJob deletes a job by name. Returns whether it existed.
func (s *Scheduler) RemoveJob(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("scheduler: remove job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("job removed", "job", name)
	}
	return n > 0, nil
}

// ListJobs returns every job, enabled or not.
func (s *Scheduler) ListJobs() ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, name, cron_expr, action, channel, enabled, last_run, created_at
		FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j       Job
			enabled int
			lastRun sql.NullString
			created string
		)
		if err := rows.Scan(&j.ID, &j.Name, &j.CronExpr, &j.Action, &j.Channel, &enabled, &lastRun, &created); err != nil {
			return nil, fmt.Errorf("scheduler: scan job: %w", err)
		}
		j.Enabled = enabled != 0
		if lastRun.Valid && lastRun.String != "" {
			j.LastRun, _ = time.Parse(time.RFC3339Nano, lastRun.String)
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, j)
	}
	return out, rows.Err()
}

// JobSummaries renders one display line per job.
func (s *Scheduler) JobSummaries() ([]string, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(jobs))
	for _, j := range jobs {
		lines = append(lines, fmt.Sprintf("**%s** — `%s` — %s", j.Name, j.CronExpr, j.Action))
	}
	return lines, nil
}
