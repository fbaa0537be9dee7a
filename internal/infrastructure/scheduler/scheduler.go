// Package scheduler wraps gocron for the query service's refresh
// discipline: full forecast reloads at fixed wall-clock times and
// every-N-minutes retry/hazard sweeps.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler owns the job runner. Stop drains it so shutdown never leaks
// a refresh goroutine.
type Scheduler struct {
	runner gocron.Scheduler
	logger *zap.Logger
}

// New creates a stopped scheduler; call Start after registering jobs.
//
// Parameters:
//   - logger: Zap logger for job registration and failures
//
// Returns:
//   - *Scheduler: Scheduler ready for job registration
//   - error: Runner construction failure
func New(logger *zap.Logger) (*Scheduler, error) {
	runner, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Scheduler{runner: runner, logger: logger}, nil
}

// DailyAt registers task to run every day at each "HH:MM" wall-clock
// time in times.
//
// Parameters:
//   - name: Job label for logs
//   - times: Wall-clock times, e.g. ["03:00", "15:00"]
//   - task: Function to invoke
//
// Returns:
//   - error: Unparseable time or job registration failure
func (s *Scheduler) DailyAt(name string, times []string, task func()) error {
	atTimes := make([]gocron.AtTime, 0, len(times))

	for _, t := range times {
		hour, minute, err := parseClock(t)
		if err != nil {
			return err
		}

		atTimes = append(atTimes, gocron.NewAtTime(uint(hour), uint(minute), 0))
	}

	if len(atTimes) == 0 {
		return fmt.Errorf("job %s: no run times given", name)
	}

	_, err := s.runner.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(atTimes[0], atTimes[1:]...)),
		gocron.NewTask(task),
		gocron.WithName(name),
	)

	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.logger.Info("daily job scheduled",
		zap.String("job", name),
		zap.Strings("at", times))

	return nil
}

// Every registers task to run at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, task func()) error {
	_, err := s.runner.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
	)

	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.logger.Info("interval job scheduled",
		zap.String("job", name),
		zap.Duration("every", interval))

	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.runner.Start()
}

// Stop drains running jobs and shuts the runner down.
func (s *Scheduler) Stop() error {
	return s.runner.Shutdown()
}

// parseClock parses "HH:MM" into its components.
func parseClock(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("clock time %q is not HH:MM", value)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("clock time %q has an invalid hour", value)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock time %q has an invalid minute", value)
	}

	return hour, minute, nil
}
