// Package scheduler runs IntakeFlow's recurring maintenance jobs on cron
// expressions. Its only production job today is the nightly purge of intake
// sessions that went idle without completing, keeping the session store from
// accumulating abandoned conversations.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Scheduler wraps a running cron instance for maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a scheduler. Expressions use the standard
// 5-field form (minute, hour, day-of-month, month, day-of-week); a panicking
// job is recovered so it cannot take the service down.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a maintenance task. It returns an error if the cron
// expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
