package usecase

import (
	"context"
	"fmt"
	"time"

	"ResearchDigest/internal/ports"
)

// Scheduler wires the cron driver with the daily and weekly use cases.
type Scheduler struct {
	driver ports.Scheduler
	daily  *DailyRun
	weekly *WeeklyRun
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, daily *DailyRun, weekly *WeeklyRun) *Scheduler {
	return &Scheduler{driver: driver, daily: daily, weekly: weekly}
}

// Register adds both runs under their cron expressions.
func (s *Scheduler) Register(dailySpec, weeklySpec string) error {
	if s.driver == nil {
		return fmt.Errorf("scheduler driver is not configured")
	}
	if s.daily != nil {
		err := s.driver.AddJob("daily", dailySpec, func(ctx context.Context, _ time.Time) error {
			_, err := s.daily.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	if s.weekly != nil {
		err := s.driver.AddJob("weekly", weeklySpec, func(ctx context.Context, _ time.Time) error {
			_, err := s.weekly.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Start begins firing jobs until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Start(ctx)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
