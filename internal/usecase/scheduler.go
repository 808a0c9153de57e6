package usecase

import (
	"fmt"

	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// Plan is one job with its trigger.
type Plan struct {
	Name    string
	Trigger gate.Trigger
	Run     ports.Job
}

// Scheduler wires the cron-like driver with the job use cases.
type Scheduler struct {
	driver ports.Scheduler
	plans  []Plan
}

// NewScheduler returns a helper that collects plans and registers them.
func NewScheduler(driver ports.Scheduler) *Scheduler {
	return &Scheduler{driver: driver}
}

// Add queues a plan; a later plan with the same name replaces an earlier one.
func (s *Scheduler) Add(name string, trigger gate.Trigger, job ports.Job) {
	for i := range s.plans {
		if s.plans[i].Name == name {
			s.plans[i] = Plan{Name: name, Trigger: trigger, Run: job}
			return
		}
	}
	s.plans = append(s.plans, Plan{Name: name, Trigger: trigger, Run: job})
}

// Plans returns the queued plans in insertion order.
func (s *Scheduler) Plans() []Plan {
	return append([]Plan(nil), s.plans...)
}

// Register hands every plan to the driver.
func (s *Scheduler) Register() error {
	if s.driver == nil {
		return fmt.Errorf("scheduler driver is not configured")
	}
	for _, p := range s.plans {
		if err := s.driver.Register(p.Name, p.Trigger, p.Run); err != nil {
			return fmt.Errorf("register %s: %w", p.Name, err)
		}
	}
	return nil
}
