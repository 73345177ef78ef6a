package scheduler

import (
	"context"
	"fmt"
	"time"

	"lti-booking/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const taskTimeout = time.Minute

// Task is one periodic housekeeping step.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Janitor runs housekeeping tasks on a cron schedule. A run is skipped while
// the previous one is still going.
type Janitor struct {
	cron     *cron.Cron
	schedule string
	tasks    []Task
}

func NewJanitor(schedule string, tasks ...Task) (*Janitor, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	j := &Janitor{cron: c, schedule: schedule, tasks: tasks}

	if _, err := c.AddFunc(schedule, j.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	logger.Info("Janitor started schedule=%q tasks=%d", j.schedule, len(j.tasks))
	j.cron.Start()
}

// Stop waits for a running pass to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	logger.Info("Janitor stopped")
}

// RunOnce executes every task in order. A failing task does not stop the rest.
func (j *Janitor) RunOnce() {
	for _, task := range j.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		start := time.Now()
		err := task.Run(ctx)
		cancel()

		entry := logger.WithFields(logrus.Fields{
			"task":     task.Name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("janitor task failed")
			continue
		}
		entry.Debug("janitor task done")
	}
}
