package worker

import (
	"github.com/supportops/mailtriage/internal/service"
)

// StartBackgroundWorkers subscribes the event-driven notification
// handlers and starts the cron scheduler.
func StartBackgroundWorkers(sched *Scheduler, notifications *service.NotificationService) error {
	if notifications != nil {
		notifications.RegisterHandlers()
	}
	if sched == nil {
		return nil
	}
	return sched.Start()
}
