package main

import (
	"context"
	"log/slog"

	"fintrack/internal/config"
	applog "fintrack/internal/log"
	"fintrack/internal/scheduler"
	"fintrack/internal/services"
)

const (
	jobRecurringDispatch = "recurring-dispatch"
	jobBudgetCheck       = "budget-check"
	jobMonthlyReport     = "monthly-report"
)

type jobDeps struct {
	dispatcher *services.RecurringDispatcher
	monitor    *services.BudgetMonitor
	reporter   *services.MonthlyReporter
}

// registerJobs binds the three periodic jobs to their configured schedules.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, d jobDeps) error {
	jobs := []scheduler.Job{
		{
			Name: jobRecurringDispatch,
			Spec: cfg.RecurringSchedule,
			Run: func(ctx context.Context) error {
				n, err := d.dispatcher.Dispatch(ctx)
				slog.InfoContext(ctx, "Recurring templates dispatched", applog.FieldJob, jobRecurringDispatch, "published", n)
				return err
			},
		},
		{
			Name: jobBudgetCheck,
			Spec: cfg.BudgetSchedule,
			Run: func(ctx context.Context) error {
				res, err := d.monitor.Run(ctx)
				slog.InfoContext(ctx, "Budgets checked", applog.FieldJob, jobBudgetCheck,
					"checked", res.Checked,
					"alerted", res.Alerted,
					"skipped", res.Skipped,
					"failed", res.Failed)
				return err
			},
		},
		{
			Name: jobMonthlyReport,
			Spec: cfg.ReportSchedule,
			Run: func(ctx context.Context) error {
				res, err := d.reporter.Run(ctx)
				slog.InfoContext(ctx, "Monthly reports sent", applog.FieldJob, jobMonthlyReport,
					"users", res.Users,
					"sent", res.Sent,
					"skipped", res.Skipped,
					"failed", res.Failed)
				return err
			},
		},
	}

	for _, j := range jobs {
		if err := sched.Register(j); err != nil {
			return err
		}
	}
	return nil
}
