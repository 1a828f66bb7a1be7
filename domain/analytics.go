package domain

import (
	"context"
	"math"
	"time"
)

// Distribution is a single name/value bucket in a dashboard chart.
type Distribution struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// DashboardStats aggregates task counts for the caller's visibility scope.
type DashboardStats struct {
	TotalTasks           int            `json:"totalTasks"`
	CompletedTasks       int            `json:"completedTasks"`
	CompletionRate       int            `json:"completionRate"`
	OverdueTasks         int            `json:"overdueTasks"`
	StatusDistribution   []Distribution `json:"statusDistribution"`
	PriorityDistribution []Distribution `json:"priorityDistribution"`
}

// AnalyticsService derives dashboard aggregates from the task store, scoped
// by the same visibility rule as task listing so that distribution sums
// always match totals for every role.
type AnalyticsService struct {
	tasks TaskStore
}

// NewAnalyticsService wires an aggregator over the task store.
func NewAnalyticsService(tasks TaskStore) *AnalyticsService {
	return &AnalyticsService{tasks: tasks}
}

// DashboardStats computes the aggregates at query time. Overdue is derived,
// never stored: a task counts once its due date has passed and it is not
// completed.
func (s *AnalyticsService) DashboardStats(ctx context.Context, actor Actor) (*DashboardStats, error) {
	tasks, err := s.tasks.ListAllTasks(ctx, VisibilityScope(actor))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	byStatus := make(map[Status]int, len(Statuses))
	byPriority := make(map[Priority]int, len(Priorities))
	stats := &DashboardStats{}
	for i := range tasks {
		t := &tasks[i]
		stats.TotalTasks++
		byStatus[t.Status]++
		byPriority[t.Priority]++
		if t.Status == StatusCompleted {
			stats.CompletedTasks++
		}
		if t.Overdue(now) {
			stats.OverdueTasks++
		}
	}

	if stats.TotalTasks > 0 {
		stats.CompletionRate = int(math.Round(float64(stats.CompletedTasks) / float64(stats.TotalTasks) * 100))
	}

	// Every bucket is reported, zero-filled, in a fixed order.
	stats.StatusDistribution = make([]Distribution, 0, len(Statuses))
	for _, st := range Statuses {
		stats.StatusDistribution = append(stats.StatusDistribution, Distribution{Name: string(st), Value: byStatus[st]})
	}
	stats.PriorityDistribution = make([]Distribution, 0, len(Priorities))
	for _, p := range Priorities {
		stats.PriorityDistribution = append(stats.PriorityDistribution, Distribution{Name: string(p), Value: byPriority[p]})
	}
	return stats, nil
}
