// Package monitor implements the request/response protocol used by operator
// surfaces to control monitoring.
//
// Every request yields exactly one Response. Long-running actions respond only
// after the underlying work has finished.
package monitor

import (
	"context"
	"log/slog"

	"groupwatch/internal/checker"
	"groupwatch/internal/model"
	"groupwatch/internal/webhook"
)

// Actions.
const (
	ActionStart       = "startMonitoring"
	ActionStop        = "stopMonitoring"
	ActionUpdate      = "updateGroups"
	ActionFetchLatest = "fetchLatestPost"
	ActionTestWebhook = "testWebhook"
)

// ErrUnknownAction is the error text returned for unsupported actions.
const ErrUnknownAction = "Unknown action"

// Request is one protocol message.
type Request struct {
	Action  string        `json:"action"`
	Groups  []model.Group `json:"groups,omitempty"`
	GroupID string        `json:"groupId,omitempty"`
	Webhook string        `json:"webhook,omitempty"`
}

// Response answers a Request.
type Response struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	PostFound   *bool  `json:"postFound,omitempty"`
	WebhookSent *bool  `json:"webhookSent,omitempty"`
	Status      int    `json:"status,omitempty"`
	StatusText  string `json:"statusText,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Registry is the group state the service reads and writes.
type Registry interface {
	Load(ctx context.Context) ([]model.Group, error)
	Replace(ctx context.Context, groups []model.Group) error
	MonitoringActive(ctx context.Context) (bool, error)
	SetMonitoringActive(ctx context.Context, active bool) error
}

// Scheduler arms and disarms periodic checks.
type Scheduler interface {
	Sync(groups []model.Group)
	ClearAll()
}

// LatestFetcher sends the newest post of one group.
type LatestFetcher interface {
	FetchLatest(ctx context.Context, id string) (checker.LatestReport, error)
}

// WebhookTester sends a synthetic payload.
type WebhookTester interface {
	Test(ctx context.Context, rawURL string) webhook.Result
}

// Service handles protocol requests.
type Service struct {
	registry  Registry
	scheduler Scheduler
	fetcher   LatestFetcher
	tester    WebhookTester
	log       *slog.Logger
}

// New creates a Service.
func New(reg Registry, sched Scheduler, fetcher LatestFetcher, tester WebhookTester, log *slog.Logger) *Service {
	return &Service{
		registry:  reg,
		scheduler: sched,
		fetcher:   fetcher,
		tester:    tester,
		log:       log,
	}
}

// Handle dispatches req and returns its single response.
func (s *Service) Handle(ctx context.Context, req Request) Response {
	s.log.Debug("handling request", "action", req.Action)

	switch req.Action {
	case ActionStart:
		return s.result(req.Action, s.Start(ctx))
	case ActionStop:
		return s.result(req.Action, s.Stop(ctx))
	case ActionUpdate:
		return s.result(req.Action, s.UpdateGroups(ctx, req.Groups))
	case ActionFetchLatest:
		return s.fetchLatest(ctx, req.GroupID)
	case ActionTestWebhook:
		return s.testWebhook(ctx, req.Webhook)
	default:
		return Response{Error: ErrUnknownAction}
	}
}

// Start persists the monitoring switch and schedules every active group.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.SetMonitoringActive(ctx, true); err != nil {
		return err
	}
	return s.arm(ctx)
}

// Stop persists the switch and removes every schedule.
func (s *Service) Stop(ctx context.Context) error {
	s.scheduler.ClearAll()
	return s.registry.SetMonitoringActive(ctx, false)
}

// UpdateGroups replaces the stored collection and reschedules when monitoring is on.
func (s *Service) UpdateGroups(ctx context.Context, groups []model.Group) error {
	if err := s.registry.Replace(ctx, groups); err != nil {
		return err
	}
	return s.Reschedule(ctx)
}

// Reschedule re-reads the groups and re-arms the scheduler if monitoring is on.
func (s *Service) Reschedule(ctx context.Context) error {
	active, err := s.registry.MonitoringActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	return s.arm(ctx)
}

// Restore re-arms monitoring after a restart if it was left on.
func (s *Service) Restore(ctx context.Context) error {
	active, err := s.registry.MonitoringActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		s.log.Info("monitoring is off")
		return nil
	}
	return s.arm(ctx)
}

func (s *Service) arm(ctx context.Context) error {
	groups, err := s.registry.Load(ctx)
	if err != nil {
		return err
	}
	s.scheduler.Sync(groups)
	return nil
}

func (s *Service) fetchLatest(ctx context.Context, id string) Response {
	report, err := s.fetcher.FetchLatest(ctx, id)
	resp := Response{Success: err == nil}
	if report.PostFound {
		found, sent := true, report.WebhookSent
		resp.PostFound = &found
		resp.WebhookSent = &sent
	}
	if report.Delivery != nil {
		resp.Status = report.Delivery.Status
		resp.StatusText = report.Delivery.StatusText
		resp.Body = report.Delivery.Body
	}
	if err != nil {
		s.log.Warn("fetch latest post", "group_id", id, "error", err)
		resp.Error = err.Error()
	}
	return resp
}

func (s *Service) testWebhook(ctx context.Context, rawURL string) Response {
	res := s.tester.Test(ctx, rawURL)
	if !res.Success {
		s.log.Warn("webhook test failed", "status", res.Status, "body", res.Body, "error", res.Error)
	}
	return Response{
		Success:    res.Success,
		Error:      res.Error,
		Status:     res.Status,
		StatusText: res.StatusText,
		Body:       res.Body,
	}
}

func (s *Service) result(action string, err error) Response {
	if err != nil {
		s.log.Error("request failed", "action", action, "error", err)
		return Response{Error: err.Error()}
	}
	return Response{Success: true}
}
