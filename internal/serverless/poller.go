package serverless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"logorender/internal/config"
	"logorender/internal/domain"
	"logorender/internal/infra/logging"
)

// Output is posted back to the queue for each job.
type Output struct {
	Output *domain.Result `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Poller pulls jobs from a webhook queue, runs them and posts results.
type Poller struct {
	jobs      Jobs
	jobURL    string
	resultURL string
	workerID  string
	apiKey    string
	interval  time.Duration
	timeout   time.Duration
}

// NewPoller validates the worker configuration.
func NewPoller(cfg config.WorkerConfig, jobs Jobs) (*Poller, error) {
	if cfg.JobURL == "" || cfg.ResultURL == "" {
		return nil, errors.New("worker job_url and result_url are required for poll mode")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		jobs:      jobs,
		jobURL:    strings.ReplaceAll(cfg.JobURL, "$ID", cfg.WorkerID),
		resultURL: cfg.ResultURL,
		workerID:  cfg.WorkerID,
		apiKey:    cfg.APIKey,
		interval:  interval,
		timeout:   timeout,
	}, nil
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	logging.Info("Worker polling for jobs", "worker_id", p.workerID, "interval", p.interval.String())
	for {
		if ctx.Err() != nil {
			logging.Info("Worker stopped", "worker_id", p.workerID)
			return nil
		}
		handled, err := p.PollOnce(ctx)
		if err != nil {
			logging.Error("Job poll failed", "error", err)
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.interval):
		}
	}
}

// PollOnce fetches at most one job and reports whether one was handled.
func (p *Poller) PollOnce(ctx context.Context) (bool, error) {
	id, body, err := p.fetch()
	if err != nil || id == "" {
		return false, err
	}

	var out Output
	ev, err := Decode(body)
	if err != nil {
		out = Output{Output: (&domain.Result{JobID: id}).Failed(err), Error: err.Error()}
	} else {
		res := Handle(ctx, p.jobs, ev)
		out = Output{Output: res}
		if res.Status == domain.StatusFailed {
			out.Error = res.Error
		}
	}
	if err := p.post(id, out); err != nil {
		return true, err
	}
	return true, nil
}

func (p *Poller) agent(a *fiber.Agent) *fiber.Agent {
	a.Timeout(p.timeout)
	if p.apiKey != "" {
		a.Set(fiber.HeaderAuthorization, p.apiKey)
	}
	return a
}

// fetch returns the next job's id and raw body; an empty id means no job.
func (p *Poller) fetch() (string, []byte, error) {
	code, body, errs := p.agent(fiber.Get(p.jobURL)).Bytes()
	if len(errs) > 0 {
		return "", nil, fmt.Errorf("get job: %w", errors.Join(errs...))
	}
	if code == fiber.StatusNoContent || len(strings.TrimSpace(string(body))) == 0 {
		return "", nil, nil
	}
	if code != fiber.StatusOK {
		return "", nil, fmt.Errorf("get job: unexpected status %d", code)
	}
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", nil, fmt.Errorf("decode job: %w", err)
	}
	return head.ID, body, nil
}

func (p *Poller) post(jobID string, out Output) error {
	url := strings.ReplaceAll(p.resultURL, "$ID", jobID)
	code, _, errs := p.agent(fiber.Post(url)).JSON(out).Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post result: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("post result: unexpected status %d", code)
	}
	logging.Info("Job result posted", "job_id", jobID, "status", code)
	return nil
}
