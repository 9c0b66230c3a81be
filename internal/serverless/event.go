// Package serverless adapts the render pipeline to a queue-driven worker:
// one JSON event in, one JSON result out.
package serverless

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"logorender/internal/domain"
	"logorender/internal/infra/logging"
	"logorender/internal/job"
)

// Jobs runs renders.
type Jobs interface {
	Run(ctx context.Context, req job.Request) (*domain.Result, error)
}

// Event is one queued job.
type Event struct {
	ID    string `json:"id"`
	Input *Input `json:"input"`
}

// Input carries the same fields as the HTTP render body. Numbers may be
// sent as JSON numbers or strings.
type Input struct {
	Logo         string  `json:"logo"`
	Material     string  `json:"material"`
	ExtrudeDepth *Number `json:"extrude_depth"`
	BevelDepth   *Number `json:"bevel_depth"`
	Transparent  bool    `json:"transparent"`
	UserID       string  `json:"user_id"`
	JobID        string  `json:"job_id"`
	TimeoutSecs  *Number `json:"timeout_secs"`
}

// Number is a float that also accepts a quoted decimal.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid number %s", b)
	}
	*n = Number(f)
	return nil
}

func (n *Number) or(def float64) float64 {
	if n == nil {
		return def
	}
	return float64(*n)
}

// Request converts the input into a render request. The event id becomes
// the job id when the input names none and the id is usable in a key.
func (e Event) Request() (job.Request, error) {
	in := e.Input
	if in == nil {
		return job.Request{}, domain.Errorf(domain.KindInvalidParameter, "Missing input")
	}
	if in.Logo == "" {
		return job.Request{}, domain.Errorf(domain.KindInvalidParameter, "logo is required")
	}
	jobID := in.JobID
	if jobID == "" && domain.ValidID(e.ID) {
		jobID = e.ID
	}
	return job.Request{
		Image: in.Logo,
		Params: domain.Params{
			Material:     in.Material,
			ExtrudeDepth: in.ExtrudeDepth.or(domain.DefaultExtrudeDepth),
			BevelDepth:   in.BevelDepth.or(domain.DefaultBevelDepth),
			Transparent:  in.Transparent,
			UserID:       in.UserID,
			JobID:        jobID,
			Timeout:      time.Duration(in.TimeoutSecs.or(0) * float64(time.Second)),
		},
	}, nil
}

// Decode parses an event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, domain.Wrap(domain.KindInvalidParameter, "Invalid event", err)
	}
	return ev, nil
}

// Handle runs one event. The result is never nil; failures carry "error".
func Handle(ctx context.Context, jobs Jobs, ev Event) *domain.Result {
	logging.Info("Serverless job received", "event_id", ev.ID)
	req, err := ev.Request()
	if err != nil {
		return (&domain.Result{JobID: ev.ID}).Failed(err)
	}
	res, err := jobs.Run(ctx, req)
	if err != nil {
		logging.Error("Serverless job failed", "event_id", ev.ID, "error", err)
	}
	return res
}
