package diagnostics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"feeportal/internal/payment"
	"feeportal/internal/queue"
)

// Reporter receives contract violations: API responses that parsed as JSON
// but did not match the payment record shape.
type Reporter interface {
	ContractViolation(ctx context.Context, source string, err *payment.ValidationError)
}

// LogReporter writes every issue to slog.
type LogReporter struct {
	Log *slog.Logger
}

func (r LogReporter) ContractViolation(_ context.Context, source string, err *payment.ValidationError) {
	logger := r.Log
	if logger == nil {
		logger = slog.Default()
	}
	issues := make([]any, 0, len(err.Issues))
	for _, is := range err.Issues {
		issues = append(issues, slog.String(is.Path, is.Message))
	}
	logger.Error("api contract violation", "source", source, "count", len(err.Issues), slog.Group("issues", issues...))
}

// Violation is one stored contract violation.
type Violation struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Issues     []payment.Issue `json:"issues"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewViolation stamps err with a fresh id and the current time.
func NewViolation(source string, err *payment.ValidationError) Violation {
	return Violation{ID: uuid.NewString(), Source: source, Issues: err.Issues, OccurredAt: time.Now().UTC()}
}

// PostgresReporter appends violations to the contract_violations table.
type PostgresReporter struct {
	DB  *sql.DB
	Log *slog.Logger
}

func (r PostgresReporter) ContractViolation(ctx context.Context, source string, err *payment.ValidationError) {
	// the request context may already be cancelled; the record should still land
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if dbErr := r.Store(writeCtx, NewViolation(source, err)); dbErr != nil && r.Log != nil {
		r.Log.Warn("store contract violation failed", "source", source, "error", dbErr)
	}
}

// Store inserts v. Storing the same id twice is a no-op.
func (r PostgresReporter) Store(ctx context.Context, v Violation) error {
	raw, err := json.Marshal(v.Issues)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO contract_violations (id, source, issues, occurred_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		v.ID, v.Source, raw, v.OccurredAt,
	)
	return err
}

// MessageType tags violations on the diagnostics queue.
const MessageType = "contract_violation"

// QueueReporter hands violations to a worker through a queue, keeping the
// database off the request path.
type QueueReporter struct {
	Queue queue.Publisher
	Log   *slog.Logger
}

func (r QueueReporter) ContractViolation(ctx context.Context, source string, err *payment.ValidationError) {
	body, mErr := json.Marshal(NewViolation(source, err))
	if mErr != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if qErr := r.Queue.Publish(pubCtx, queue.Message{Type: MessageType, Body: body}); qErr != nil && r.Log != nil {
		r.Log.Warn("queue contract violation failed", "source", source, "error", qErr)
	}
}

// DecodeViolation reads a queued violation.
func DecodeViolation(msg queue.Message) (Violation, error) {
	if msg.Type != MessageType {
		return Violation{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var v Violation
	if err := json.Unmarshal(msg.Body, &v); err != nil {
		return Violation{}, fmt.Errorf("decode violation: %w", err)
	}
	if v.ID == "" || v.Source == "" {
		return Violation{}, errors.New("decode violation: id and source are required")
	}
	return v, nil
}

// ViolationStore persists decoded violations.
type ViolationStore interface {
	Store(ctx context.Context, v Violation) error
}

// Drainer moves queued violations into a store. A violation the store
// rejects goes back on the queue and the drainer pauses before the next one.
type Drainer struct {
	Store   ViolationStore
	Requeue queue.Publisher
	Backoff time.Duration
	Log     *slog.Logger
}

// Run consumes msgs until the channel closes and returns how many
// violations were stored.
func (d Drainer) Run(ctx context.Context, msgs <-chan queue.Message) int {
	logger := d.Log
	if logger == nil {
		logger = slog.Default()
	}
	stored := 0
	for msg := range msgs {
		v, err := DecodeViolation(msg)
		if err != nil {
			logger.Warn("dropping malformed message", "type", msg.Type, "error", err)
			continue
		}
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = d.Store.Store(writeCtx, v)
		cancel()
		if err != nil {
			logger.Error("store violation failed, requeueing", "id", v.ID, "source", v.Source, "error", err)
			d.requeue(ctx, logger, msg)
			continue
		}
		stored++
		logger.Debug("violation stored", "id", v.ID, "source", v.Source, "issues", len(v.Issues))
	}
	return stored
}

func (d Drainer) requeue(ctx context.Context, logger *slog.Logger, msg queue.Message) {
	if d.Requeue == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := d.Requeue.Publish(pubCtx, msg); err != nil {
		logger.Error("requeue failed, violation lost", "error", err)
		return
	}
	if d.Backoff > 0 {
		select {
		case <-time.After(d.Backoff):
		case <-ctx.Done():
		}
	}
}

// Multi fans a violation out to several reporters.
type Multi []Reporter

func (m Multi) ContractViolation(ctx context.Context, source string, err *payment.ValidationError) {
	for _, r := range m {
		r.ContractViolation(ctx, source, err)
	}
}

// Report forwards err to r when err is a validation error. It returns the
// validation error, or nil when err is of another kind.
func Report(ctx context.Context, r Reporter, source string, err error) *payment.ValidationError {
	var ve *payment.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	if r != nil {
		r.ContractViolation(ctx, source, ve)
	}
	return ve
}
