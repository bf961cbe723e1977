package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/auroraid/apiserver/internal/mq"
)

// mailJob is the queue payload. It carries the rendered mail.
type mailJob struct {
	Kind    Kind   `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// QueueSender hands mail to a broker for the mailer worker to deliver.
type QueueSender struct {
	backend mq.Backend
	queue   string
}

func NewQueueSender(backend mq.Backend, queue string) *QueueSender {
	return &QueueSender{backend: backend, queue: queue}
}

func (q *QueueSender) Send(ctx context.Context, mail Mail) error {
	data, err := json.Marshal(mailJob{Kind: mail.Kind, To: mail.To, Subject: mail.Subject, HTML: mail.HTML})
	if err != nil {
		return err
	}
	id, err := q.backend.Publish(ctx, q.queue, data, map[string]string{"kind": string(mail.Kind)})
	if err != nil {
		return fmt.Errorf("publish mail job: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("job_id", id).Str("mail", string(mail.Kind)).Msg("mail queued")
	return nil
}

// Worker consumes mail jobs and delivers them with a Sender.
type Worker struct {
	backend mq.Backend
	queue   string
	sender  Sender
	logger  zerolog.Logger
}

func NewWorker(backend mq.Backend, queue string, sender Sender, logger zerolog.Logger) *Worker {
	return &Worker{backend: backend, queue: queue, sender: sender, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("queue", w.queue).Msg("mailer started")
	return w.backend.Subscribe(ctx, w.queue, w.handle)
}

// handle drops malformed jobs and returns delivery errors so the broker
// redelivers.
func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	logger := w.logger.With().Str("job_id", msg.ID).Logger()

	var job mailJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.To == "" {
		logger.Error().Err(err).Msg("discarding malformed mail job")
		return nil
	}

	mail := Mail{Kind: job.Kind, To: job.To, Subject: job.Subject, HTML: job.HTML}
	if err := w.sender.Send(logger.WithContext(ctx), mail); err != nil {
		logger.Warn().Err(err).Str("mail", string(job.Kind)).Msg("mail delivery failed")
		return err
	}
	logger.Info().Str("mail", string(job.Kind)).Str("email", job.To).Msg("mail delivered")
	return nil
}
