// Package ingest consumes grading-pipeline messages from the result queue and
// applies them to the submission and result stores. Delivery is at-least-once:
// every handler downstream is idempotent or write-once, so duplicates resolve
// to no-ops or Conflict and are dropped here.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

// Lifecycle is the slice of the submission store the pipeline drives.
type Lifecycle interface {
	AppendTaskResult(submissionID string, result subm.TaskResult) error
	Finalize(submissionID string, status subm.Status) error
}

// ResultSink stores grading byproducts: outputs, case artifacts, binaries.
type ResultSink interface {
	PutTaskOutput(ctx context.Context, submissionID string, taskIndex, caseIndex int, kind subm.OutputKind, payload []byte) error
	PutCaseArtifact(ctx context.Context, submissionID string, taskIndex, caseIndex int, archive []byte) error
	PutCompiledBinary(ctx context.Context, submissionID string, binary []byte) error
}

type Dispatcher struct {
	lifecycle Lifecycle
	results   ResultSink
	logger    *slog.Logger
}

func NewDispatcher(lifecycle Lifecycle, results ResultSink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{lifecycle: lifecycle, results: results, logger: logger}
}

// Dispatch decodes one queue message body and applies it. The returned error's
// kind decides redelivery: Internal means "try again later", everything else
// means the message is spent.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) error {
	var header api.IngestHeader
	if err := json.Unmarshal(body, &header); err != nil {
		return errs.New(errs.KindInvalidArgument, "malformed queue message: %v", err)
	}
	if header.SubmissionID == "" {
		return errs.New(errs.KindInvalidArgument, "queue message carries no submission_id")
	}

	switch header.MsgType {
	case api.MsgTypeTaskResult:
		var msg api.TaskResultMsg
		if err := json.Unmarshal(body, &msg); err != nil {
			return errs.New(errs.KindInvalidArgument, "malformed %s message: %v", header.MsgType, err)
		}
		return d.lifecycle.AppendTaskResult(msg.SubmissionID, subm.TaskResult{
			TaskIndex:   msg.TaskIndex,
			Verdict:     subm.Status(msg.Verdict),
			CasesPassed: msg.CasesPassed,
		})

	case api.MsgTypeTaskOutput:
		var msg api.TaskOutputMsg
		if err := json.Unmarshal(body, &msg); err != nil {
			return errs.New(errs.KindInvalidArgument, "malformed %s message: %v", header.MsgType, err)
		}
		return d.results.PutTaskOutput(ctx, msg.SubmissionID, msg.TaskIndex, msg.CaseIndex, subm.OutputKind(msg.Kind), msg.Payload)

	case api.MsgTypeCaseArtifact:
		var msg api.CaseArtifactMsg
		if err := json.Unmarshal(body, &msg); err != nil {
			return errs.New(errs.KindInvalidArgument, "malformed %s message: %v", header.MsgType, err)
		}
		return d.results.PutCaseArtifact(ctx, msg.SubmissionID, msg.TaskIndex, msg.CaseIndex, msg.Archive)

	case api.MsgTypeCompiledBinary:
		var msg api.CompiledBinaryMsg
		if err := json.Unmarshal(body, &msg); err != nil {
			return errs.New(errs.KindInvalidArgument, "malformed %s message: %v", header.MsgType, err)
		}
		return d.results.PutCompiledBinary(ctx, msg.SubmissionID, msg.Binary)

	case api.MsgTypeFinalized:
		var msg api.FinalizedMsg
		if err := json.Unmarshal(body, &msg); err != nil {
			return errs.New(errs.KindInvalidArgument, "malformed %s message: %v", header.MsgType, err)
		}
		return d.lifecycle.Finalize(msg.SubmissionID, subm.Status(msg.Status))

	default:
		return errs.New(errs.KindInvalidArgument, "unknown msg_type %q", header.MsgType)
	}
}

// SQSClient is the subset of the SQS API the consumer uses.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type Consumer struct {
	client     SQSClient
	queueURL   string
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewConsumer(client SQSClient, queueURL string, dispatcher *Dispatcher, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:     client,
		queueURL:   queueURL,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run long-polls the queue until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     5,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to receive messages", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, message := range output.Messages {
			if message.Body == nil {
				continue
			}
			err := c.dispatcher.Dispatch(ctx, []byte(*message.Body))
			switch {
			case err == nil:
			case errs.KindOf(err) == errs.KindConflict:
				// duplicate delivery of a write-once slot, already applied
				c.logger.Debug("dropping duplicate message", "error", err)
			case errs.KindOf(err) == errs.KindInternal:
				// leave the message in flight so the queue redelivers it
				c.logger.Error("failed to apply message, leaving for redelivery", "error", err)
				continue
			default:
				c.logger.Warn("dropping unusable message", "error", err)
			}

			_, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(c.queueURL),
				ReceiptHandle: message.ReceiptHandle,
			})
			if err != nil {
				c.logger.Error("failed to delete message", "error", err)
			}
		}
	}
}
