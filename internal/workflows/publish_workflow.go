package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/publish"
)

type PublishInput struct {
	JobID     string
	UserEmail string
	Posts     []Post
	Media     *Media
}

type PlatformFailure struct {
	Platform platform.Platform `json:"platform"`
	Error    string            `json:"error"`
}

type PublishResult struct {
	Receipts []publish.Receipt `json:"receipts"`
	Failures []PlatformFailure `json:"failures"`
}

// PublishWorkflow posts every draft concurrently. One platform failing does
// not stop the others; the job fails only when nothing was posted.
func PublishWorkflow(ctx workflow.Context, input PublishInput) (PublishResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	logger := workflow.GetLogger(ctx)

	platforms := make([]string, 0, len(input.Posts))
	for _, post := range input.Posts {
		platforms = append(platforms, string(post.Platform))
	}
	report(ctx, input.JobID, events.JobStarted, map[string]any{"platforms": platforms})

	futures := make([]workflow.Future, len(input.Posts))
	for i, post := range input.Posts {
		futures[i] = workflow.ExecuteActivity(ctx, "PublishToPlatform", PlatformInput{
			JobID:     input.JobID,
			UserEmail: input.UserEmail,
			Post:      post,
			Media:     input.Media,
		})
	}

	result := PublishResult{Receipts: []publish.Receipt{}, Failures: []PlatformFailure{}}
	for i, future := range futures {
		var receipt publish.Receipt
		if err := future.Get(ctx, &receipt); err != nil {
			logger.Warn("publish activity failed", "platform", input.Posts[i].Platform, "error", err)
			result.Failures = append(result.Failures, PlatformFailure{
				Platform: input.Posts[i].Platform,
				Error:    failureMessage(err),
			})
			continue
		}
		result.Receipts = append(result.Receipts, receipt)
	}

	summary := map[string]any{
		"posted":   len(result.Receipts),
		"failures": len(result.Failures),
	}
	if len(result.Receipts) == 0 && len(result.Failures) > 0 {
		report(ctx, input.JobID, events.JobCompletedFailed, summary)
	} else {
		report(ctx, input.JobID, events.JobCompleted, summary)
	}
	return result, nil
}

func report(ctx workflow.Context, jobID string, eventType string, payload map[string]any) {
	err := workflow.ExecuteActivity(ctx, "ReportJobEvent", JobEventInput{
		JobID:   jobID,
		Type:    eventType,
		Payload: payload,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("failed to report job event", "type", eventType, "error", err)
	}
}

func failureMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
