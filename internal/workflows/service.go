package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/sdk/client"
)

const DefaultTaskQueue = "crossposter-posts"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) StartPublish(ctx context.Context, input PublishInput) error {
	if strings.TrimSpace(input.JobID) == "" {
		return errors.New("job_id required")
	}
	if len(input.Posts) == 0 {
		return errors.New("at least one post required")
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID(input.JobID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, PublishWorkflow, input)
	return err
}

func workflowID(jobID string) string {
	return fmt.Sprintf("publish:%s", jobID)
}
