package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"cdpipeline/lib/pipeline"
	"cdpipeline/lib/utils"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/codepipeline"
	"github.com/aws/aws-sdk-go/service/codepipeline/codepipelineiface"
)

const (
	ProviderCustomSourceForGit = "CustomSourceForGit"
	StateStarted               = "STARTED"
)

type ActionType struct {
	Category string `json:"category"`
	Owner    string `json:"owner"`
	Provider string `json:"provider"`
	Version  string `json:"version"`
}

// StateChangeDetail is the detail of a "CodePipeline Action Execution State
// Change" event.
type StateChangeDetail struct {
	Pipeline    string     `json:"pipeline"`
	ExecutionId string     `json:"execution-id"`
	Stage       string     `json:"stage"`
	Action      string     `json:"action"`
	State       string     `json:"state"`
	Region      string     `json:"region"`
	Type        ActionType `json:"type"`
}

// GitSource is the configuration of a CustomSourceForGit action together
// with the location its output artifact must be written to.
type GitSource struct {
	GitUrl           string `mapstructure:"GitUrl" validate:"required"`
	Branch           string `mapstructure:"Branch" validate:"required"`
	PipelineName     string `mapstructure:"PipelineName" validate:"required"`
	SSHSecretKeyName string `mapstructure:"SSHSecretKeyName" validate:"required"`
	Bucket           string `mapstructure:"-" validate:"required"`
	ObjectKey        string `mapstructure:"-" validate:"required"`
}

type Worker struct {
	Client    codepipelineiface.CodePipelineAPI
	BatchSize int64
}

func DefaultActionType() ActionType {
	return ActionType{
		Category: codepipeline.ActionCategorySource,
		Owner:    codepipeline.ActionOwnerCustom,
		Provider: ProviderCustomSourceForGit,
		Version:  "1",
	}
}

func ParseStateChange(detail json.RawMessage) (*StateChangeDetail, error) {
	var d StateChangeDetail
	if err := json.Unmarshal(detail, &d); err != nil {
		return nil, fmt.Errorf("parse state change detail: %w", err)
	}
	if d.Type.Provider == "" {
		d.Type = DefaultActionType()
	}
	return &d, nil
}

func DecodeGitSource(j *codepipeline.Job) (*GitSource, error) {
	if j.Data == nil || j.Data.ActionConfiguration == nil {
		return nil, fmt.Errorf("job %s has no action configuration", aws.StringValue(j.Id))
	}
	configuration := make(map[string]interface{})
	for k, v := range j.Data.ActionConfiguration.Configuration {
		configuration[k] = aws.StringValue(v)
	}
	source := &GitSource{}
	for _, artifact := range j.Data.OutputArtifacts {
		if artifact.Location != nil && artifact.Location.S3Location != nil {
			source.Bucket = aws.StringValue(artifact.Location.S3Location.BucketName)
			source.ObjectKey = aws.StringValue(artifact.Location.S3Location.ObjectKey)
			break
		}
	}
	if err := utils.DecodeMap(configuration, source); err != nil {
		return nil, fmt.Errorf("job %s configuration: %w", aws.StringValue(j.Id), err)
	}
	return source, nil
}

// BuildEnvironment is the set of variables the git pull project reads.
func (s *GitSource) BuildEnvironment() map[string]string {
	return map[string]string{
		"GitUrl":           s.GitUrl,
		"Branch":           s.Branch,
		"PipelineName":     s.PipelineName,
		"SSHSecretKeyName": s.SSHSecretKeyName,
		"ArtifactBucket":   s.Bucket,
		"ArtifactKey":      s.ObjectKey,
	}
}

func (w *Worker) client() codepipelineiface.CodePipelineAPI {
	if w.Client == nil {
		return pipeline.DefaultClient()
	}
	return w.Client
}

func (w *Worker) Poll(ctx context.Context, actionType ActionType) ([]*codepipeline.Job, error) {
	batchSize := w.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	out, err := w.client().PollForJobsWithContext(ctx, &codepipeline.PollForJobsInput{
		ActionTypeId: &codepipeline.ActionTypeId{
			Category: aws.String(actionType.Category),
			Owner:    aws.String(actionType.Owner),
			Provider: aws.String(actionType.Provider),
			Version:  aws.String(actionType.Version),
		},
		MaxBatchSize: aws.Int64(batchSize),
	})
	if err != nil {
		return nil, fmt.Errorf("poll for %s jobs: %w", actionType.Provider, err)
	}
	log.Printf("Polled %d %s job(s)", len(out.Jobs), actionType.Provider)
	return out.Jobs, nil
}

// Acknowledge claims the job. A job that is no longer InProgress after the
// call belongs to someone else and must not be worked on.
func (w *Worker) Acknowledge(ctx context.Context, j *codepipeline.Job) error {
	jobId := aws.StringValue(j.Id)
	out, err := w.client().AcknowledgeJobWithContext(ctx, &codepipeline.AcknowledgeJobInput{
		JobId: j.Id,
		Nonce: j.Nonce,
	})
	if err != nil {
		return fmt.Errorf("acknowledge job %s: %w", jobId, err)
	}
	if status := aws.StringValue(out.Status); status != codepipeline.JobStatusInProgress {
		return fmt.Errorf("job %s is %s after acknowledgement", jobId, status)
	}
	return nil
}

func (w *Worker) Succeed(ctx context.Context, jobId string, externalId string, summary string) error {
	_, err := w.client().PutJobSuccessResultWithContext(ctx, &codepipeline.PutJobSuccessResultInput{
		JobId: aws.String(jobId),
		ExecutionDetails: &codepipeline.ExecutionDetails{
			ExternalExecutionId: aws.String(externalId),
			Summary:             aws.String(summary),
			PercentComplete:     aws.Int64(100),
		},
	})
	if err != nil {
		return fmt.Errorf("report success of job %s: %w", jobId, err)
	}
	log.Printf("Job %s succeeded: %s", jobId, summary)
	return nil
}

func (w *Worker) Fail(ctx context.Context, jobId string, externalId string, message string) error {
	details := &codepipeline.FailureDetails{
		Type:    aws.String(codepipeline.FailureTypeJobFailed),
		Message: aws.String(message),
	}
	if externalId != "" {
		details.ExternalExecutionId = aws.String(externalId)
	}
	_, err := w.client().PutJobFailureResultWithContext(ctx, &codepipeline.PutJobFailureResultInput{
		JobId:          aws.String(jobId),
		FailureDetails: details,
	})
	if err != nil {
		return fmt.Errorf("report failure of job %s: %w", jobId, err)
	}
	log.Printf("Job %s failed: %s", jobId, message)
	return nil
}
