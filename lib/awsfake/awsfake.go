// Package awsfake holds in-memory CodePipeline and CodeBuild clients that
// record their inputs. Tests use them in place of the SDK clients.
package awsfake

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/codebuild"
	"github.com/aws/aws-sdk-go/service/codebuild/codebuildiface"
	"github.com/aws/aws-sdk-go/service/codepipeline"
	"github.com/aws/aws-sdk-go/service/codepipeline/codepipelineiface"
)

// CodePipeline fakes the calls the functions make. Calling any other API
// panics on the nil embedded interface.
type CodePipeline struct {
	codepipelineiface.CodePipelineAPI

	ExecutionId string
	StartErr    error
	Jobs        []*codepipeline.Job
	PollErr     error
	AckStatus   string
	AckErr      error
	ResultErr   error

	Started      []*codepipeline.StartPipelineExecutionInput
	Polled       []*codepipeline.PollForJobsInput
	Acknowledged []*codepipeline.AcknowledgeJobInput
	Succeeded    []*codepipeline.PutJobSuccessResultInput
	Failed       []*codepipeline.PutJobFailureResultInput
}

func (f *CodePipeline) StartPipelineExecutionWithContext(ctx aws.Context, input *codepipeline.StartPipelineExecutionInput, opts ...request.Option) (*codepipeline.StartPipelineExecutionOutput, error) {
	f.Started = append(f.Started, input)
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	return &codepipeline.StartPipelineExecutionOutput{PipelineExecutionId: aws.String(f.ExecutionId)}, nil
}

func (f *CodePipeline) PollForJobsWithContext(ctx aws.Context, input *codepipeline.PollForJobsInput, opts ...request.Option) (*codepipeline.PollForJobsOutput, error) {
	f.Polled = append(f.Polled, input)
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	return &codepipeline.PollForJobsOutput{Jobs: f.Jobs}, nil
}

func (f *CodePipeline) AcknowledgeJobWithContext(ctx aws.Context, input *codepipeline.AcknowledgeJobInput, opts ...request.Option) (*codepipeline.AcknowledgeJobOutput, error) {
	f.Acknowledged = append(f.Acknowledged, input)
	if f.AckErr != nil {
		return nil, f.AckErr
	}
	status := f.AckStatus
	if status == "" {
		status = codepipeline.JobStatusInProgress
	}
	return &codepipeline.AcknowledgeJobOutput{Status: aws.String(status)}, nil
}

func (f *CodePipeline) PutJobSuccessResultWithContext(ctx aws.Context, input *codepipeline.PutJobSuccessResultInput, opts ...request.Option) (*codepipeline.PutJobSuccessResultOutput, error) {
	f.Succeeded = append(f.Succeeded, input)
	if f.ResultErr != nil {
		return nil, f.ResultErr
	}
	return &codepipeline.PutJobSuccessResultOutput{}, nil
}

func (f *CodePipeline) PutJobFailureResultWithContext(ctx aws.Context, input *codepipeline.PutJobFailureResultInput, opts ...request.Option) (*codepipeline.PutJobFailureResultOutput, error) {
	f.Failed = append(f.Failed, input)
	if f.ResultErr != nil {
		return nil, f.ResultErr
	}
	return &codepipeline.PutJobFailureResultOutput{}, nil
}

// CodeBuild reports Statuses in order, one per BatchGetBuilds call, and
// repeats the last one. With no statuses the build is not found.
type CodeBuild struct {
	codebuildiface.CodeBuildAPI

	BuildId  string
	StartErr error
	Statuses []string
	GetErr   error

	Started []*codebuild.StartBuildInput
	Gets    int
}

func (f *CodeBuild) StartBuildWithContext(ctx aws.Context, input *codebuild.StartBuildInput, opts ...request.Option) (*codebuild.StartBuildOutput, error) {
	f.Started = append(f.Started, input)
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	return &codebuild.StartBuildOutput{Build: &codebuild.Build{
		Id:          aws.String(f.BuildId),
		BuildStatus: aws.String(codebuild.StatusTypeInProgress),
	}}, nil
}

func (f *CodeBuild) BatchGetBuildsWithContext(ctx aws.Context, input *codebuild.BatchGetBuildsInput, opts ...request.Option) (*codebuild.BatchGetBuildsOutput, error) {
	f.Gets++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if len(f.Statuses) == 0 {
		return &codebuild.BatchGetBuildsOutput{BuildsNotFound: input.Ids}, nil
	}
	i := f.Gets - 1
	if i >= len(f.Statuses) {
		i = len(f.Statuses) - 1
	}
	status := f.Statuses[i]
	return &codebuild.BatchGetBuildsOutput{Builds: []*codebuild.Build{{
		Id:            aws.String(f.BuildId),
		BuildStatus:   aws.String(status),
		BuildComplete: aws.Bool(status != codebuild.StatusTypeInProgress),
		CurrentPhase:  aws.String("BUILD"),
	}}}, nil
}
