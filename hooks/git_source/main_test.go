package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cdpipeline/lib/awsfake"
	"cdpipeline/lib/build"
	"cdpipeline/lib/job"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/codebuild"
	"github.com/aws/aws-sdk-go/service/codepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startedDetail = `{
	"pipeline": "pipelineName",
	"execution-id": "exec-1",
	"stage": "Source",
	"action": "Source",
	"state": "STARTED",
	"type": {"owner": "Custom", "category": "Source", "provider": "CustomSourceForGit", "version": "1"}
}`

func gitJob(configuration map[string]string) *codepipeline.Job {
	return &codepipeline.Job{
		Id:    aws.String("job-1"),
		Nonce: aws.String("nonce-1"),
		Data: &codepipeline.JobData{
			ActionConfiguration: &codepipeline.ActionConfiguration{
				Configuration: aws.StringMap(configuration),
			},
			OutputArtifacts: []*codepipeline.Artifact{{
				Name: aws.String("MyApp"),
				Location: &codepipeline.ArtifactLocation{
					Type: aws.String(codepipeline.ArtifactLocationTypeS3),
					S3Location: &codepipeline.S3ArtifactLocation{
						BucketName: aws.String("artifact-pipeline"),
						ObjectKey:  aws.String("pipelineName/MyApp/abc123"),
					},
				},
			}},
		},
	}
}

func validJob() *codepipeline.Job {
	return gitJob(map[string]string{
		"GitUrl":           "git@gitlab.com:org/app.git",
		"Branch":           "develop",
		"PipelineName":     "pipelineName",
		"SSHSecretKeyName": "Secret",
	})
}

func newActionContext(cp *awsfake.CodePipeline, cb *awsfake.CodeBuild) *ActionContext {
	return &ActionContext{
		Jobs:          &job.Worker{Client: cp, BatchSize: 1},
		Builds:        &build.Runner{Client: cb, ProjectName: "CodeBuildGitLab", PollInterval: time.Millisecond},
		ReportReserve: time.Second,
		Stage:         "dev",
	}
}

func stateChange(detail string) events.CloudWatchEvent {
	return events.CloudWatchEvent{
		Source:     "aws.codepipeline",
		DetailType: "CodePipeline Action Execution State Change",
		Detail:     json.RawMessage(detail),
	}
}

func TestHandler_BuildSucceeded(t *testing.T) {
	cp := &awsfake.CodePipeline{Jobs: []*codepipeline.Job{validJob()}}
	cb := &awsfake.CodeBuild{
		BuildId:  "CodeBuildGitLab:1",
		Statuses: []string{codebuild.StatusTypeInProgress, codebuild.StatusTypeSucceeded},
	}
	h := InitializeHandler(newActionContext(cp, cb))

	require.NoError(t, h(context.Background(), stateChange(startedDetail)))

	require.Len(t, cp.Polled, 1)
	require.Len(t, cp.Acknowledged, 1)
	require.Len(t, cb.Started, 1)
	assert.Equal(t, "CodeBuildGitLab", aws.StringValue(cb.Started[0].ProjectName))
	assert.Equal(t, "artifact-pipeline", aws.StringValue(cb.Started[0].ArtifactsOverride.Location))

	require.Len(t, cp.Succeeded, 1)
	assert.Empty(t, cp.Failed)
	assert.Equal(t, "job-1", aws.StringValue(cp.Succeeded[0].JobId))
	assert.Equal(t, "CodeBuildGitLab:1", aws.StringValue(cp.Succeeded[0].ExecutionDetails.ExternalExecutionId))
}

func TestHandler_BuildFailed(t *testing.T) {
	cp := &awsfake.CodePipeline{Jobs: []*codepipeline.Job{validJob()}}
	cb := &awsfake.CodeBuild{BuildId: "CodeBuildGitLab:2", Statuses: []string{codebuild.StatusTypeFailed}}
	h := InitializeHandler(newActionContext(cp, cb))

	require.NoError(t, h(context.Background(), stateChange(startedDetail)))

	assert.Empty(t, cp.Succeeded)
	require.Len(t, cp.Failed, 1)
	details := cp.Failed[0].FailureDetails
	assert.Equal(t, "CodeBuildGitLab:2", aws.StringValue(details.ExternalExecutionId))
	assert.Contains(t, aws.StringValue(details.Message), codebuild.StatusTypeFailed)
}

func TestHandler_InvalidJobConfiguration(t *testing.T) {
	cp := &awsfake.CodePipeline{Jobs: []*codepipeline.Job{gitJob(map[string]string{"GitUrl": "git@gitlab.com:org/app.git"})}}
	cb := &awsfake.CodeBuild{BuildId: "b"}
	h := InitializeHandler(newActionContext(cp, cb))

	require.NoError(t, h(context.Background(), stateChange(startedDetail)))

	assert.Empty(t, cb.Started)
	require.Len(t, cp.Failed, 1)
	assert.Contains(t, aws.StringValue(cp.Failed[0].FailureDetails.Message), "Branch")
}

func TestHandler_BuildStartFailed(t *testing.T) {
	cp := &awsfake.CodePipeline{Jobs: []*codepipeline.Job{validJob()}}
	cb := &awsfake.CodeBuild{StartErr: errors.New("project not found")}
	h := InitializeHandler(newActionContext(cp, cb))

	require.NoError(t, h(context.Background(), stateChange(startedDetail)))

	require.Len(t, cp.Failed, 1)
	assert.Nil(t, cp.Failed[0].FailureDetails.ExternalExecutionId)
	assert.Contains(t, aws.StringValue(cp.Failed[0].FailureDetails.Message), "project not found")
}

func TestHandler_JobTakenElsewhere(t *testing.T) {
	cp := &awsfake.CodePipeline{Jobs: []*codepipeline.Job{validJob()}, AckStatus: codepipeline.JobStatusSucceeded}
	cb := &awsfake.CodeBuild{BuildId: "b"}
	h := InitializeHandler(newActionContext(cp, cb))

	require.NoError(t, h(context.Background(), stateChange(startedDetail)))

	assert.Empty(t, cb.Started)
	assert.Empty(t, cp.Succeeded)
	assert.Empty(t, cp.Failed)
}

func TestHandler_IgnoresOtherStates(t *testing.T) {
	cp := &awsfake.CodePipeline{}
	h := InitializeHandler(newActionContext(cp, &awsfake.CodeBuild{}))

	require.NoError(t, h(context.Background(), stateChange(`{"pipeline":"pipelineName","state":"SUCCEEDED"}`)))
	assert.Empty(t, cp.Polled)
}

func TestHandler_NoJobs(t *testing.T) {
	cp := &awsfake.CodePipeline{}
	cb := &awsfake.CodeBuild{}
	h := InitializeHandler(newActionContext(cp, cb))

	require.NoError(t, h(context.Background(), stateChange(startedDetail)))
	assert.Len(t, cp.Polled, 1)
	assert.Empty(t, cb.Started)
}

func TestHandler_PollError(t *testing.T) {
	cp := &awsfake.CodePipeline{PollErr: errors.New("throttled")}
	h := InitializeHandler(newActionContext(cp, &awsfake.CodeBuild{}))

	err := h(context.Background(), stateChange(startedDetail))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestHandler_BadDetail(t *testing.T) {
	cp := &awsfake.CodePipeline{}
	h := InitializeHandler(newActionContext(cp, &awsfake.CodeBuild{}))

	require.Error(t, h(context.Background(), stateChange(`"not an object"`)))
	assert.Empty(t, cp.Polled)
}

func TestHandler_BadConfiguration(t *testing.T) {
	h := InitializeHandler(&ActionContext{ConfigErr: errors.New("git source config: validate: ProjectName required")})
	err := h(context.Background(), stateChange(startedDetail))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProjectName")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("GIT_PULL_CODEBUILD", "CodeBuildGitLab")
	t.Setenv("GitPullCodeBuild", "")
	t.Setenv("BUILD_POLL_INTERVAL", "5s")
	t.Setenv("JOB_BATCH_SIZE", "")
	t.Setenv("STAGE", "qa")

	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JOB_BATCH_SIZE", "2")
	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "CodeBuildGitLab", c.ProjectName)
	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, 15*time.Second, c.ReportReserve)
	assert.Equal(t, int64(2), c.BatchSize)
	assert.Equal(t, "qa", c.Stage)
}

func TestLoadConfig_DeployedProjectName(t *testing.T) {
	t.Setenv("GIT_PULL_CODEBUILD", "")
	t.Setenv("GitPullCodeBuild", "CodeBuildGitLab")
	t.Setenv("BUILD_POLL_INTERVAL", "10s")
	t.Setenv("JOB_BATCH_SIZE", "1")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "CodeBuildGitLab", c.ProjectName)

	t.Setenv("GIT_PULL_CODEBUILD", "CodeBuildOverride")
	c, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "CodeBuildOverride", c.ProjectName)
}

func TestLoadConfig_MissingProject(t *testing.T) {
	t.Setenv("GIT_PULL_CODEBUILD", "")
	t.Setenv("GitPullCodeBuild", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProjectName")
}

func TestReserveContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	reserved, cancelReserved := reserveContext(ctx, 15*time.Second)
	defer cancelReserved()

	parent, _ := ctx.Deadline()
	deadline, ok := reserved.Deadline()
	require.True(t, ok)
	assert.Equal(t, parent.Add(-15*time.Second), deadline)

	plain, cancelPlain := reserveContext(context.Background(), 15*time.Second)
	defer cancelPlain()
	_, ok = plain.Deadline()
	assert.False(t, ok)
}
