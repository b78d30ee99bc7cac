package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"cdpipeline/lib/build"
	"cdpipeline/lib/job"
	"cdpipeline/lib/utils"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/codepipeline"
)

var handler Handler

type Handler func(ctx context.Context, event events.CloudWatchEvent) error

// Config is read from the environment. GitPullCodeBuild is the name the
// deployment stack sets and is used when GIT_PULL_CODEBUILD is absent.
type Config struct {
	ProjectName         string        `mapstructure:"GIT_PULL_CODEBUILD" validate:"required_without=DeployedProjectName"`
	DeployedProjectName string        `mapstructure:"GitPullCodeBuild"`
	PollInterval        time.Duration `mapstructure:"BUILD_POLL_INTERVAL" validate:"required"`
	ReportReserve       time.Duration `mapstructure:"REPORT_RESERVE"`
	BatchSize           int64         `mapstructure:"JOB_BATCH_SIZE" validate:"gte=1"`
	Stage               string        `mapstructure:"STAGE"`
}

type ActionContext struct {
	Jobs          *job.Worker
	Builds        *build.Runner
	ReportReserve time.Duration
	Stage         string
	ConfigErr     error
}

func LoadConfig() (*Config, error) {
	c := &Config{
		PollInterval:  build.DefaultPollInterval,
		ReportReserve: 15 * time.Second,
		BatchSize:     1,
	}
	if err := utils.DecodeEnv(c); err != nil {
		return nil, fmt.Errorf("git source config: %w", err)
	}
	if c.ProjectName == "" {
		c.ProjectName = c.DeployedProjectName
	}
	return c, nil
}

func HandleStateChange(ctx context.Context, event *events.CloudWatchEvent, ac *ActionContext) error {
	if ac.ConfigErr != nil {
		log.Printf("Git source worker misconfigured: %s", ac.ConfigErr.Error())
		return ac.ConfigErr
	}

	detail, err := job.ParseStateChange(event.Detail)
	if err != nil {
		log.Print(err.Error())
		return err
	}

	utils.LogUsageForLambdaWithInput(&utils.LogUsageLambdaInput{
		RequestId: utils.RequestIdFromContext(ctx),
		Pipeline:  detail.Pipeline,
		Resource:  detail.Stage + "/" + detail.Action,
		Stage:     ac.Stage,
	})

	if detail.State != job.StateStarted {
		log.Printf("Ignoring %s action %s in state %s", detail.Type.Provider, detail.Action, detail.State)
		return nil
	}

	jobs, err := ac.Jobs.Poll(ctx, detail.Type)
	if err != nil {
		log.Print(err.Error())
		return err
	}
	for _, j := range jobs {
		ProcessJob(ctx, j, ac)
	}
	return nil
}

// ProcessJob runs the git pull build for one job and reports the outcome to
// CodePipeline. Failures after acknowledgement always end in a failure result.
func ProcessJob(ctx context.Context, j *codepipeline.Job, ac *ActionContext) {
	jobId := aws.StringValue(j.Id)

	if err := ac.Jobs.Acknowledge(ctx, j); err != nil {
		log.Printf("Skipping job: %s", err.Error())
		return
	}

	source, err := job.DecodeGitSource(j)
	if err != nil {
		report(ac.Jobs.Fail(ctx, jobId, "", err.Error()))
		return
	}
	log.Printf("Job %s pulls %s branch %s for pipeline %s", jobId, source.GitUrl, source.Branch, source.PipelineName)

	buildCtx, cancel := reserveContext(ctx, ac.ReportReserve)
	defer cancel()

	result, err := ac.Builds.Run(buildCtx, &build.Request{
		EnvironmentVariables: source.BuildEnvironment(),
		ArtifactBucket:       source.Bucket,
		ArtifactKey:          source.ObjectKey,
	})
	if err != nil {
		externalId := ""
		if result != nil {
			externalId = result.BuildId
		}
		report(ac.Jobs.Fail(ctx, jobId, externalId, err.Error()))
		return
	}
	if !result.Succeeded() {
		report(ac.Jobs.Fail(ctx, jobId, result.BuildId, fmt.Sprintf("build %s finished with status %s", result.BuildId, result.Status)))
		return
	}
	report(ac.Jobs.Succeed(ctx, jobId, result.BuildId, fmt.Sprintf("Pulled %s from %s", source.Branch, source.GitUrl)))
}

// reserveContext ends the returned context early enough before the
// invocation deadline to leave time for reporting the job result.
func reserveContext(ctx context.Context, reserve time.Duration) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || reserve <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-reserve))
}

func report(err error) {
	if err != nil {
		log.Print(err.Error())
	}
}

func InitializeHandler(ac *ActionContext) Handler {
	return func(ctx context.Context, event events.CloudWatchEvent) error {
		return HandleStateChange(ctx, &event, ac)
	}
}

func init() {
	log.Print("git_source cold start")

	ac := &ActionContext{}
	config, err := LoadConfig()
	if err != nil {
		ac.ConfigErr = err
	} else {
		ac.Jobs = &job.Worker{BatchSize: config.BatchSize}
		ac.Builds = &build.Runner{ProjectName: config.ProjectName, PollInterval: config.PollInterval}
		ac.ReportReserve = config.ReportReserve
		ac.Stage = config.Stage
	}

	handler = InitializeHandler(ac)
}

func main() {
	log.SetFlags(0)
	lambda.Start(handler)
}
