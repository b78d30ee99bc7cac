package build

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"sync"
	"time"

	"cdpipeline/lib/utils"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/codebuild"
	"github.com/aws/aws-sdk-go/service/codebuild/codebuildiface"
)

const DefaultPollInterval = 10 * time.Second

type Request struct {
	EnvironmentVariables map[string]string
	ArtifactBucket       string
	ArtifactKey          string
}

type Result struct {
	BuildId string
	Status  string
}

func (r *Result) Succeeded() bool {
	return r.Status == codebuild.StatusTypeSucceeded
}

// Runner starts builds of one CodeBuild project and waits for them.
type Runner struct {
	Client       codebuildiface.CodeBuildAPI
	ProjectName  string
	PollInterval time.Duration
}

var (
	clientOnce sync.Once
	client     codebuildiface.CodeBuildAPI
)

func DefaultClient() codebuildiface.CodeBuildAPI {
	clientOnce.Do(func() {
		client = codebuild.New(utils.Session())
	})
	return client
}

func (r *Runner) client() codebuildiface.CodeBuildAPI {
	if r.Client == nil {
		return DefaultClient()
	}
	return r.Client
}

func (r *Runner) Start(ctx context.Context, req *Request) (string, error) {
	input := &codebuild.StartBuildInput{
		ProjectName:                  aws.String(r.ProjectName),
		EnvironmentVariablesOverride: environmentOverride(req.EnvironmentVariables),
	}
	if req.ArtifactBucket != "" {
		input.ArtifactsOverride = artifactsOverride(req.ArtifactBucket, req.ArtifactKey)
	}
	out, err := r.client().StartBuildWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("start build of project %s: %w", r.ProjectName, err)
	}
	buildId := aws.StringValue(out.Build.Id)
	log.Printf("Started build %s of project %s", buildId, r.ProjectName)
	return buildId, nil
}

// Wait polls the build until it completes. When ctx ends first the result
// carries the last status seen together with the context error.
func (r *Runner) Wait(ctx context.Context, buildId string) (*Result, error) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	result := &Result{BuildId: buildId, Status: codebuild.StatusTypeInProgress}
	for {
		out, err := r.client().BatchGetBuildsWithContext(ctx, &codebuild.BatchGetBuildsInput{
			Ids: []*string{aws.String(buildId)},
		})
		if err != nil {
			return result, fmt.Errorf("get build %s: %w", buildId, err)
		}
		if len(out.Builds) == 0 {
			return result, fmt.Errorf("build %s not found", buildId)
		}
		b := out.Builds[0]
		result.Status = aws.StringValue(b.BuildStatus)
		if aws.BoolValue(b.BuildComplete) {
			log.Printf("Build %s finished with status %s", buildId, result.Status)
			return result, nil
		}
		log.Printf("Build %s %s in phase %s", buildId, result.Status, aws.StringValue(b.CurrentPhase))

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("wait for build %s: %w", buildId, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Runner) Run(ctx context.Context, req *Request) (*Result, error) {
	buildId, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx, buildId)
}

func environmentOverride(vars map[string]string) []*codebuild.EnvironmentVariable {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	env := make([]*codebuild.EnvironmentVariable, len(names))
	for i, name := range names {
		env[i] = &codebuild.EnvironmentVariable{
			Name:  aws.String(name),
			Value: aws.String(vars[name]),
			Type:  aws.String(codebuild.EnvironmentVariableTypePlaintext),
		}
	}
	return env
}

// artifactsOverride writes the build output as a zip at bucket/key, which is
// where CodePipeline expects the source action's output artifact.
func artifactsOverride(bucket string, key string) *codebuild.ProjectArtifacts {
	dir := path.Dir(key)
	if dir == "." {
		dir = ""
	}
	return &codebuild.ProjectArtifacts{
		Type:          aws.String(codebuild.ArtifactsTypeS3),
		Location:      aws.String(bucket),
		Path:          aws.String(dir),
		Name:          aws.String(path.Base(key)),
		NamespaceType: aws.String(codebuild.ArtifactNamespaceNone),
		Packaging:     aws.String(codebuild.ArtifactPackagingZip),
	}
}
