package pipeline

import (
	"context"
	"fmt"
	"sync"

	"cdpipeline/lib/utils"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/codepipeline"
	"github.com/aws/aws-sdk-go/service/codepipeline/codepipelineiface"
	"github.com/google/uuid"
)

type Config struct {
	PipelineName string `mapstructure:"PIPELINE_NAME" validate:"required"`
	Stage        string `mapstructure:"STAGE"`
}

type StartResult struct {
	PipelineName       string
	ExecutionId        string
	ClientRequestToken string
}

// Starter starts executions of a single named pipeline. A nil Client
// means the process wide client from DefaultClient.
type Starter struct {
	Client       codepipelineiface.CodePipelineAPI
	PipelineName string
}

var (
	clientOnce sync.Once
	client     codepipelineiface.CodePipelineAPI
)

func LoadConfig() (*Config, error) {
	c := &Config{}
	if err := utils.DecodeEnv(c); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	return c, nil
}

// DefaultClient returns the CodePipeline client shared by all invocations.
func DefaultClient() codepipelineiface.CodePipelineAPI {
	clientOnce.Do(func() {
		client = codepipeline.New(utils.Session())
	})
	return client
}

func (s *Starter) Start(ctx context.Context) (*StartResult, error) {
	c := s.Client
	if c == nil {
		c = DefaultClient()
	}
	token := uuid.NewString()
	res, err := c.StartPipelineExecutionWithContext(ctx, &codepipeline.StartPipelineExecutionInput{
		Name:               aws.String(s.PipelineName),
		ClientRequestToken: aws.String(token),
	})
	if err != nil {
		return nil, fmt.Errorf("start execution of pipeline %s: %w", s.PipelineName, err)
	}
	return &StartResult{
		PipelineName:       s.PipelineName,
		ExecutionId:        aws.StringValue(res.PipelineExecutionId),
		ClientRequestToken: token,
	}, nil
}
