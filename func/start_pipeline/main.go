package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"cdpipeline/lib/pipeline"
	"cdpipeline/lib/utils"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

const (
	greeting          = "Hello from Lambda!"
	notStartedMessage = "pipeline could not be started"
	notConfigured     = "pipeline is not configured"
)

var handler Handler

type Handler func(ctx context.Context, event json.RawMessage) (events.APIGatewayProxyResponse, error)

type ActionContext struct {
	Starter   *pipeline.Starter
	Stage     string
	ConfigErr error
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StartPipeline starts one execution of the configured pipeline. The event
// is never inspected and failures come back as error shaped responses that
// carry the service error code but not its message. The full error is only
// logged.
func StartPipeline(ctx context.Context, ac *ActionContext) (events.APIGatewayProxyResponse, error) {
	usage := &utils.LogUsageLambdaInput{
		RequestId: utils.RequestIdFromContext(ctx),
		Stage:     ac.Stage,
	}
	if ac.Starter != nil {
		usage.Pipeline = ac.Starter.PipelineName
	}
	utils.LogUsageForLambdaWithInput(usage)

	if ac.ConfigErr != nil {
		log.Printf("Pipeline not started, bad configuration: %s", ac.ConfigErr.Error())
		return ErrorResponse(http.StatusInternalServerError, "", notConfigured), nil
	}

	res, err := ac.Starter.Start(ctx)
	if err != nil {
		log.Printf("Failed to start pipeline %s: %s", ac.Starter.PipelineName, err.Error())
		return ErrorResponse(pipeline.StatusCode(err), pipeline.ErrorCode(err), notStartedMessage), nil
	}
	log.Printf("Started pipeline %s execution %s", res.PipelineName, res.ExecutionId)

	body, err := json.Marshal(greeting)
	if err != nil {
		log.Printf("Error encoding response body: %s", err.Error())
		return ErrorResponse(http.StatusInternalServerError, "", http.StatusText(http.StatusInternalServerError)), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

func ErrorResponse(status int, code string, message string) events.APIGatewayProxyResponse {
	res := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	body, err := json.Marshal(ErrorBody{Message: message, Code: code})
	if err != nil {
		log.Printf("Error encoding error body: %s", err.Error())
		return res
	}
	res.Body = string(body)
	return res
}

func InitializeHandler(ac *ActionContext) Handler {
	return func(ctx context.Context, event json.RawMessage) (events.APIGatewayProxyResponse, error) {
		return StartPipeline(ctx, ac)
	}
}

func init() {
	log.Print("start_pipeline cold start")

	ac := &ActionContext{}
	config, err := pipeline.LoadConfig()
	if err != nil {
		ac.ConfigErr = err
	} else {
		ac.Stage = config.Stage
		ac.Starter = &pipeline.Starter{PipelineName: config.PipelineName}
	}

	handler = InitializeHandler(ac)
}

func main() {
	log.SetFlags(0)
	lambda.Start(handler)
}
