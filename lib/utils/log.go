package utils

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambdacontext"
)

type LogUsageLambdaInput struct {
	RequestId string
	Pipeline  string
	Resource  string
	Stage     string
}

// RequestIdFromContext returns the AWS request id of the current invocation
// or an empty string outside of the Lambda runtime.
func RequestIdFromContext(ctx context.Context) string {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok {
		return ""
	}
	return lc.AwsRequestID
}

func UsageLine(input *LogUsageLambdaInput) string {
	line := "REPORT RequestId: " + input.RequestId + " Function: " + os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	if input.Pipeline != "" {
		line += " Pipeline: " + input.Pipeline
	}
	if input.Resource != "" {
		line += " Resource: " + input.Resource
	}
	if input.Stage != "" {
		line += " Stage: " + input.Stage
	}
	return line
}

func LogUsageForLambdaWithInput(input *LogUsageLambdaInput) {

	log.Print(UsageLine(input))

}
