package pipeline

import (
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/codepipeline"
)

// Service error codes that the SDK does not export constants for.
const (
	ErrCodeAccessDenied       = "AccessDeniedException"
	ErrCodeUnrecognizedClient = "UnrecognizedClientException"
	ErrCodeConflict           = "ConflictException"
	ErrCodeThrottling         = "ThrottlingException"
	ErrCodeConcurrentLimitHit = "ConcurrentPipelineExecutionsLimitExceededException"
)

// ErrorCode returns the service error code carried by err, if any.
func ErrorCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}

// StatusCode maps a failed start to the status code of the error response.
func StatusCode(err error) int {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return http.StatusInternalServerError
	}
	switch aerr.Code() {
	case codepipeline.ErrCodePipelineNotFoundException:
		return http.StatusNotFound
	case codepipeline.ErrCodeValidationException:
		return http.StatusBadRequest
	case ErrCodeAccessDenied, ErrCodeUnrecognizedClient:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeThrottling, ErrCodeConcurrentLimitHit:
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}
