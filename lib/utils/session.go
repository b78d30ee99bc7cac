package utils

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
)

var (
	sessOnce sync.Once
	sess     *session.Session
)

// Session returns the AWS session shared by every invocation in the process.
// It is created on first use.
func Session() *session.Session {
	sessOnce.Do(func() {
		sess = session.Must(session.NewSession())
	})
	return sess
}
