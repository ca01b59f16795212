// Package deadletter defines the record preserved for messages that
// exhausted their retry budget, so operators can inspect them instead of
// losing them.
package deadletter

import (
	"encoding/json"
	"time"
)

// FailureInfo describes why and how often the replay failed.
type FailureInfo struct {
	Token            string    `json:"token"`
	FailureReason    string    `json:"failureReason"`
	ExceptionType    string    `json:"exceptionType"`
	RetryCount       int       `json:"retryCount"`
	MaxRetries       int       `json:"maxRetries"`
	FailureTimestamp time.Time `json:"failureTimestamp"`
}

// Metadata locates the failure in the deployment.
type Metadata struct {
	OriginalTopic string `json:"originalTopic"`
	ServiceName   string `json:"serviceName"`
	Environment   string `json:"environment"`
}

// Record is the dead-letter payload published to the DLQ topic. The
// original message is carried verbatim as it was on the requests topic.
type Record struct {
	OriginalMessage json.RawMessage `json:"originalMessage"`
	FailureInfo     FailureInfo     `json:"failureInfo"`
	Metadata        Metadata        `json:"metadata"`
}
