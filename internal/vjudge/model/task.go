package model

import (
	"encoding/json"
	"strings"
)

// TaskType is the queue type of every remote judge task.
const TaskType = "remotejudge"

// JudgeTask is one submission routed to a remote judge.
type JudgeTask struct {
	ID       string `json:"id"`
	RID      string `json:"rid"`
	DomainID string `json:"domainId,omitempty"`
	Type     string `json:"type"`
	SubType  string `json:"subType"`
	// Target is the remote problem id.
	Target string          `json:"target"`
	Lang   string          `json:"lang"`
	Code   string          `json:"code"`
	Config json.RawMessage `json:"config,omitempty"`
}

// TaskTopic is the queue topic carrying tasks for a provider root.
func TaskTopic(subType string) string {
	return TaskType + "." + subType
}

// Validate checks the fields every task must carry.
func (t JudgeTask) Validate() []string {
	var missing []string
	if strings.TrimSpace(t.RID) == "" {
		missing = append(missing, "rid")
	}
	if strings.TrimSpace(t.Target) == "" {
		missing = append(missing, "target")
	}
	if strings.TrimSpace(t.Lang) == "" {
		missing = append(missing, "lang")
	}
	return missing
}
