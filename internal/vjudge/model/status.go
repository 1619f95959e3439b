package model

// Status is a judge record status as understood by the platform.
type Status int

const (
	StatusWaiting             Status = 0
	StatusAccepted            Status = 1
	StatusWrongAnswer         Status = 2
	StatusTimeLimitExceeded   Status = 3
	StatusMemoryLimitExceeded Status = 4
	StatusOutputLimitExceeded Status = 5
	StatusRuntimeError        Status = 6
	StatusCompileError        Status = 7
	StatusSystemError         Status = 8
	StatusCanceled            Status = 9
	StatusETC                 Status = 10
	StatusJudging             Status = 20
	StatusCompiling           Status = 21
	StatusFetched             Status = 22
	StatusIgnored             Status = 30
)

var statusNames = map[Status]string{
	StatusWaiting:             "Waiting",
	StatusAccepted:            "Accepted",
	StatusWrongAnswer:         "Wrong Answer",
	StatusTimeLimitExceeded:   "Time Limit Exceeded",
	StatusMemoryLimitExceeded: "Memory Limit Exceeded",
	StatusOutputLimitExceeded: "Output Limit Exceeded",
	StatusRuntimeError:        "Runtime Error",
	StatusCompileError:        "Compile Error",
	StatusSystemError:         "System Error",
	StatusCanceled:            "Cancelled",
	StatusETC:                 "Unknown Error",
	StatusJudging:             "Running",
	StatusCompiling:           "Compiling",
	StatusFetched:             "Fetched",
	StatusIgnored:             "Ignored",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether a record in this status is finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusWaiting, StatusJudging, StatusCompiling, StatusFetched:
		return false
	}
	return true
}
