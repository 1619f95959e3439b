package model

import "time"

// CaseResult is the verdict of one test case.
type CaseResult struct {
	ID       int     `json:"id"`
	Subtask  int     `json:"subtask,omitempty"`
	Status   Status  `json:"status"`
	TimeMs   int64   `json:"time"`
	MemoryKB int64   `json:"memory"`
	Score    float64 `json:"score,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Progress is an in-progress update for a record. It can never close the stream.
type Progress struct {
	// Status is optional; zero keeps the current status.
	Status       *Status     `json:"status,omitempty"`
	Case         *CaseResult `json:"case,omitempty"`
	CompilerText string      `json:"compilerText,omitempty"`
	Progress     *float64    `json:"progress,omitempty"`
	Message      string      `json:"message,omitempty"`
}

// WithStatus returns a Progress carrying only a status change and message.
func WithStatus(status Status, message string) Progress {
	return Progress{Status: &status, Message: message}
}

// Final is the single terminal result of a record.
type Final struct {
	Status       Status  `json:"status"`
	Score        float64 `json:"score"`
	TimeMs       int64   `json:"time"`
	MemoryKB     int64   `json:"memory"`
	Message      string  `json:"message,omitempty"`
	CompilerText string  `json:"compilerText,omitempty"`
}

// Failed builds a terminal result with no score.
func Failed(status Status, message string) Final {
	return Final{Status: status, Message: message}
}

// RecordEvent is one element of a record's result stream as handed to the sink.
type RecordEvent struct {
	RID      string    `json:"rid"`
	Seq      int       `json:"seq"`
	Terminal bool      `json:"terminal"`
	Progress *Progress `json:"progress,omitempty"`
	Final    *Final    `json:"final,omitempty"`
	At       time.Time `json:"at"`
}

// RecordSnapshot folds a record's events into its latest visible state.
type RecordSnapshot struct {
	RID          string       `json:"rid"`
	Status       Status       `json:"status"`
	Score        float64      `json:"score"`
	TimeMs       int64        `json:"time"`
	MemoryKB     int64        `json:"memory"`
	Cases        []CaseResult `json:"cases,omitempty"`
	CompilerText []string     `json:"compilerText,omitempty"`
	Progress     float64      `json:"progress,omitempty"`
	Message      string       `json:"message,omitempty"`
	Done         bool         `json:"done"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Apply folds ev into the snapshot.
func (s *RecordSnapshot) Apply(ev RecordEvent) {
	s.RID = ev.RID
	s.UpdatedAt = ev.At
	if ev.Progress != nil {
		p := ev.Progress
		if p.Status != nil {
			s.Status = *p.Status
		}
		if p.Case != nil {
			s.Cases = append(s.Cases, *p.Case)
		}
		if p.CompilerText != "" {
			s.CompilerText = append(s.CompilerText, p.CompilerText)
		}
		if p.Progress != nil {
			s.Progress = *p.Progress
		}
		if p.Message != "" {
			s.Message = p.Message
		}
	}
	if ev.Final != nil {
		f := ev.Final
		s.Status = f.Status
		s.Score = f.Score
		s.TimeMs = f.TimeMs
		s.MemoryKB = f.MemoryKB
		if f.Message != "" {
			s.Message = f.Message
		}
		if f.CompilerText != "" {
			s.CompilerText = append(s.CompilerText, f.CompilerText)
		}
		s.Done = true
	}
}
