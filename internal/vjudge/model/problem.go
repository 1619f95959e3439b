package model

// ProblemData is a problem fetched from a remote catalogue.
type ProblemData struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	// Data holds testdata files by name.
	Data map[string][]byte `json:"-"`
	// Files holds additional files (images, attachments) by name.
	Files      map[string][]byte `json:"-"`
	Difficulty int               `json:"difficulty,omitempty"`
	// TimeLimitMs and MemoryLimitMB are optional judge config hints.
	TimeLimitMs   int64 `json:"timeLimitMs,omitempty"`
	MemoryLimitMB int64 `json:"memoryLimitMb,omitempty"`
}

// HasConfig reports whether the problem carries judge limits.
func (p ProblemData) HasConfig() bool {
	return p.TimeLimitMs > 0 || p.MemoryLimitMB > 0
}

// ProblemMeta passes hints to Provider.GetProblem.
type ProblemMeta struct {
	DomainID string
	ListName string
}
