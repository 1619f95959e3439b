package service

import (
	"context"
	"time"

	"vjudge/internal/common/mq"
	"vjudge/internal/vjudge/fetcher"
	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/repository"
)

const (
	defaultLoginInterval  = time.Hour
	defaultResyncInterval = 7 * 24 * time.Hour
	defaultSyncDelay      = 5 * time.Second
	defaultStatusTimeout  = 15 * time.Second
	defaultProblemList    = "default"
)

// Config tunes the remote judge workers.
type Config struct {
	// Host is this node's name, matched against RemoteAccount.EnableOn.
	Host           string
	LoginInterval  time.Duration
	ResyncInterval time.Duration
	// SyncDelay is the pause after each imported problem.
	SyncDelay time.Duration
	// WaitTimeout bounds WaitForSubmission; zero or negative disables it.
	WaitTimeout   time.Duration
	StatusTimeout time.Duration
	// HTTP is the template every account Fetcher is built from.
	HTTP fetcher.Config
}

func (c *Config) setDefaults() {
	if c.LoginInterval <= 0 {
		c.LoginInterval = defaultLoginInterval
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = defaultResyncInterval
	}
	if c.SyncDelay <= 0 {
		c.SyncDelay = defaultSyncDelay
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = defaultStatusTimeout
	}
}

// ProblemFiles stores the files of imported problems.
type ProblemFiles interface {
	PutTestdata(ctx context.Context, domainID, pid, name string, data []byte) error
	PutAdditionalFile(ctx context.Context, domainID, pid, name string, data []byte) error
}

// StatusPublisher shares this node's account statuses with other nodes.
type StatusPublisher interface {
	Publish(ctx context.Context, host string, statuses map[string]model.AccountStatus) error
}

// Dependencies are the collaborators of the remote judge workers.
type Dependencies struct {
	Accounts repository.AccountRepository
	Mounts   repository.MountRepository
	Problems repository.ProblemRepository
	Settings repository.SettingRepository
	Files    ProblemFiles
	Tasks    mq.Consumer
	Results  ResultSink
	// Guard defaults to a SyncGuard scoped to the service.
	Guard ImportGuard
	// Status is optional.
	Status StatusPublisher
}
