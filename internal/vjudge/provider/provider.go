// Package provider defines the contract every remote judge adapter implements.
package provider

import (
	"context"
	"errors"
	"strings"

	"vjudge/internal/vjudge/fetcher"
	"vjudge/internal/vjudge/model"
)

// ListPrefix marks an entry of ListProblem that names another catalogue list.
const ListPrefix = "LIST::"

// ErrStreamClosed is returned by a Reporter once End has been called.
var ErrStreamClosed = errors.New("result stream already ended")

// ParseListMarker returns the list name carried by a LIST:: entry.
func ParseListMarker(id string) (string, bool) {
	if !strings.HasPrefix(id, ListPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(id, ListPrefix))
	return name, name != ""
}

// Reporter receives the result stream of one task.
// Next may be called any number of times; End exactly once, and nothing after it.
type Reporter interface {
	Next(ctx context.Context, p model.Progress) error
	End(ctx context.Context, f model.Final) error
}

// SubmitRequest is one submission handed to a provider.
type SubmitRequest struct {
	// Target is the remote problem id.
	Target string
	// Lang is the remote language key, already resolved through validAs.
	Lang string
	Code string
	Task model.JudgeTask
}

// Provider is a protocol adapter for one remote judge site.
type Provider interface {
	// EnsureLogin returns nil once the session is authenticated.
	EnsureLogin(ctx context.Context) error
	// ListProblem returns one page of remote ids. An empty page ends pagination.
	ListProblem(ctx context.Context, page int, resync bool, list string) ([]string, error)
	// GetProblem fetches a problem. A nil result skips the id.
	GetProblem(ctx context.Context, id string, meta model.ProblemMeta) (*model.ProblemData, error)
	// SubmitProblem returns the remote submission id, or "" after ending rep itself.
	SubmitProblem(ctx context.Context, req SubmitRequest, rep Reporter) (string, error)
	// WaitForSubmission polls until the verdict is known and must End rep.
	WaitForSubmission(ctx context.Context, id string, rep Reporter) error
}

// StatusChecker is implemented by providers that can diagnose themselves.
type StatusChecker interface {
	CheckStatus(ctx context.Context, live bool) (map[string]any, error)
}

// LanguageSet is implemented by providers accepting a fixed set of languages.
type LanguageSet interface {
	Langs() model.LanguageMapping
}

// Commenter is implemented by providers that want the record id embedded in submitted code.
type Commenter interface {
	NeedComment() bool
}

// SaveFunc persists refreshed cookies or session state of the account.
type SaveFunc func(ctx context.Context, patch model.AccountPatch) error

// Options is what a Factory receives for one account.
type Options struct {
	Account model.RemoteAccount
	// Fetcher carries the account cookies, proxy and limits. Its endpoint is the
	// account override, if any; providers call EnsureEndpoint with their default site.
	Fetcher *fetcher.Fetcher
	Save    SaveFunc
}

// Factory builds a Provider bound to one account.
type Factory func(opts Options) (Provider, error)
