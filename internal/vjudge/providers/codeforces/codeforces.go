// Package codeforces adapts codeforces.com to the remote judge provider contract.
package codeforces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"vjudge/internal/vjudge/fetcher"
	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"
	"vjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// Type is the provider key accounts of this site are stored under.
	Type            = "codeforces"
	DefaultEndpoint = "https://codeforces.com"

	pageSize        = 100
	defaultPoll     = 3 * time.Second
	defaultMaxPolls = 400
	statusScan      = 20
)

var (
	problemIDPattern = regexp.MustCompile(`^(\d+)([A-Z][0-9]?)$`)
	csrfPattern      = regexp.MustCompile(`name=["']?X-Csrf-Token["']?\s+content=["']([0-9a-f]+)["']|data-csrf=["']([0-9a-f]+)["']`)

	errNotLoggedIn = errors.New("codeforces session is not logged in")
)

// Provider talks to Codeforces for one account.
type Provider struct {
	f       *fetcher.Fetcher
	account model.RemoteAccount
	save    provider.SaveFunc

	pollInterval time.Duration
	maxPolls     int

	mu        sync.Mutex
	csrf      string
	catalogue []string
}

// New is the provider.Factory of Codeforces.
func New(opts provider.Options) (provider.Provider, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("codeforces provider needs a fetcher")
	}
	if opts.Account.Handle == "" {
		return nil, errors.New("codeforces account has no handle")
	}
	if err := opts.Fetcher.EnsureEndpoint(DefaultEndpoint); err != nil {
		return nil, err
	}
	p := &Provider{
		f:            opts.Fetcher,
		account:      opts.Account,
		save:         opts.Save,
		pollInterval: defaultPoll,
		maxPolls:     defaultMaxPolls,
	}
	p.csrf = opts.Account.Session["csrf"]
	return p, nil
}

// NeedComment is true: Codeforces refuses a source identical to an earlier submission.
func (p *Provider) NeedComment() bool { return true }

// EnsureLogin keeps the current session when it is still valid and logs in with the password otherwise.
func (p *Provider) EnsureLogin(ctx context.Context) error {
	resp, err := p.f.Get(ctx, "/enter", nil)
	if err != nil {
		return err
	}
	page := resp.Text()
	csrf := findCSRF(page)
	if csrf == "" {
		return fmt.Errorf("csrf token not found on %s", resp.URL)
	}
	if p.loggedIn(page) {
		p.setCSRF(ctx, csrf)
		return nil
	}
	if p.account.Password == "" {
		return errNotLoggedIn
	}

	form := url.Values{
		"csrf_token":    {csrf},
		"action":        {"enter"},
		"handleOrEmail": {p.account.Handle},
		"password":      {p.account.Password},
		"remember":      {"on"},
		"ftaa":          {""},
		"bfaa":          {""},
	}
	resp, err = p.f.PostForm(ctx, "/enter", form)
	if err != nil {
		return err
	}
	page = resp.Text()
	if !p.loggedIn(page) {
		if msg := findFieldError(page, "password"); msg != "" {
			return fmt.Errorf("login rejected: %s", msg)
		}
		return errNotLoggedIn
	}
	if token := findCSRF(page); token != "" {
		csrf = token
	}
	p.setCSRF(ctx, csrf)
	logger.Info(ctx, "codeforces login succeeded", zap.String("handle", p.account.Handle))
	return nil
}

func (p *Provider) loggedIn(page string) bool {
	return strings.Contains(page, "/logout") &&
		strings.Contains(strings.ToLower(page), "/profile/"+strings.ToLower(p.account.Handle))
}

func (p *Provider) setCSRF(ctx context.Context, token string) {
	p.mu.Lock()
	changed := p.csrf != token
	p.csrf = token
	p.mu.Unlock()
	if !changed || p.save == nil {
		return
	}
	if err := p.save(ctx, model.AccountPatch{Session: map[string]string{"csrf": token}}); err != nil {
		logger.Warn(ctx, "save codeforces session failed", zap.Error(err))
	}
}

func findCSRF(page string) string {
	m := csrfPattern.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// ListProblem pages through the problemset API, newest first. A resync pass
// only looks at the first page since new problems are added at the top.
func (p *Provider) ListProblem(ctx context.Context, page int, resync bool, list string) ([]string, error) {
	if list != "" && list != "default" {
		return nil, nil
	}
	if page < 1 || (resync && page > 1) {
		return nil, nil
	}
	if page == 1 {
		var result struct {
			Problems []apiProblem `json:"problems"`
		}
		if err := p.callAPI(ctx, "problemset.problems", nil, &result); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(result.Problems))
		for _, prob := range result.Problems {
			if prob.ContestID > 0 && prob.Index != "" {
				ids = append(ids, fmt.Sprintf("%d%s", prob.ContestID, prob.Index))
			}
		}
		p.mu.Lock()
		p.catalogue = ids
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	start := (page - 1) * pageSize
	if start >= len(p.catalogue) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(p.catalogue) {
		end = len(p.catalogue)
	}
	return append([]string(nil), p.catalogue[start:end]...), nil
}

func splitProblemID(id string) (contest, index string, err error) {
	m := problemIDPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(id)))
	if m == nil {
		return "", "", fmt.Errorf("invalid codeforces problem id %q", id)
	}
	return m[1], m[2], nil
}

// CheckStatus reports the account handle and, when live is set, its remote profile.
func (p *Provider) CheckStatus(ctx context.Context, live bool) (map[string]any, error) {
	info := map[string]any{
		"handle":   p.account.Handle,
		"endpoint": p.f.Endpoint(),
	}
	if !live {
		return info, nil
	}
	var users []apiUser
	if err := p.callAPI(ctx, "user.info", url.Values{"handles": {p.account.Handle}}, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s not found", p.account.Handle)
	}
	info["rating"] = users[0].Rating
	info["rank"] = users[0].Rank
	if users[0].LastOnlineTimeSeconds > 0 {
		info["lastOnline"] = time.Unix(users[0].LastOnlineTimeSeconds, 0).UTC().Format(time.RFC3339)
	}
	return info, nil
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.StatusChecker = (*Provider)(nil)
	_ provider.LanguageSet   = (*Provider)(nil)
	_ provider.Commenter     = (*Provider)(nil)
)
