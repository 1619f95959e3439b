package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vjudge/internal/common/mq"
	"vjudge/internal/vjudge/fetcher"
	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"
	"vjudge/internal/vjudge/repository"
	appErr "vjudge/pkg/errors"
	"vjudge/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type accountState int32

const (
	stateStarting accountState = iota
	stateWorking
	stateLoginFailed
	stateStopped
)

// AccountService runs one remote account: login refresh, task consumption
// and catalogue sync, all sharing a single Provider.
type AccountService struct {
	cfg   Config
	deps  Dependencies
	langs *LanguageCatalog
	guard ImportGuard

	accountMu sync.RWMutex
	account   model.RemoteAccount

	api     provider.Provider
	fetcher *fetcher.Fetcher

	ctx    context.Context
	cancel context.CancelFunc
	logCtx context.Context

	state   atomic.Int32
	syncing atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	lastErr  string
	sub      mq.Subscription
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newAccountService(cfg Config, deps Dependencies, langs *LanguageCatalog, account model.RemoteAccount, factory provider.Factory) *AccountService {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AccountService{
		cfg:     cfg,
		deps:    deps,
		langs:   langs,
		guard:   deps.Guard,
		account: account,
		ctx:     ctx,
		cancel:  cancel,
		logCtx:  logger.WithAccount(context.Background(), account.Type, account.Key()),
	}

	httpCfg := cfg.HTTP
	httpCfg.Endpoint = account.Endpoint
	httpCfg.Proxy = account.Proxy
	httpCfg.Cookies = account.Cookie
	f, err := fetcher.New(httpCfg)
	if err != nil {
		a.fail(appErr.Wrapf(err, appErr.ProviderCreateFailed, "build fetcher failed: %s", err.Error()))
		return a
	}
	a.fetcher = f

	err = protect(func() error {
		api, err := factory(provider.Options{Account: account, Fetcher: f, Save: a.save})
		if err != nil {
			return err
		}
		if api == nil {
			return errors.New("factory returned no provider")
		}
		a.api = api
		return nil
	})
	if err != nil {
		a.fail(appErr.Wrapf(err, appErr.ProviderCreateFailed, "create provider failed: %s", err.Error()))
	}
	return a
}

// Account returns a copy of the account record.
func (a *AccountService) Account() model.RemoteAccount {
	a.accountMu.RLock()
	defer a.accountMu.RUnlock()
	return a.account
}

// Key is the account key used in logs and status maps.
func (a *AccountService) Key() string {
	return a.Account().Key()
}

// Working reports whether the first login succeeded and the account is running.
func (a *AccountService) Working() bool {
	return accountState(a.state.Load()) == stateWorking
}

// Syncing reports whether a catalogue sync pass is running.
func (a *AccountService) Syncing() bool {
	return a.syncing.Load()
}

// Provider returns the provider bound to the account, nil if it could not be created.
func (a *AccountService) Provider() provider.Provider {
	return a.api
}

// Start logs in and, on success, starts the refresh loop, the task consumer and a first sync pass.
func (a *AccountService) Start() {
	if a.api == nil {
		return
	}
	a.wg.Add(1)
	threading.GoSafe(func() {
		defer a.wg.Done()
		a.run()
	})
}

func (a *AccountService) run() {
	if err := a.login(a.ctx); err != nil {
		if a.stopped.Load() {
			return
		}
		a.state.Store(int32(stateLoginFailed))
		a.setError(err)
		logger.Error(a.logCtx, "remote login failed, account disabled", zap.Error(err))
		return
	}
	if !a.state.CompareAndSwap(int32(stateStarting), int32(stateWorking)) {
		return
	}
	a.setError(nil)
	logger.Info(a.logCtx, "remote account working")

	if err := a.subscribe(); err != nil {
		a.setError(err)
		logger.Error(a.logCtx, "subscribe judge tasks failed", zap.Error(err))
	}

	a.wg.Add(1)
	threading.GoSafe(func() {
		defer a.wg.Done()
		a.loginLoop()
	})
	a.TriggerSync()
}

func (a *AccountService) login(ctx context.Context) error {
	err := protect(func() error { return a.api.EnsureLogin(ctx) })
	if err != nil {
		return appErr.RemoteError(err, appErr.RemoteLoginFailed, a.Account().Type)
	}
	a.persistCookies(ctx)
	return nil
}

func (a *AccountService) loginLoop() {
	ticker := time.NewTicker(a.cfg.LoginInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
		if a.stopped.Load() {
			return
		}
		if err := a.login(a.ctx); err != nil {
			a.setError(err)
			logger.Warn(a.logCtx, "login refresh failed", zap.Error(err))
			continue
		}
		a.setError(nil)
		logger.Debug(a.logCtx, "login refreshed")
	}
}

// save persists a patch reported by the provider and keeps the local copy in step.
func (a *AccountService) save(ctx context.Context, patch model.AccountPatch) error {
	if patch.Empty() {
		return nil
	}
	a.accountMu.Lock()
	id := a.account.ID
	if patch.Cookie != nil {
		a.account.Cookie = patch.Cookie
	}
	if patch.Session != nil {
		a.account.Session = patch.Session
	}
	a.accountMu.Unlock()
	if a.deps.Accounts == nil {
		return nil
	}
	if err := a.deps.Accounts.Save(ctx, id, patch); err != nil {
		return appErr.Wrapf(err, appErr.RemoteSessionSaveFail, "save account %s failed", id)
	}
	return nil
}

// persistCookies stores the fetcher jar when it differs from the stored cookies.
func (a *AccountService) persistCookies(ctx context.Context) {
	if a.fetcher == nil {
		return
	}
	cookies := a.fetcher.Cookies()
	if len(cookies) == 0 || sameStrings(cookies, a.Account().Cookie) {
		return
	}
	if err := a.save(ctx, model.AccountPatch{Cookie: cookies}); err != nil {
		logger.Warn(a.logCtx, "persist cookies failed", zap.Error(err))
	}
}

func (a *AccountService) subscribe() error {
	root := a.Account().TypeRoot()
	sub, err := a.deps.Tasks.Subscribe(a.ctx, model.TaskTopic(root), a.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup: "vjudge-" + root,
		Concurrency:   1,
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped.Load() {
		_ = sub.Close()
		return nil
	}
	a.sub = sub
	return nil
}

// HandleMessage judges one task. It never returns an error: every failure
// becomes the terminal event of the task so the consumer moves on.
func (a *AccountService) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	var task model.JudgeTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Warn(a.logCtx, "drop undecodable task", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if task.Type == "" {
		task.Type, _ = msg.GetHeader("type")
	}
	if task.SubType == "" {
		task.SubType, _ = msg.GetHeader("subType")
	}
	root := a.Account().TypeRoot()
	if (task.Type != "" && task.Type != model.TaskType) || (task.SubType != "" && task.SubType != root) {
		logger.Warn(a.logCtx, "drop task for another judge", zap.String("type", task.Type), zap.String("sub_type", task.SubType))
		return nil
	}
	if task.RID == "" {
		logger.Warn(a.logCtx, "drop task without record id", zap.String("message_id", msg.ID))
		return nil
	}
	a.Judge(ctx, task)
	return nil
}

// Judge runs the submit and wait pipeline for task and guarantees exactly one terminal event.
func (a *AccountService) Judge(ctx context.Context, task model.JudgeTask) {
	ctx = logger.WithRecord(logger.WithAccount(ctx, a.Account().Type, a.Key()), task.RID)
	stream := newResultStream(a.deps.Results, task.RID)

	err := protect(func() error { return a.judge(ctx, task, stream) })
	if stream.Ended() {
		if err != nil {
			logger.Warn(ctx, "task failed after its verdict was reported", zap.Error(err))
		}
		return
	}
	if err == nil {
		err = errors.New("provider returned without a final verdict")
	}
	logger.Warn(ctx, "task ended with system error", zap.Error(err))
	if endErr := stream.End(ctx, model.Failed(model.StatusSystemError, err.Error())); endErr != nil {
		logger.Error(ctx, "report system error failed", zap.Error(endErr))
	}
}

func (a *AccountService) judge(ctx context.Context, task model.JudgeTask, stream *resultStream) error {
	if missing := task.Validate(); len(missing) > 0 {
		return appErr.Newf(appErr.RequiredFieldEmpty, "task is missing %s", strings.Join(missing, ", "))
	}
	if err := stream.Next(ctx, model.WithStatus(model.StatusFetched, "")); err != nil {
		return err
	}

	account := a.Account()
	if a.langs != nil {
		if err := a.langs.Load(ctx); err != nil {
			logger.Warn(ctx, "reload language table failed, using cached table", zap.Error(err))
		}
	}
	remoteLang, langCfg, ok := a.resolveLanguage(task.Lang)
	if !ok {
		unsupported := appErr.Newf(appErr.LanguageNotSupported, "Language not supported by %s: %s", account.Type, task.Lang)
		logger.Info(ctx, "reject task", zap.Error(unsupported))
		return stream.End(ctx, model.Failed(model.StatusCompileError, unsupported.Message))
	}

	code := task.Code
	if c, ok := a.api.(provider.Commenter); ok && c.NeedComment() {
		marker := langCfg.CommentLine(fmt.Sprintf("vjudge submission #%s@%d", task.RID, time.Now().UnixMilli()))
		if marker != "" {
			code = marker + "\n" + code
		}
	}

	id, err := a.api.SubmitProblem(ctx, provider.SubmitRequest{
		Target: task.Target,
		Lang:   remoteLang,
		Code:   code,
		Task:   task,
	}, stream)
	if err != nil {
		return appErr.RemoteError(err, appErr.RemoteSubmitFailed, account.Type)
	}
	if id == "" {
		return nil
	}
	logger.Info(ctx, "submitted to remote judge", zap.String("remote_id", id))

	judging := model.WithStatus(model.StatusJudging, "ID = "+id)
	if err := stream.Next(ctx, judging); err != nil {
		return err
	}

	waitCtx := ctx
	if a.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.cfg.WaitTimeout)
		defer cancel()
	}
	if err := a.api.WaitForSubmission(waitCtx, id, stream); err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return appErr.Newf(appErr.RemoteWaitTimeout, "no verdict for %s within %s", id, a.cfg.WaitTimeout)
		}
		return appErr.RemoteError(err, appErr.RemoteFetchFailed, account.Type)
	}
	if !stream.Ended() && waitCtx.Err() != nil {
		return appErr.Newf(appErr.RemoteWaitTimeout, "no verdict for %s within %s", id, a.cfg.WaitTimeout)
	}
	return nil
}

// resolveLanguage maps a platform language key to the key the remote site expects.
// Providers with a fixed language set only accept languages bound through validAs.
func (a *AccountService) resolveLanguage(lang string) (string, model.LangConfig, bool) {
	providerType := a.Account().Type
	cfg, known := model.LangConfig{}, false
	if a.langs != nil {
		cfg, known = a.langs.Get(lang)
	}
	remote := ""
	if known {
		remote = cfg.ValidAs[providerType]
	}

	set, fixed := a.api.(provider.LanguageSet)
	if !fixed {
		if remote == "" {
			remote = lang
		}
		return remote, cfg, true
	}
	if remote == "" {
		return "", cfg, false
	}
	langs := set.Langs()
	remoteCfg, ok := langs[remote]
	if !ok {
		return "", cfg, false
	}
	if len(cfg.Comment) == 0 {
		cfg.Comment = remoteCfg.Comment
	}
	return remote, cfg, true
}

// TriggerSync starts a sync pass in the background. It returns false when
// one is already running or the account is not working.
func (a *AccountService) TriggerSync() bool {
	if !a.Working() || a.stopped.Load() || a.syncing.Load() {
		return false
	}
	a.wg.Add(1)
	threading.GoSafe(func() {
		defer a.wg.Done()
		if err := a.Sync(a.ctx); err != nil {
			logger.Warn(a.logCtx, "catalogue sync stopped with error", zap.Error(err))
		}
	})
	return true
}

// Sync imports every problem of the account's lists into each mounted domain.
// A call while another pass is running returns immediately.
func (a *AccountService) Sync(ctx context.Context) error {
	if a.api == nil {
		return appErr.New(appErr.ProviderCreateFailed)
	}
	if !a.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer a.syncing.Store(false)

	account := a.Account()
	lists := append([]string(nil), account.ProblemLists...)
	if len(lists) == 0 {
		lists = []string{defaultProblemList}
	}
	seen := make(map[string]bool, len(lists))
	for _, l := range lists {
		seen[l] = true
	}

	logger.Info(a.logCtx, "catalogue sync started", zap.Strings("lists", lists))
	imported := 0
	for {
		discovered := false
		for _, list := range append([]string(nil), lists...) {
			if a.stopping(ctx) {
				return nil
			}
			mounts, err := a.deps.Mounts.ListByProvider(ctx, account.TypeRoot())
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "list mounts failed")
			}
			for _, mount := range mounts {
				if a.stopping(ctx) {
					return nil
				}
				found, n := a.syncList(ctx, mount, list)
				imported += n
				for _, name := range found {
					if !seen[name] {
						seen[name] = true
						lists = append(lists, name)
						discovered = true
						logger.Info(a.logCtx, "discovered problem list", zap.String("list", name))
					}
				}
			}
		}
		if !discovered {
			break
		}
	}
	logger.Info(a.logCtx, "catalogue sync finished", zap.Int("imported", imported))
	return nil
}

// syncList pages through one list for one mount. It returns the list names
// announced by the provider and the number of problems imported.
func (a *AccountService) syncList(ctx context.Context, mount model.Mount, list string) ([]string, int) {
	resync := mount.Done(list)
	var found []string
	imported := 0
	for page := 1; ; page++ {
		if a.stopping(ctx) {
			return found, imported
		}
		var ids []string
		err := protect(func() error {
			var err error
			ids, err = a.api.ListProblem(ctx, page, resync, list)
			return err
		})
		if err != nil {
			logger.Warn(a.logCtx, "list problems failed",
				zap.String("domain", mount.DomainID), zap.String("list", list), zap.Int("page", page), zap.Error(err))
			return found, imported
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if name, ok := provider.ParseListMarker(id); ok {
				found = append(found, name)
				continue
			}
			if a.stopping(ctx) {
				return found, imported
			}
			fetched, ok, err := a.importProblem(ctx, mount, list, id)
			if err != nil {
				logger.Warn(a.logCtx, "import problem failed",
					zap.String("domain", mount.DomainID), zap.String("remote_id", id), zap.Error(err))
			}
			if ok {
				imported++
			}
			if fetched {
				a.pause(ctx)
			}
		}
	}
	if !resync {
		if err := a.deps.Mounts.MarkSyncDone(ctx, mount.DomainID, list); err != nil {
			logger.Warn(a.logCtx, "mark list synced failed", zap.String("domain", mount.DomainID), zap.String("list", list), zap.Error(err))
		}
	}
	return found, imported
}

// importProblem imports one remote problem. fetched reports whether the remote
// site returned a problem, imported whether it was stored.
func (a *AccountService) importProblem(ctx context.Context, mount model.Mount, list, remoteID string) (fetched, imported bool, err error) {
	pid, err := LocalProblemID(remoteID)
	if err != nil {
		return false, false, err
	}
	exists, err := a.deps.Problems.Exists(ctx, mount.DomainID, pid)
	if err != nil || exists {
		return false, false, err
	}
	release, ok := a.guard.Acquire(ctx, mount.DomainID, pid)
	if !ok {
		return false, false, nil
	}
	defer release()
	// Another worker may have stored it between the check and the acquire.
	if exists, err := a.deps.Problems.Exists(ctx, mount.DomainID, pid); err != nil || exists {
		return false, false, err
	}

	// The item finishes even if the account is stopped meanwhile.
	itemCtx := context.WithoutCancel(ctx)
	var data *model.ProblemData
	err = protect(func() error {
		var err error
		data, err = a.api.GetProblem(itemCtx, remoteID, model.ProblemMeta{DomainID: mount.DomainID, ListName: list})
		return err
	})
	if err != nil {
		return true, false, appErr.RemoteError(err, appErr.RemoteFetchFailed, a.Account().Type)
	}
	if data == nil {
		return false, false, nil
	}
	if err := a.store(itemCtx, mount.DomainID, pid, remoteID, data); err != nil {
		if errors.Is(err, repository.ErrProblemExists) {
			return true, false, nil
		}
		return true, false, appErr.Wrapf(err, appErr.ImportFailed, "import %s into %s failed", remoteID, mount.DomainID)
	}
	logger.Info(a.logCtx, "problem imported", zap.String("domain", mount.DomainID), zap.String("pid", pid), zap.String("title", data.Title))
	return true, true, nil
}

type remoteConfig struct {
	Type    string `yaml:"type"`
	SubType string `yaml:"subType"`
	Target  string `yaml:"target"`
	Time    string `yaml:"time,omitempty"`
	Memory  string `yaml:"memory,omitempty"`
}

// store uploads the files before inserting the problem row, so a failed upload
// leaves nothing behind and the next pass retries the problem. A failure after
// the insert deletes the row again.
func (a *AccountService) store(ctx context.Context, domainID, pid, remoteID string, data *model.ProblemData) error {
	for name, content := range data.Data {
		if err := a.deps.Files.PutTestdata(ctx, domainID, pid, name, content); err != nil {
			return err
		}
	}
	for name, content := range data.Files {
		if err := a.deps.Files.PutAdditionalFile(ctx, domainID, pid, name, content); err != nil {
			return err
		}
	}
	cfg := remoteConfig{Type: "remote_judge", SubType: a.Account().TypeRoot(), Target: remoteID}
	if data.TimeLimitMs > 0 {
		cfg.Time = fmt.Sprintf("%dms", data.TimeLimitMs)
	}
	if data.MemoryLimitMB > 0 {
		cfg.Memory = fmt.Sprintf("%dm", data.MemoryLimitMB)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := a.deps.Problems.Add(ctx, domainID, pid, data); err != nil {
		return err
	}
	err = a.deps.Problems.SetConfig(ctx, domainID, pid, string(raw))
	if err == nil && data.Difficulty > 0 {
		err = a.deps.Problems.SetDifficulty(ctx, domainID, pid, data.Difficulty)
	}
	if err != nil {
		if delErr := a.deps.Problems.Delete(ctx, domainID, pid); delErr != nil {
			logger.Error(a.logCtx, "roll back partial import failed",
				zap.String("domain", domainID), zap.String("pid", pid), zap.Error(delErr))
		}
		return err
	}
	return nil
}

func (a *AccountService) pause(ctx context.Context) {
	timer := time.NewTimer(a.cfg.SyncDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-a.ctx.Done():
	}
}

func (a *AccountService) stopping(ctx context.Context) bool {
	return a.stopped.Load() || ctx.Err() != nil
}

// Stop cancels the refresh loop and the consumer and asks a running sync to
// stop at its next item. It does not wait; see Wait.
func (a *AccountService) Stop() {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		a.state.Store(int32(stateStopped))
		a.cancel()
		a.mu.Lock()
		sub := a.sub
		a.mu.Unlock()
		if sub != nil {
			if err := sub.Close(); err != nil {
				logger.Warn(a.logCtx, "close task subscription failed", zap.Error(err))
			}
		}
		logger.Info(a.logCtx, "remote account stopped")
	})
}

// Wait blocks until every goroutine of the account has returned or ctx is done.
func (a *AccountService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		a.mu.Lock()
		sub := a.sub
		a.mu.Unlock()
		if sub != nil {
			<-sub.Done()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the account health. Provider status checks that fail or panic only affect this account.
func (a *AccountService) Status(ctx context.Context, live bool) model.AccountStatus {
	status := model.AccountStatus{
		Working: a.Working(),
		Syncing: a.Syncing(),
		Host:    a.cfg.Host,
		At:      time.Now(),
	}
	a.mu.Lock()
	status.Error = a.lastErr
	a.mu.Unlock()

	checker, ok := a.api.(provider.StatusChecker)
	if !ok {
		return status
	}
	err := protect(func() error {
		info, err := checker.CheckStatus(ctx, live)
		if err != nil {
			return err
		}
		status.Provider = info
		return nil
	})
	if err != nil {
		status.Provider = nil
		status.Error = appErr.RemoteError(err, appErr.ProviderStatusFailed, a.Account().Type).Error()
	}
	return status
}

func (a *AccountService) fail(err error) {
	a.state.Store(int32(stateLoginFailed))
	a.setError(err)
	logger.Error(a.logCtx, "remote account unavailable", zap.Error(err))
}

func (a *AccountService) setError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		a.lastErr = ""
		return
	}
	a.lastErr = err.Error()
}

// protect turns a panic inside fn into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
