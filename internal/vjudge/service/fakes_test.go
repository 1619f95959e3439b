package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"vjudge/internal/common/mq"
	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"
	"vjudge/internal/vjudge/repository"
)

type listCall struct {
	page   int
	resync bool
	list   string
}

// fakeProvider serves a scripted catalogue and judge pipeline.
type fakeProvider struct {
	mu         sync.Mutex
	loginErr   error
	loginCalls int
	pages      map[string][][]string
	listCalls  []listCall
	problems   map[string]*model.ProblemData
	getErrs    map[string]error
	getCalls   map[string]int
	getHook    func(id string)
	submitFn   func(ctx context.Context, req provider.SubmitRequest, rep provider.Reporter) (string, error)
	waitFn     func(ctx context.Context, id string, rep provider.Reporter) error
	submits    []provider.SubmitRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		pages:    make(map[string][][]string),
		problems: make(map[string]*model.ProblemData),
		getErrs:  make(map[string]error),
		getCalls: make(map[string]int),
	}
}

func (p *fakeProvider) EnsureLogin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginCalls++
	return p.loginErr
}

func (p *fakeProvider) ListProblem(ctx context.Context, page int, resync bool, list string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls = append(p.listCalls, listCall{page: page, resync: resync, list: list})
	pages := p.pages[list]
	if page-1 < len(pages) {
		return pages[page-1], nil
	}
	return nil, nil
}

func (p *fakeProvider) GetProblem(ctx context.Context, id string, meta model.ProblemMeta) (*model.ProblemData, error) {
	p.mu.Lock()
	hook := p.getHook
	p.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls[id]++
	if err, ok := p.getErrs[id]; ok {
		delete(p.getErrs, id)
		return nil, err
	}
	if data, ok := p.problems[id]; ok {
		return data, nil
	}
	return &model.ProblemData{
		Title:   "Problem " + id,
		Content: "statement of " + id,
		Tags:    []string{"imported"},
		Data:    map[string][]byte{"1.in": []byte("1 2"), "1.out": []byte("3")},
	}, nil
}

func (p *fakeProvider) SubmitProblem(ctx context.Context, req provider.SubmitRequest, rep provider.Reporter) (string, error) {
	p.mu.Lock()
	p.submits = append(p.submits, req)
	fn := p.submitFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, rep)
	}
	return "remote-1", nil
}

func (p *fakeProvider) WaitForSubmission(ctx context.Context, id string, rep provider.Reporter) error {
	p.mu.Lock()
	fn := p.waitFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, rep)
	}
	return rep.End(ctx, model.Final{Status: model.StatusAccepted, Score: 100})
}

func (p *fakeProvider) logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginCalls
}

func (p *fakeProvider) gets(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getCalls[id]
}

func (p *fakeProvider) submitted() []provider.SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.SubmitRequest(nil), p.submits...)
}

func (p *fakeProvider) lists() []listCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]listCall(nil), p.listCalls...)
}

type fixedLangProvider struct {
	*fakeProvider
	langs model.LanguageMapping
}

func (p *fixedLangProvider) Langs() model.LanguageMapping { return p.langs }

type commentProvider struct{ *fakeProvider }

func (p *commentProvider) NeedComment() bool { return true }

type statusProvider struct {
	*fakeProvider
	statusFn func(ctx context.Context, live bool) (map[string]any, error)
}

func (p *statusProvider) CheckStatus(ctx context.Context, live bool) (map[string]any, error) {
	return p.statusFn(ctx, live)
}

func factoryOf(api provider.Provider) provider.Factory {
	return func(provider.Options) (provider.Provider, error) { return api, nil }
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts []model.RemoteAccount
	saved    map[string][]model.AccountPatch
}

func newMemoryAccounts(accounts ...model.RemoteAccount) *memoryAccounts {
	return &memoryAccounts{accounts: accounts, saved: make(map[string][]model.AccountPatch)}
}

func (m *memoryAccounts) ListByType(ctx context.Context, accountType string) ([]model.RemoteAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RemoteAccount
	for _, a := range m.accounts {
		if a.Type == accountType {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryAccounts) Get(ctx context.Context, id string) (model.RemoteAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return model.RemoteAccount{}, repository.ErrAccountNotFound
}

func (m *memoryAccounts) Save(ctx context.Context, id string, patch model.AccountPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[id] = append(m.saved[id], patch)
	return nil
}

type memoryMounts struct {
	mu     sync.Mutex
	mounts map[string]model.Mount
	marks  []string
}

func newMemoryMounts(provider string, domains ...string) *memoryMounts {
	m := &memoryMounts{mounts: make(map[string]model.Mount)}
	for _, d := range domains {
		m.mounts[d] = model.Mount{DomainID: d, Provider: provider, SyncDone: map[string]bool{}}
	}
	return m
}

func (m *memoryMounts) ListByProvider(ctx context.Context, provider string) ([]model.Mount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Mount
	for _, mount := range m.mounts {
		if mount.Provider != provider {
			continue
		}
		done := make(map[string]bool, len(mount.SyncDone))
		for k, v := range mount.SyncDone {
			done[k] = v
		}
		mount.SyncDone = done
		out = append(out, mount)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DomainID < out[j].DomainID })
	return out, nil
}

func (m *memoryMounts) MarkSyncDone(ctx context.Context, domainID, list string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mount, ok := m.mounts[domainID]
	if !ok {
		return repository.ErrMountNotFound
	}
	mount.SyncDone[list] = true
	m.marks = append(m.marks, domainID+"/"+list)
	return nil
}

type memoryProblems struct {
	mu         sync.Mutex
	problems   map[string]*model.ProblemData
	adds       map[string]int
	deletes    map[string]int
	configs    map[string]string
	difficulty map[string]int
	configErrs int
}

func newMemoryProblems() *memoryProblems {
	return &memoryProblems{
		problems:   make(map[string]*model.ProblemData),
		adds:       make(map[string]int),
		deletes:    make(map[string]int),
		configs:    make(map[string]string),
		difficulty: make(map[string]int),
	}
}

func (m *memoryProblems) Exists(ctx context.Context, domainID, pid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.problems[domainID+"/"+pid]
	return ok, nil
}

func (m *memoryProblems) Add(ctx context.Context, domainID, pid string, data *model.ProblemData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domainID + "/" + pid
	m.adds[key]++
	if _, ok := m.problems[key]; ok {
		return repository.ErrProblemExists
	}
	m.problems[key] = data
	return nil
}

func (m *memoryProblems) SetConfig(ctx context.Context, domainID, pid, config string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configErrs > 0 {
		m.configErrs--
		return errRemote
	}
	m.configs[domainID+"/"+pid] = config
	return nil
}

func (m *memoryProblems) SetDifficulty(ctx context.Context, domainID, pid string, difficulty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.difficulty[domainID+"/"+pid] = difficulty
	return nil
}

func (m *memoryProblems) Delete(ctx context.Context, domainID, pid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domainID + "/" + pid
	m.deletes[key]++
	delete(m.problems, key)
	delete(m.configs, key)
	delete(m.difficulty, key)
	return nil
}

func (m *memoryProblems) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.problems))
	for k := range m.problems {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memorySettings struct {
	mu     sync.Mutex
	values map[string]string
	sets   int
}

func newMemorySettings() *memorySettings {
	return &memorySettings{values: make(map[string]string)}
}

func (m *memorySettings) Get(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	if !ok {
		return "", repository.ErrSettingNotFound
	}
	return v, nil
}

func (m *memorySettings) Set(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.values[name] = value
	return nil
}

func (m *memorySettings) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

type memoryFiles struct {
	mu        sync.Mutex
	testdata  map[string][]byte
	files     map[string][]byte
	uploadErr int
}

func newMemoryFiles() *memoryFiles {
	return &memoryFiles{testdata: make(map[string][]byte), files: make(map[string][]byte)}
}

func (m *memoryFiles) PutTestdata(ctx context.Context, domainID, pid, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr > 0 {
		m.uploadErr--
		return errRemote
	}
	m.testdata[domainID+"/"+pid+"/"+name] = data
	return nil
}

func (m *memoryFiles) PutAdditionalFile(ctx context.Context, domainID, pid, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[domainID+"/"+pid+"/"+name] = data
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	events   []model.RecordEvent
	err      error
	failures int
	attempts int
}

func (r *recordingSink) Publish(ctx context.Context, ev model.RecordEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.err != nil {
		return r.err
	}
	if r.failures > 0 {
		r.failures--
		return errRemote
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) forRecord(rid string) []model.RecordEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RecordEvent
	for _, ev := range r.events {
		if ev.RID == rid {
			out = append(out, ev)
		}
	}
	return out
}

func terminalCount(events []model.RecordEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal {
			n++
		}
	}
	return n
}

type testEnv struct {
	cfg      Config
	deps     Dependencies
	accounts *memoryAccounts
	mounts   *memoryMounts
	problems *memoryProblems
	settings *memorySettings
	files    *memoryFiles
	sink     *recordingSink
	queue    *mq.MemoryQueue
	guard    *SyncGuard
}

func newTestEnv(accounts ...model.RemoteAccount) *testEnv {
	env := &testEnv{
		cfg: Config{
			Host:           "node-1",
			LoginInterval:  time.Hour,
			ResyncInterval: time.Hour,
			SyncDelay:      time.Millisecond,
			StatusTimeout:  time.Second,
		},
		accounts: newMemoryAccounts(accounts...),
		mounts:   newMemoryMounts("spoj"),
		problems: newMemoryProblems(),
		settings: newMemorySettings(),
		files:    newMemoryFiles(),
		sink:     &recordingSink{},
		queue:    mq.NewMemoryQueue(),
		guard:    NewSyncGuard(),
	}
	env.deps = Dependencies{
		Accounts: env.accounts,
		Mounts:   env.mounts,
		Problems: env.problems,
		Settings: env.settings,
		Files:    env.files,
		Tasks:    env.queue,
		Results:  env.sink,
		Guard:    env.guard,
	}
	return env
}

func (e *testEnv) account(account model.RemoteAccount, api provider.Provider) *AccountService {
	return newAccountService(e.cfg, e.deps, NewLanguageCatalog(e.settings), account, factoryOf(api))
}

var errRemote = errors.New("remote exploded")

// storingGuard stores the problem as if another worker finished it just before the acquire.
type storingGuard struct {
	*SyncGuard
	problems *memoryProblems
}

func (g *storingGuard) Acquire(ctx context.Context, domainID, pid string) (func(), bool) {
	_ = g.problems.Add(ctx, domainID, pid, &model.ProblemData{Title: "raced"})
	return g.SyncGuard.Acquire(ctx, domainID, pid)
}

func (e *testEnv) withMounts(provider string, domains ...string) *testEnv {
	e.mounts = newMemoryMounts(provider, domains...)
	e.deps.Mounts = e.mounts
	return e
}
