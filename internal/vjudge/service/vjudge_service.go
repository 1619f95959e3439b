package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"
	appErr "vjudge/pkg/errors"
	"vjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

type registration struct {
	providerType string
	accounts     []*AccountService
}

// VJudgeService owns the provider registry and every AccountService of this process.
type VJudgeService struct {
	cfg   Config
	deps  Dependencies
	langs *LanguageCatalog

	mu        sync.Mutex
	providers map[string]*registration
	closed    bool
}

// NewVJudgeService validates deps and builds an empty registry.
func NewVJudgeService(cfg Config, deps Dependencies) (*VJudgeService, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("account repository is required")
	case deps.Mounts == nil:
		return nil, errors.New("mount repository is required")
	case deps.Problems == nil:
		return nil, errors.New("problem repository is required")
	case deps.Settings == nil:
		return nil, errors.New("setting repository is required")
	case deps.Files == nil:
		return nil, errors.New("problem file store is required")
	case deps.Tasks == nil:
		return nil, errors.New("task consumer is required")
	case deps.Results == nil:
		return nil, errors.New("result sink is required")
	}
	if deps.Guard == nil {
		deps.Guard = NewSyncGuard()
	}
	cfg.setDefaults()
	return &VJudgeService{
		cfg:       cfg,
		deps:      deps,
		langs:     NewLanguageCatalog(deps.Settings),
		providers: make(map[string]*registration),
	}, nil
}

// Languages returns the language catalogue the workers resolve languages with.
func (s *VJudgeService) Languages() *LanguageCatalog {
	return s.langs
}

// AddProvider registers factory for providerType and starts one AccountService
// per stored account of that type enabled on this host. A registered type is
// rejected unless override is set, in which case the old workers are stopped first.
// The returned function stops the workers and unregisters the type.
func (s *VJudgeService) AddProvider(ctx context.Context, providerType string, factory provider.Factory, override bool) (func(), error) {
	if providerType == "" || factory == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("provider type and factory are required")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("vjudge service is closed")
	}
	old, exists := s.providers[providerType]
	if exists && !override {
		s.mu.Unlock()
		return nil, appErr.Newf(appErr.ProviderAlreadyRegistered, "provider %s already registered", providerType)
	}
	reg := &registration{providerType: providerType}
	s.providers[providerType] = reg
	s.mu.Unlock()

	if exists {
		logger.Info(ctx, "overriding provider", zap.String("provider", providerType))
		stopAll(old.accounts)
	}

	accounts, err := s.deps.Accounts.ListByType(ctx, providerType)
	if err != nil {
		s.unregister(reg)
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load accounts of %s failed", providerType)
	}

	var workers []*AccountService
	for _, account := range accounts {
		if !account.EnabledOn(s.cfg.Host) {
			logger.Debug(ctx, "account not enabled on this host", zap.String("account", account.Key()), zap.String("host", s.cfg.Host))
			continue
		}
		workers = append(workers, newAccountService(s.cfg, s.deps, s.langs, account, factory))
	}

	s.mu.Lock()
	if s.providers[providerType] != reg {
		s.mu.Unlock()
		stopAll(workers)
		return nil, appErr.Newf(appErr.ProviderAlreadyRegistered, "provider %s was replaced during registration", providerType)
	}
	reg.accounts = workers
	s.mu.Unlock()

	s.updateProviderLangs(ctx, providerType, workers)
	for _, w := range workers {
		w.Start()
	}
	logger.Info(ctx, "provider registered", zap.String("provider", providerType), zap.Int("accounts", len(workers)))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.unregister(reg)
			stopAll(reg.accounts)
			logger.Info(context.Background(), "provider disposed", zap.String("provider", providerType))
		})
	}, nil
}

func (s *VJudgeService) unregister(reg *registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.providers[reg.providerType] == reg {
		delete(s.providers, reg.providerType)
	}
}

// updateProviderLangs merges the fixed language set of the provider, if it declares one.
func (s *VJudgeService) updateProviderLangs(ctx context.Context, providerType string, workers []*AccountService) {
	for _, w := range workers {
		set, ok := w.Provider().(provider.LanguageSet)
		if !ok {
			continue
		}
		if _, err := s.UpdateLangs(ctx, providerType, set.Langs()); err != nil {
			logger.Error(ctx, "update provider languages failed", zap.String("provider", providerType), zap.Error(err))
		}
		return
	}
	if err := s.langs.Load(ctx); err != nil {
		logger.Warn(ctx, "load language table failed", zap.Error(err))
	}
}

// UpdateLangs adds the remote-only languages of mapping to the platform table.
// The table is written only when an entry was added.
func (s *VJudgeService) UpdateLangs(ctx context.Context, providerType string, mapping model.LanguageMapping) (bool, error) {
	changed, err := s.langs.Update(ctx, providerType, mapping)
	if err != nil {
		return false, err
	}
	if changed {
		logger.Info(ctx, "language table updated", zap.String("provider", providerType), zap.Int("languages", len(mapping)))
	}
	return changed, nil
}

func (s *VJudgeService) workers() []*AccountService {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AccountService
	for _, reg := range s.providers {
		out = append(out, reg.accounts...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Accounts lists the accounts running in this process.
func (s *VJudgeService) Accounts() []model.RemoteAccount {
	workers := s.workers()
	out := make([]model.RemoteAccount, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Account())
	}
	return out
}

// Resync starts a sync pass on every working account and returns the keys of
// the accounts that started one. Accounts already syncing are skipped.
func (s *VJudgeService) Resync(ctx context.Context) []string {
	var started []string
	for _, w := range s.workers() {
		if !w.Working() {
			continue
		}
		if w.TriggerSync() {
			started = append(started, w.Key())
		} else {
			logger.Debug(ctx, "resync skipped", zap.String("account", w.Key()))
		}
	}
	logger.Info(ctx, "resync triggered", zap.Strings("accounts", started))
	return started
}

// RunResync triggers Resync every ResyncInterval until ctx is done.
func (s *VJudgeService) RunResync(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Resync(ctx)
		}
	}
}

// CheckStatus reports every account of this process keyed by account key.
func (s *VJudgeService) CheckStatus(ctx context.Context, live bool) map[string]model.AccountStatus {
	workers := s.workers()
	out := make(map[string]model.AccountStatus, len(workers))
	for _, w := range workers {
		statusCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusTimeout)
		out[w.Key()] = w.Status(statusCtx, live)
		cancel()
	}
	return out
}

// RunStatusReporter publishes CheckStatus to the status board every interval until ctx is done.
func (s *VJudgeService) RunStatusReporter(ctx context.Context, interval time.Duration) {
	if s.deps.Status == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.deps.Status.Publish(ctx, s.cfg.Host, s.CheckStatus(ctx, false)); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "publish account status failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close disposes every registration and waits for the workers until ctx is done.
func (s *VJudgeService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	regs := s.providers
	s.providers = make(map[string]*registration)
	s.mu.Unlock()

	var all []*AccountService
	for _, reg := range regs {
		stopAll(reg.accounts)
		all = append(all, reg.accounts...)
	}
	for _, w := range all {
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func stopAll(workers []*AccountService) {
	for _, w := range workers {
		w.Stop()
	}
}
