package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/repository"
	appErr "vjudge/pkg/errors"

	"gopkg.in/yaml.v3"
)

// MergeLanguages appends the remote-only entries of mapping to the language
// table doc. Existing entries are never edited: a remote key is skipped when
// "<provider>.<key>" exists or another entry already binds validAs[provider] to it.
// The returned flag is false when nothing was added; doc is then returned as is.
func MergeLanguages(doc []byte, providerType string, mapping model.LanguageMapping) ([]byte, bool, error) {
	root := &yaml.Node{Kind: yaml.DocumentNode}
	if len(bytes.TrimSpace(doc)) > 0 {
		if err := yaml.Unmarshal(doc, root); err != nil {
			return nil, false, fmt.Errorf("parse language table failed: %w", err)
		}
	}
	if len(root.Content) == 0 {
		root.Kind = yaml.DocumentNode
		root.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	table := root.Content[0]
	if table.Kind != yaml.MappingNode {
		return nil, false, errors.New("language table must be a mapping")
	}

	existing := make(map[string]bool)
	bound := make(map[string]bool)
	for i := 0; i+1 < len(table.Content); i += 2 {
		existing[table.Content[i].Value] = true
		if remoteKey := boundRemoteKey(table.Content[i+1], providerType); remoteKey != "" {
			bound[remoteKey] = true
		}
	}

	remoteKeys := make([]string, 0, len(mapping))
	for k := range mapping {
		remoteKeys = append(remoteKeys, k)
	}
	sort.Strings(remoteKeys)

	changed := false
	for _, remoteKey := range remoteKeys {
		key := providerType + "." + remoteKey
		if existing[key] || bound[remoteKey] {
			continue
		}
		cfg := mapping[remoteKey]
		cfg.Hidden = true
		cfg.Remote = providerType
		cfg.ValidAs = map[string]string{providerType: remoteKey}

		var value yaml.Node
		if err := value.Encode(cfg); err != nil {
			return nil, false, fmt.Errorf("encode language %s failed: %w", key, err)
		}
		table.Content = append(table.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &value)
		existing[key] = true
		bound[remoteKey] = true
		changed = true
	}
	if !changed {
		return doc, false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, false, fmt.Errorf("encode language table failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func boundRemoteKey(entry *yaml.Node, providerType string) string {
	binding := mappingValue(mappingValue(entry, "validAs"), providerType)
	if binding == nil || binding.Kind != yaml.ScalarNode {
		return ""
	}
	return binding.Value
}

// LanguageCatalog is the parsed platform language table.
type LanguageCatalog struct {
	settings repository.SettingRepository

	writeMu sync.Mutex
	mu      sync.RWMutex
	langs   map[string]model.LangConfig
}

func NewLanguageCatalog(settings repository.SettingRepository) *LanguageCatalog {
	return &LanguageCatalog{settings: settings, langs: make(map[string]model.LangConfig)}
}

// Load reads the table from settings. A missing setting yields an empty table.
func (c *LanguageCatalog) Load(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	doc, err := c.document(ctx)
	if err != nil {
		return err
	}
	return c.parse(doc)
}

// Get returns the entry for a platform language key.
func (c *LanguageCatalog) Get(key string) (model.LangConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.langs[key]
	return cfg, ok
}

// Update merges mapping for providerType and writes the table back only when it changed.
func (c *LanguageCatalog) Update(ctx context.Context, providerType string, mapping model.LanguageMapping) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	doc, err := c.document(ctx)
	if err != nil {
		return false, err
	}
	merged, changed, err := MergeLanguages(doc, providerType, mapping)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.LanguageMergeError, "merge languages of %s failed", providerType)
	}
	if !changed {
		return false, c.parse(doc)
	}
	if err := c.settings.Set(ctx, repository.SettingLanguages, string(merged)); err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "save language table failed")
	}
	return true, c.parse(merged)
}

func (c *LanguageCatalog) document(ctx context.Context) ([]byte, error) {
	raw, err := c.settings.Get(ctx, repository.SettingLanguages)
	if err != nil {
		if errors.Is(err, repository.ErrSettingNotFound) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load language table failed")
	}
	return []byte(raw), nil
}

func (c *LanguageCatalog) parse(doc []byte) error {
	langs := make(map[string]model.LangConfig)
	if len(bytes.TrimSpace(doc)) > 0 {
		if err := yaml.Unmarshal(doc, &langs); err != nil {
			return appErr.Wrapf(err, appErr.LanguageMergeError, "parse language table failed")
		}
	}
	c.mu.Lock()
	c.langs = langs
	c.mu.Unlock()
	return nil
}
