package syncengine

import "fmt"

// StrategyKind selects how the folder universe is resolved (§3/§4.3 step 1).
type StrategyKind int

const (
	StrategyAll StrategyKind = iota
	StrategyInclude
	StrategyExclude
)

// Strategy is the folder sync strategy: All, Include(set), or Exclude(set).
type Strategy struct {
	Kind    StrategyKind
	Folders FolderSet // unused for StrategyAll
}

// AllStrategy synchronizes every folder.
func AllStrategy() Strategy { return Strategy{Kind: StrategyAll} }

// IncludeStrategy restricts the universe to the given folders.
func IncludeStrategy(names ...FolderName) Strategy {
	return Strategy{Kind: StrategyInclude, Folders: NewFolderSet(names...)}
}

// ExcludeStrategy synchronizes every folder except the given ones.
func ExcludeStrategy(names ...FolderName) Strategy {
	return Strategy{Kind: StrategyExclude, Folders: NewFolderSet(names...)}
}

// Config is the engine's immutable configuration (§6). It is produced only
// by ConfigBuilder.Build, never constructed partially, per §9's
// builder-pattern design note.
type Config struct {
	Account       string
	SyncEnabled   bool
	SyncDir       string
	FolderAliases map[string]string
	Strategy      Strategy
	DryRun        bool
}

// CanonicalizeFolder applies the alias table, idempotently (§3).
func (c Config) CanonicalizeFolder(name string) FolderName {
	return canonicalizeFolderName(c.FolderAliases, FolderName(name))
}

// CanonicalizeFolderSet applies the alias table to every member of names,
// idempotently. Used to resolve aliases on folder sets observed from a
// cache or a live backend listing, not just on names typed by a caller.
func (c Config) CanonicalizeFolderSet(names FolderSet) FolderSet {
	return canonicalizeFolderSet(c.FolderAliases, names)
}

// CanonicalizeStrategy resolves folder aliases in the strategy (§4.7 step
// 4): every name in an Include/Exclude set is run through the alias table
// before it ever reaches the patch algebra.
func (c Config) CanonicalizeStrategy(s Strategy) Strategy {
	if s.Kind == StrategyAll {
		return s
	}
	return Strategy{Kind: s.Kind, Folders: c.CanonicalizeFolderSet(s.Folders)}
}

// canonicalizeFolderName is the alias lookup shared by Config.CanonicalizeFolder
// and canonicalizeFolderSet.
func canonicalizeFolderName(aliases map[string]string, name FolderName) FolderName {
	if alias, ok := aliases[string(name)]; ok {
		return FolderName(alias)
	}
	return name
}

// canonicalizeFolderSet applies canonicalizeFolderName to every member of
// names.
func canonicalizeFolderSet(aliases map[string]string, names FolderSet) FolderSet {
	if len(aliases) == 0 {
		return names
	}
	out := make(FolderSet, len(names))
	for n := range names {
		out[canonicalizeFolderName(aliases, n)] = struct{}{}
	}
	return out
}

// ConfigBuilder mutably accumulates configuration, then produces an
// immutable Config via Build. No partially-built state ever reaches the
// engine.
type ConfigBuilder struct {
	cfg Config
}

func NewConfigBuilder(account string) *ConfigBuilder {
	return &ConfigBuilder{cfg: Config{
		Account:       account,
		FolderAliases: map[string]string{},
		Strategy:      AllStrategy(),
	}}
}

func (b *ConfigBuilder) SyncEnabled(v bool) *ConfigBuilder { b.cfg.SyncEnabled = v; return b }
func (b *ConfigBuilder) SyncDir(dir string) *ConfigBuilder { b.cfg.SyncDir = dir; return b }
func (b *ConfigBuilder) DryRun(v bool) *ConfigBuilder      { b.cfg.DryRun = v; return b }
func (b *ConfigBuilder) Strategy(s Strategy) *ConfigBuilder {
	b.cfg.Strategy = s
	return b
}
func (b *ConfigBuilder) FolderAlias(from, to string) *ConfigBuilder {
	b.cfg.FolderAliases[from] = to
	return b
}

// Build validates and returns the immutable configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	if b.cfg.Account == "" {
		return Config{}, fmt.Errorf("%w: account is required", ErrConfiguration)
	}
	if b.cfg.SyncDir == "" {
		return Config{}, fmt.Errorf("%w: sync_dir is required", ErrConfiguration)
	}
	out := b.cfg
	aliases := make(map[string]string, len(b.cfg.FolderAliases))
	for k, v := range b.cfg.FolderAliases {
		aliases[k] = v
	}
	out.FolderAliases = aliases
	return out, nil
}
