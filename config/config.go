// Package config loads the TOML configuration of an index and builds the
// immutable values the other packages are constructed from.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/tsearch/field"
	"github.com/hupe1980/tsearch/planner"
	"github.com/hupe1980/tsearch/schedule"
	"github.com/hupe1980/tsearch/schema"
	"github.com/hupe1980/tsearch/source"
	"github.com/hupe1980/tsearch/sqldb"
	"github.com/hupe1980/tsearch/typemap"
)

const defaultConfig = `
# tsearch configuration.

[index]
master_table = "tsearch_index"
ts_config = "public.tsearch"
stopwords = "english"
charset = "utf-8"
default_order = ["-id"]
schedule_table = "tsearch_reindex_schedule"
schedule_sequence = "tsearch_reindex_id_seq"

[smart_query]
initial = 1000
threshold = 0.2
ratio = 1.5

[query_cache]
max_size = 1000
ttl = "1h"

[retry]
max_attempts = 3
backoff = "50ms"

[worker]
chunk = 100
delay = "1s"
rate = 0.0

[log]
# debug, info, warn, error
level = "info"
format = "text"
`

type IndexConfig struct {
	MasterTable      string     `toml:"master_table,omitempty" json:"master_table"`
	TSConfig         string     `toml:"ts_config,omitempty" json:"ts_config"`
	Stopwords        string     `toml:"stopwords,omitempty" json:"stopwords"`
	ExtraTSConfig    []string   `toml:"extra_ts_config,omitempty" json:"extra_ts_config"`
	Charset          string     `toml:"charset,omitempty" json:"charset"`
	DefaultOrder     []string   `toml:"default_order,omitempty" json:"default_order"`
	ScheduleTable    string     `toml:"schedule_table,omitempty" json:"schedule_table"`
	ScheduleSequence string     `toml:"schedule_sequence,omitempty" json:"schedule_sequence"`
	CrossIndexes     [][]string `toml:"cross_indexes,omitempty" json:"cross_indexes"`
	IgnoreRelated    bool       `toml:"ignore_related,omitempty" json:"ignore_related"`
}

type SmartQueryConfig struct {
	Initial   int     `toml:"initial,omitempty" json:"initial"`
	Threshold float64 `toml:"threshold,omitempty" json:"threshold"`
	Ratio     float64 `toml:"ratio,omitempty" json:"ratio"`
}

type QueryCacheConfig struct {
	MaxSize int           `toml:"max_size,omitempty" json:"max_size"`
	TTL     time.Duration `toml:"ttl,omitempty" json:"ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts,omitempty" json:"max_attempts"`
	Backoff     time.Duration `toml:"backoff,omitempty" json:"backoff"`
}

type WorkerConfig struct {
	Chunk int           `toml:"chunk,omitempty" json:"chunk"`
	Delay time.Duration `toml:"delay,omitempty" json:"delay"`
	Rate  float64       `toml:"rate,omitempty" json:"rate"`
}

type LogConfig struct {
	Level  string `toml:"level,omitempty" json:"level"`
	Format string `toml:"format,omitempty" json:"format"`
}

// ClassConfig declares a class and its direct parent.
type ClassConfig struct {
	Name   string `toml:"name" json:"name"`
	Parent string `toml:"parent,omitempty" json:"parent"`
}

// WeightConfig binds a source to a full-text weight label.
type WeightConfig struct {
	Weight string   `toml:"weight" json:"weight"`
	Source []string `toml:"source" json:"source"`
}

// FieldConfig declares one indexed field. Source entries use the compact
// expression notation ("a.b", "m()", "name"); several entries aggregate.
type FieldConfig struct {
	Name             string         `toml:"name" json:"name"`
	Kind             string         `toml:"kind" json:"kind"`
	Source           []string       `toml:"source,omitempty" json:"source"`
	FirstOf          bool           `toml:"first_of,omitempty" json:"first_of"`
	Weights          []WeightConfig `toml:"weights,omitempty" json:"weights"`
	Primary          bool           `toml:"primary,omitempty" json:"primary"`
	Size             int            `toml:"size,omitempty" json:"size"`
	Dictionary       string         `toml:"dictionary,omitempty" json:"dictionary"`
	Charset          string         `toml:"charset,omitempty" json:"charset"`
	IndexMethod      string         `toml:"index_method,omitempty" json:"index_method"`
	SQLDefault       string         `toml:"sql_default,omitempty" json:"sql_default"`
	DereferenceProxy bool           `toml:"dereference_proxy,omitempty" json:"dereference_proxy"`
	RankWeights      []float64      `toml:"rank_weights,omitempty" json:"rank_weights"`
}

type TypeMapConfig struct {
	Class     string `toml:"class" json:"class"`
	Table     string `toml:"table" json:"table"`
	NoRecurse bool   `toml:"no_recurse,omitempty" json:"no_recurse"`
}

// SourceConfig maps a class to the primary table its objects live in.
type SourceConfig struct {
	Class    string   `toml:"class" json:"class"`
	Table    string   `toml:"table" json:"table"`
	IDColumn string   `toml:"id_column,omitempty" json:"id_column"`
	Columns  []string `toml:"columns,omitempty" json:"columns"`
}

type Config struct {
	Index      IndexConfig      `toml:"index,omitempty" json:"index"`
	SmartQuery SmartQueryConfig `toml:"smart_query,omitempty" json:"smart_query"`
	QueryCache QueryCacheConfig `toml:"query_cache,omitempty" json:"query_cache"`
	Retry      RetryConfig      `toml:"retry,omitempty" json:"retry"`
	Worker     WorkerConfig     `toml:"worker,omitempty" json:"worker"`
	Log        LogConfig        `toml:"log,omitempty" json:"log"`
	Classes    []ClassConfig    `toml:"class,omitempty" json:"class"`
	Fields     []FieldConfig    `toml:"field,omitempty" json:"field"`
	TypeMap    []TypeMapConfig  `toml:"type_map,omitempty" json:"type_map"`
	Sources    []SourceConfig   `toml:"source,omitempty" json:"source"`
}

// Default returns the compiled-in defaults.
func Default() *Config {
	config := &Config{}
	if _, err := toml.Decode(defaultConfig, config); err != nil {
		panic(fmt.Sprintf("decode defaultConfig failed, err %v", err))
	}
	return config
}

// Load reads fileName over the defaults and validates the result. An
// empty name returns the validated defaults.
func Load(fileName string) (*Config, error) {
	config := Default()
	if fileName != "" {
		if err := config.LoadFromFile(fileName); err != nil {
			return nil, err
		}
		return config, nil
	}
	return config, config.Validate()
}

// Parse decodes data over the defaults and validates the result.
func Parse(data string) (*Config, error) {
	config := Default()
	if _, err := toml.Decode(data, config); err != nil {
		return nil, field.Configf("decode config: %v", err)
	}
	return config, config.Validate()
}

func (config *Config) LoadFromFile(fileName string) error {
	if _, err := toml.DecodeFile(fileName, config); err != nil {
		return field.Configf("decode %s: %v", fileName, err)
	}
	return config.Validate()
}

// Validate checks the configuration and the registry and type map built
// from it.
func (config *Config) Validate() error {
	if config.Index.MasterTable == "" {
		return field.Configf("index.master_table is empty")
	}
	sq := config.SmartQuery
	if sq.Initial <= 0 || sq.Threshold <= 0 || sq.Threshold > 1 || sq.Ratio <= 0 {
		return field.Configf("smart_query: initial must be positive, threshold in (0,1], ratio positive")
	}
	if config.QueryCache.MaxSize < 0 {
		return field.Configf("query_cache.max_size is negative")
	}
	if config.Worker.Chunk <= 0 {
		return field.Configf("worker.chunk must be positive")
	}

	seen := make(map[string]bool, len(config.Classes))
	for _, c := range config.Classes {
		if c.Name == "" {
			return field.Configf("class without a name")
		}
		if seen[c.Name] {
			return field.Configf("duplicate class %q", c.Name)
		}
		seen[c.Name] = true
	}
	for _, s := range config.Sources {
		if s.Class == "" || s.Table == "" {
			return field.Configf("source needs a class and a table")
		}
	}

	registry, err := config.Registry()
	if err != nil {
		return err
	}
	if _, err := config.Types(); err != nil {
		return err
	}
	for _, cross := range config.Index.CrossIndexes {
		if _, err := registry.Lookup(cross...); err != nil {
			return field.Configf("index.cross_indexes %v: %v", cross, err)
		}
	}
	return nil
}

// TSConfig returns the schema-qualified text search configuration name.
func (config *Config) TSConfig() string {
	name := config.Index.TSConfig
	if name == "" {
		name = field.DefaultTSConfig
	}
	if !strings.Contains(name, ".") {
		name = "public." + name
	}
	return name
}

// Hierarchy returns the class tree declared by [[class]].
func (config *Config) Hierarchy() *typemap.Tree {
	tree := typemap.NewTree()
	for _, c := range config.Classes {
		tree.Add(c.Name, c.Parent)
	}
	return tree
}

// Types builds the type map.
func (config *Config) Types() (*typemap.TypeMap, error) {
	rules := make([]typemap.Rule, len(config.TypeMap))
	for i, r := range config.TypeMap {
		rules[i] = typemap.Rule{Class: r.Class, Table: r.Table, NoRecurse: r.NoRecurse}
	}
	return typemap.New(config.Hierarchy(), rules...)
}

// Registry builds the field registry. The "classname" and "id" fields are
// prepended when the configuration does not declare them.
func (config *Config) Registry() (*field.Registry, error) {
	declared := make(map[string]bool, len(config.Fields))
	for _, fc := range config.Fields {
		declared[fc.Name] = true
	}

	var fields []field.Field
	if !declared[field.ClassName] {
		fields = append(fields, field.NewClass(field.ClassName))
	}
	if !declared[field.ID] {
		fields = append(fields, field.NewInt(field.ID))
	}
	for _, fc := range config.Fields {
		f, err := config.buildField(fc)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return field.NewRegistry(fields...)
}

func (config *Config) buildField(fc FieldConfig) (field.Field, error) {
	if fc.Name == "" {
		return nil, field.Configf("field without a name")
	}
	kind, ok := field.ParseKind(strings.ToLower(fc.Kind))
	if !ok {
		return nil, field.Configf("field %q: unknown kind %q", fc.Name, fc.Kind)
	}

	var opts []field.Option
	src, err := fieldSource(fc, kind)
	if err != nil {
		return nil, err
	}
	if src != nil {
		opts = append(opts, field.WithSource(src))
	}
	if fc.SQLDefault != "" {
		opts = append(opts, field.WithSQLDefault(fc.SQLDefault))
	}
	if fc.IndexMethod != "" {
		opts = append(opts, field.WithIndexMethod(fc.IndexMethod))
	}
	if fc.DereferenceProxy {
		opts = append(opts, field.WithDereferenceProxy())
	}

	switch kind {
	case field.KindString:
		if fc.Size > 0 {
			opts = append(opts, field.WithSize(fc.Size))
		}
		return field.NewString(fc.Name, opts...), nil
	case field.KindInt:
		return field.NewInt(fc.Name, opts...), nil
	case field.KindLongInt:
		return field.NewLongInt(fc.Name, opts...), nil
	case field.KindClass:
		return field.NewClass(fc.Name, opts...), nil
	case field.KindDate:
		return field.NewDate(fc.Name, opts...), nil
	case field.KindDateTime:
		return field.NewDateTime(fc.Name, opts...), nil
	case field.KindIntArray:
		return field.NewIntArray(fc.Name, opts...), nil
	}

	dict := fc.Dictionary
	if dict == "" {
		dict = config.TSConfig()
	}
	opts = append(opts, field.WithDictionary(dict))
	charset := fc.Charset
	if charset == "" {
		charset = config.Index.Charset
	}
	if charset != "" {
		opts = append(opts, field.WithCharset(charset))
	}
	if fc.Primary {
		opts = append(opts, field.WithPrimary())
	}
	if len(fc.RankWeights) > 0 {
		if len(fc.RankWeights) != 4 {
			return nil, field.Configf("field %q: rank_weights needs 4 values {D, C, B, A}", fc.Name)
		}
		w := fc.RankWeights
		opts = append(opts, field.WithRankWeights(w[0], w[1], w[2], w[3]))
	}
	return field.NewFullText(fc.Name, opts...), nil
}

func fieldSource(fc FieldConfig, kind field.Kind) (source.Expr, error) {
	if len(fc.Weights) > 0 {
		if kind != field.KindFullText {
			return nil, field.Configf("field %q: weights only apply to fulltext fields", fc.Name)
		}
		if len(fc.Source) > 0 {
			return nil, field.Configf("field %q: source and weights are exclusive", fc.Name)
		}
		agg := make(source.WeightedAggregate, 0, len(fc.Weights))
		for _, wc := range fc.Weights {
			w := source.Weight(0)
			if len(wc.Weight) == 1 {
				w = source.Weight(strings.ToUpper(wc.Weight)[0])
			}
			if !w.Valid() {
				return nil, field.Configf("field %q: invalid weight %q", fc.Name, wc.Weight)
			}
			agg = append(agg, source.WeightedSource{Weight: w, Source: parseSource(wc.Source, false)})
		}
		return agg, nil
	}
	if len(fc.Source) == 0 {
		return nil, nil
	}
	return parseSource(fc.Source, fc.FirstOf), nil
}

func parseSource(specs []string, firstOf bool) source.Expr {
	if len(specs) == 1 {
		return source.Parse(specs[0])
	}
	if firstOf {
		res := make(source.FirstOf, len(specs))
		for i, s := range specs {
			res[i] = source.Parse(s)
		}
		return res
	}
	return source.ParseAll(specs...)
}

// Schema returns the options of schema.NewBuilder.
func (config *Config) Schema() schema.Options {
	return schema.Options{
		Master:           config.Index.MasterTable,
		TSConfig:         config.TSConfig(),
		Stopwords:        config.Index.Stopwords,
		ExtraTSConfig:    config.Index.ExtraTSConfig,
		CrossIndexes:     config.Index.CrossIndexes,
		ScheduleTable:    config.Index.ScheduleTable,
		ScheduleSequence: config.Index.ScheduleSequence,
	}
}

func (config *Config) SmartQueryTunables() planner.SmartQuery {
	return planner.SmartQuery{
		Initial:   config.SmartQuery.Initial,
		Threshold: config.SmartQuery.Threshold,
		Ratio:     config.SmartQuery.Ratio,
	}
}

func (config *Config) Policy() sqldb.Policy {
	p := sqldb.DefaultPolicy()
	p.MaxAttempts = config.Retry.MaxAttempts
	p.Backoff = config.Retry.Backoff
	return p
}

func (config *Config) WorkerOptions() schedule.WorkerOptions {
	return schedule.WorkerOptions{
		ChunkSize: config.Worker.Chunk,
		Delay:     config.Worker.Delay,
		Rate:      config.Worker.Rate,
	}
}

// Queue returns the schedule queue of the index.
func (config *Config) Queue() *schedule.Queue {
	return schedule.NewQueue(config.Index.ScheduleTable, config.Index.ScheduleSequence)
}

// Source returns the [[source]] entry of class.
func (config *Config) Source(class string) (SourceConfig, bool) {
	for _, s := range config.Sources {
		if s.Class == class {
			return s, true
		}
	}
	return SourceConfig{}, false
}
