/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config loads the server configuration surface (spec §6): a YAML
// file overlaid by environment variables, env > file > defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LocalStorageConfig struct {
	Root string `yaml:"root"`
}

type S3StorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	WALPrefix string `yaml:"wal_prefix"`
}

type StorageConfig struct {
	Backend string             `yaml:"backend"` // local | s3
	Local   LocalStorageConfig `yaml:"local"`
	S3      S3StorageConfig    `yaml:"s3"`
}

type CacheConfig struct {
	MemorySize string `yaml:"memory_size"` // byte-size string, e.g. "512MiB"
	DiskSize   string `yaml:"disk_size"`
	DiskPath   string `yaml:"disk_path"`
}

// MemorySizeBytes parses MemorySize with docker/go-units, defaulting to 256MiB.
func (c CacheConfig) MemorySizeBytes() int64 { return parseSizeOr(c.MemorySize, 256<<20) }

// DiskSizeBytes parses DiskSize with docker/go-units, defaulting to 8GiB.
func (c CacheConfig) DiskSizeBytes() int64 { return parseSizeOr(c.DiskSize, 8<<30) }

func parseSizeOr(s string, def int64) int64 {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return def
	}
	return n
}

type IndexConfig struct {
	DefaultMetric string `yaml:"default_metric"`
}

type CompactionConfig struct {
	Enabled        bool `yaml:"enabled"`
	IntervalSecs   int  `yaml:"interval_secs"`
	MaxSegments    int  `yaml:"max_segments"`
	MaxTotalDocs   int  `yaml:"max_total_docs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type IndexerClusterConfig struct {
	Nodes []string `yaml:"nodes"`
}

type DistributedConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	NodeID          string               `yaml:"node_id"`
	Role            string               `yaml:"role"` // indexer | query
	IndexerCluster  IndexerClusterConfig `yaml:"indexer_cluster"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Index       IndexConfig       `yaml:"index"`
	Compaction  CompactionConfig  `yaml:"compaction"`
	Logging     LoggingConfig     `yaml:"logging"`
	Distributed DistributedConfig `yaml:"distributed"`
}

// Defaults mirrors the teacher's Settings pattern of a single struct literal of
// sane defaults (storage/settings.go), generalized from in-process toggles to a
// loadable server config.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalStorageConfig{Root: "./data"},
		},
		Cache: CacheConfig{
			MemorySize: "256MiB",
			DiskSize:   "8GiB",
			DiskPath:   "./data/cache",
		},
		Index: IndexConfig{DefaultMetric: "cosine"},
		Compaction: CompactionConfig{
			Enabled:      true,
			IntervalSecs: 3600,
			MaxSegments:  100,
			MaxTotalDocs: 1_000_000,
		},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		Distributed: DistributedConfig{Enabled: false, Role: "indexer"},
	}
}

// Load reads defaults, overlays a YAML file at path (if non-empty and present),
// then overlays environment variables, in that precedence order.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables using the fixed mapping: an
// uppercase dotted path with underscores, e.g. storage.s3.bucket ->
// STORAGE_S3_BUCKET. Reflection walks the same yaml-tagged struct tree so the
// mapping can never drift from the struct definition.
func applyEnv(cfg *Config) {
	walkEnv(reflect.ValueOf(cfg).Elem(), nil)
}

func walkEnv(v reflect.Value, path []string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")
		if tag == "" {
			tag = strings.ToLower(field.Name)
		}
		fieldPath := append(append([]string{}, path...), tag)
		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			walkEnv(fv, fieldPath)
			continue
		case reflect.Slice:
			envName := strings.ToUpper(strings.Join(fieldPath, "_"))
			if raw, ok := os.LookupEnv(envName); ok && fv.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(raw, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				fv.Set(reflect.ValueOf(parts))
			}
			continue
		}

		envName := strings.ToUpper(strings.Join(fieldPath, "_"))
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		setScalar(fv, raw)
	}
}

func setScalar(fv reflect.Value, raw string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			fv.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("config: storage.backend must be 'local' or 's3', got %q", cfg.Storage.Backend)
	}
	if cfg.Distributed.Enabled {
		switch cfg.Distributed.Role {
		case "indexer", "query":
		default:
			return fmt.Errorf("config: distributed.role must be 'indexer' or 'query', got %q", cfg.Distributed.Role)
		}
		if cfg.Distributed.NodeID == "" {
			return fmt.Errorf("config: distributed.node_id is required when distributed.enabled")
		}
		if len(cfg.Distributed.IndexerCluster.Nodes) == 0 {
			return fmt.Errorf("config: distributed.indexer_cluster.nodes must be non-empty when distributed.enabled")
		}
	}
	switch cfg.Index.DefaultMetric {
	case "cosine", "l2", "dot":
	default:
		return fmt.Errorf("config: index.default_metric must be one of cosine|l2|dot, got %q", cfg.Index.DefaultMetric)
	}
	return nil
}
