package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openinstrument/store/internal/retention"
	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/log"
	"github.com/openinstrument/store/pkg/variable"
)

const configSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"interval": {"type": "integer", "minimum": 1},
		"replicas": {"type": "integer", "minimum": 1},
		"peers": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"address": {"type": "string"},
					"state": {"type": "string"}
				},
				"required": ["address"]
			}
		},
		"retention_policies": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"pattern": {"type": "string"},
					"min_age_ms": {"type": "integer"},
					"max_age_ms": {"type": "integer"},
					"action": {"type": "string", "enum": ["drop", "keep"]},
					"average_frequency_ms": {"type": "integer"}
				},
				"required": ["pattern", "action"]
			}
		}
	},
	"required": ["peers"]
}`

var configSchema = mustCompileConfigSchema()

func mustCompileConfigSchema() *jsonschema.Schema {
	s, err := jsonschema.CompileString("storeconfig.json", configSchemaJSON)
	if err != nil {
		panic(fmt.Sprintf("cluster: invalid embedded config schema: %v", err))
	}
	return s
}

// PeerState is a node's advisory liveness state, used by the fan-out
// layer to prefer or skip peers. The fan-out skips DRAIN and SHUTDOWN
// peers and contacts peers in every other state.
type PeerState string

const (
	StateUnknown  PeerState = "UNKNOWN"
	StateRun      PeerState = "RUN"
	StateLoad     PeerState = "LOAD"
	StateDrain    PeerState = "DRAIN"
	StateShutdown PeerState = "SHUTDOWN"
)

type peerJSON struct {
	Address string    `json:"address"`
	State   PeerState `json:"state"`
}

type retentionPolicyJSON struct {
	Pattern             string `json:"pattern"`
	MinAgeMs            int64  `json:"min_age_ms"`
	MaxAgeMs            int64  `json:"max_age_ms"`
	Action              string `json:"action"`
	AverageFrequencyMs  int64  `json:"average_frequency_ms"`
}

type configJSON struct {
	IntervalMs         int64                 `json:"interval"`
	Replicas           int                   `json:"replicas"`
	Peers              []peerJSON            `json:"peers"`
	RetentionPolicies  []retentionPolicyJSON `json:"retention_policies"`
}

// Peer is one configured cluster member.
type Peer struct {
	Address string
	State   PeerState
}

// StoreConfig is the structured document described in §4.F: the peer
// list, retention policy block and poll interval, reloaded whenever the
// underlying file changes.
type StoreConfig struct {
	Interval  int64
	Peers     []Peer
	Retention *retention.Manager
	Ring      *HashRing
}

// ConfigStore owns the currently-active StoreConfig behind a mutex
// guarding atomic replacement, per §5's concurrency table, plus an
// fsnotify watch on the backing file and a set of reload callbacks.
type ConfigStore struct {
	path string

	mu     sync.RWMutex
	cur    *StoreConfig
	onLoad []func(*StoreConfig)

	watcher *fsnotify.Watcher
}

// LoadConfigStore reads and validates path, building the initial
// StoreConfig, and returns a ConfigStore ready to watch for changes.
func LoadConfigStore(path string) (*ConfigStore, error) {
	cs := &ConfigStore{path: path}
	cfg, err := loadStoreConfig(path)
	if err != nil {
		return nil, err
	}
	cs.cur = cfg
	return cs, nil
}

func loadStoreConfig(path string) (*StoreConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %s", storeerrors.ErrConfigInvalid, path, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrConfigInvalid, err)
	}
	if err := configSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: schema validation: %s", storeerrors.ErrConfigInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c configJSON
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrConfigInvalid, err)
	}

	peers := make([]Peer, 0, len(c.Peers))
	addrs := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		state := p.State
		if state == "" {
			state = StateUnknown
		}
		peers = append(peers, Peer{Address: p.Address, State: state})
		addrs = append(addrs, p.Address)
	}

	mgr := &retention.Manager{}
	for _, rp := range c.RetentionPolicies {
		pattern, err := variable.Parse(rp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: retention pattern %q: %s", storeerrors.ErrConfigInvalid, rp.Pattern, err)
		}
		action := retention.Drop
		if rp.Action == "keep" {
			action = retention.Keep
		}
		mgr.Policies = append(mgr.Policies, retentionPolicyFrom(pattern, rp, action))
	}

	replicas := c.Replicas
	if replicas <= 0 {
		replicas = defaultReplicas
	}

	return &StoreConfig{
		Interval:  c.IntervalMs,
		Peers:     peers,
		Retention: mgr,
		Ring:      NewHashRingWithReplicas(addrs, replicas),
	}, nil
}

// Current returns the currently active StoreConfig.
func (cs *ConfigStore) Current() *StoreConfig {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.cur
}

// OnReload registers a callback invoked with the freshly loaded config
// every time the backing file changes and reloads successfully.
func (cs *ConfigStore) OnReload(fn func(*StoreConfig)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.onLoad = append(cs.onLoad, fn)
}

// Watch starts an fsnotify watch on the config file's directory (files
// are frequently replaced via rename, which a direct file watch would
// miss) and reloads on any event touching it. A failed reload is logged
// and the previous config is retained, per §5's reload failure rule.
func (cs *ConfigStore) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating watcher: %s", storeerrors.ErrIOFailure, err)
	}
	cs.watcher = w

	dir := fileDir(cs.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("%w: watching %s: %s", storeerrors.ErrIOFailure, dir, err)
	}

	go cs.watchLoop()
	return nil
}

func (cs *ConfigStore) watchLoop() {
	base := fileBase(cs.path)
	for {
		select {
		case err, ok := <-cs.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("cluster: config watch error: %v", err)
		case e, ok := <-cs.watcher.Events:
			if !ok {
				return
			}
			if fileBase(e.Name) != base {
				continue
			}
			cs.reload()
		}
	}
}

func (cs *ConfigStore) reload() {
	cfg, err := loadStoreConfig(cs.path)
	if err != nil {
		log.Warnf("cluster: config reload failed, keeping previous config: %v", err)
		return
	}

	cs.mu.Lock()
	cs.cur = cfg
	callbacks := append([]func(*StoreConfig){}, cs.onLoad...)
	cs.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Shutdown stops the filesystem watch.
func (cs *ConfigStore) Shutdown() {
	if cs.watcher != nil {
		cs.watcher.Close()
	}
}

func retentionPolicyFrom(pattern *variable.Variable, rp retentionPolicyJSON, action retention.Action) retention.Policy {
	p := retention.Policy{Pattern: pattern, MinAge: rp.MinAgeMs, MaxAge: rp.MaxAgeMs, Action: action}
	if rp.AverageFrequencyMs > 0 {
		p.Mutations = averageMutation(rp.AverageFrequencyMs)
	}
	return p
}
