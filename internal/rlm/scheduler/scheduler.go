// Package scheduler implements SmartScheduler: per-operation weighted
// device scoring and selection. The scoring shape (RWMutex-guarded
// registry, weighted multi-factor score, deterministic sort, running
// Stats()) is carried over from the teacher's model router; the factors
// themselves are replaced wholesale with the device load/latency/
// throughput/support formulas this engine's scheduler actually needs.
package scheduler

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/rlmerr"
)

// OperationKind identifies what kind of work is being scheduled.
type OperationKind string

const (
	OpCodeExecution      OperationKind = "code_execution"
	OpLLMInference       OperationKind = "llm_inference"
	OpContextCompression OperationKind = "context_compression"
	OpModelLoading       OperationKind = "model_loading"
)

// Operation describes one unit of work to route to a device.
type Operation struct {
	Kind     OperationKind
	Runtime  string // required for OpCodeExecution
	Model    string // required for OpLLMInference / OpModelLoading
}

// Weights configures the weighted sum used outside the fixed per-operation
// formulas below (reserved for future operation kinds; validated at
// construction per spec.md's "sum > 0" requirement).
type Weights struct {
	Load       float64
	Latency    float64
	Cost       float64
	Throughput float64
}

// Sum reports the total weight mass.
func (w Weights) Sum() float64 {
	return w.Load + w.Latency + w.Cost + w.Throughput
}

// DefaultWeights returns the reference weighting.
func DefaultWeights() Weights {
	return Weights{Load: 0.3, Latency: 0.4, Cost: 0.0, Throughput: 0.6}
}

// Config configures a Scheduler at construction.
type Config struct {
	Weights Weights
}

// Scheduler is the SmartScheduler component.
type Scheduler struct {
	mu      sync.RWMutex
	monitor *health.Monitor
	weights Weights

	stats map[OperationKind]*window
}

// New constructs a Scheduler bound to monitor for health snapshots.
// An all-zero Weights falls back to DefaultWeights; any other weight set
// whose sum is not > 0 returns a Config error.
func New(monitor *health.Monitor, cfg Config) (*Scheduler, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Weights.Sum() <= 0 {
		return nil, rlmerr.New(rlmerr.KindConfig, "scheduler weights must sum to more than zero")
	}
	return &Scheduler{
		monitor: monitor,
		weights: cfg.Weights,
		stats:   make(map[OperationKind]*window),
	}, nil
}

// Select scores every healthy device against op and returns the winner.
// Ties are broken by lower latency, then lexicographic device id.
func (s *Scheduler) Select(op Operation) (health.Device, error) {
	start := time.Now()
	candidates := s.candidatesFor(op)
	if len(candidates) == 0 {
		return health.Device{}, rlmerr.New(rlmerr.KindNoDeviceAvailable, "no healthy device for operation "+string(op.Kind))
	}

	type scored struct {
		dev   health.Device
		score float64
	}
	scoredDevs := make([]scored, 0, len(candidates))
	for _, d := range candidates {
		scoredDevs = append(scoredDevs, scored{dev: d, score: s.score(op, d)})
	}

	sort.Slice(scoredDevs, func(i, j int) bool {
		a, b := scoredDevs[i], scoredDevs[j]
		if a.score != b.score {
			return a.score > b.score
		}
		// Deterministic tie-break: lower latency wins, then device id.
		if a.dev.LatencyMS != b.dev.LatencyMS {
			return a.dev.LatencyMS < b.dev.LatencyMS
		}
		return a.dev.ID < b.dev.ID
	})

	s.recordWait(op.Kind, time.Since(start))
	return scoredDevs[0].dev, nil
}

func (s *Scheduler) candidatesFor(op Operation) []health.Device {
	switch op.Kind {
	case OpCodeExecution:
		return s.monitor.DevicesWithRuntime(op.Runtime)
	case OpLLMInference, OpModelLoading:
		return s.monitor.DevicesWithRuntime("llm")
	case OpContextCompression:
		return s.monitor.HealthyDevices()
	default:
		return nil
	}
}

// score computes the weighted score for one device against one operation,
// per spec.md 4.4's fixed per-operation formulas. load, latency_score and
// throughput_score are clamped into [0,1] before combination; a NaN or
// infinite result scores 0 rather than propagating.
func (s *Scheduler) score(op Operation, d health.Device) float64 {
	load := clamp01(loadOf(d))
	latencyScore := 1.0 / (1.0 + float64(d.LatencyMS)/100.0)
	throughputScore := math.Min(d.TokensPerSec/100.0, 1.0)
	support := 0.0
	if supports(op, d) {
		support = 1.0
	}

	var raw float64
	switch op.Kind {
	case OpCodeExecution:
		raw = support*0.3 + (1-load)*0.3 + latencyScore*0.4
	case OpLLMInference:
		raw = (1-load)*0.4 + throughputScore*0.6
	case OpContextCompression:
		raw = 1.0 / (1.0 + float64(d.LatencyMS)/10.0)
	case OpModelLoading:
		raw = 1 - load
	default:
		raw = 0
	}

	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	return raw
}

func loadOf(d health.Device) float64 {
	if d.MemoryTotal <= 0 {
		return 0
	}
	used := d.MemoryTotal - d.MemoryAvail
	return float64(used) / float64(d.MemoryTotal)
}

func supports(op Operation, d health.Device) bool {
	switch op.Kind {
	case OpCodeExecution:
		return d.Capabilities.HasRuntime(op.Runtime)
	case OpLLMInference, OpModelLoading:
		if !d.Capabilities.HasRuntime("llm") {
			return false
		}
		if op.Model == "" {
			return true
		}
		for _, m := range d.Capabilities.Models {
			if m == op.Model {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// window is a rolling sample window capped at 1000 entries, grounded on
// smart_scheduler.rs's SchedulingStats.
type window struct {
	mu      sync.Mutex
	samples []time.Duration
}

const maxWindowSamples = 1000

func (w *window) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, d)
	if len(w.samples) > maxWindowSamples {
		w.samples = w.samples[len(w.samples)-maxWindowSamples:]
	}
}

func (w *window) average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range w.samples {
		total += s
	}
	return total / time.Duration(len(w.samples))
}

func (s *Scheduler) recordWait(kind OperationKind, d time.Duration) {
	s.mu.Lock()
	w, ok := s.stats[kind]
	if !ok {
		w = &window{}
		s.stats[kind] = w
	}
	s.mu.Unlock()
	w.record(d)
}

// Stats returns the rolling average selection latency per operation kind.
func (s *Scheduler) Stats() map[OperationKind]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[OperationKind]time.Duration, len(s.stats))
	for k, w := range s.stats {
		out[k] = w.average()
	}
	return out
}
