package repl

import (
	"fmt"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// ResourceConfig defines resource limits for REPL execution.
type ResourceConfig struct {
	// MemoryLimitMB is the maximum memory usage in megabytes.
	// It is not enforced on the child: ResourceMonitor.CheckLimits compares
	// the observed peak memory against it after the run.
	MemoryLimitMB int

	// CPUTimeLimitSec is the maximum CPU time per execution in seconds.
	// The kernel enforces it (RLIMIT_CPU) through the `ulimit -t` wrapper
	// that withResourceLimits puts around the child.
	CPUTimeLimitSec int

	// WarnMemoryPercent triggers a warning when memory usage exceeds this
	// percentage of the limit. Defaults to 80.
	WarnMemoryPercent int
}

// DefaultResourceConfig returns sensible resource defaults.
func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		MemoryLimitMB:     1024, // 1GB
		CPUTimeLimitSec:   60,   // 60 seconds
		WarnMemoryPercent: 80,
	}
}

// ResourceStats contains resource usage statistics from an execution.
type ResourceStats struct {
	// UserCPUTimeMS is the user CPU time consumed in milliseconds.
	UserCPUTimeMS int64

	// SystemCPUTimeMS is the system CPU time consumed in milliseconds.
	SystemCPUTimeMS int64

	// TotalCPUTimeMS is the total CPU time (user + system) in milliseconds.
	TotalCPUTimeMS int64

	// MemoryUsedMB is the current memory usage in megabytes.
	MemoryUsedMB float64

	// PeakMemoryMB is the peak memory usage (max RSS) in megabytes.
	PeakMemoryMB float64

	// WallTimeMS is the wall-clock time of the execution in milliseconds.
	WallTimeMS int64
}

// ResourceMonitor tracks resource usage for the REPL process.
type ResourceMonitor struct {
	config ResourceConfig
	pid    int // the engine process's own pid, kept for log correlation only

	// Baseline stats captured at start
	baselineUserCPU   int64 // microseconds
	baselineSysCPU    int64 // microseconds
	baselinePeakMemMB float64

	// Cumulative stats for the session
	totalUserCPUMS   int64
	totalSysCPUMS    int64
	peakMemoryMB     float64
	executionCount   int
}

// NewResourceMonitor creates a new resource monitor for the given process.
func NewResourceMonitor(pid int, config ResourceConfig) *ResourceMonitor {
	return &ResourceMonitor{
		config: config,
		pid:    pid,
	}
}

// CaptureBaseline captures the initial resource state.
func (m *ResourceMonitor) CaptureBaseline() error {
	rusage, err := getProcessRusage(m.pid)
	if err != nil {
		return fmt.Errorf("get baseline rusage: %w", err)
	}

	m.baselineUserCPU = timevalToMicros(rusage.Utime)
	m.baselineSysCPU = timevalToMicros(rusage.Stime)
	m.baselinePeakMemMB = maxRSSToMB(rusage.Maxrss)

	return nil
}

// CaptureExecution captures resource usage delta for an execution.
func (m *ResourceMonitor) CaptureExecution(wallTimeMS int64) (*ResourceStats, error) {
	rusage, err := getProcessRusage(m.pid)
	if err != nil {
		return nil, fmt.Errorf("get rusage: %w", err)
	}

	currentUserCPU := timevalToMicros(rusage.Utime)
	currentSysCPU := timevalToMicros(rusage.Stime)
	currentPeakMemMB := maxRSSToMB(rusage.Maxrss)

	// Calculate delta from baseline
	userCPUDeltaMS := (currentUserCPU - m.baselineUserCPU) / 1000
	sysCPUDeltaMS := (currentSysCPU - m.baselineSysCPU) / 1000

	// Update cumulative stats
	m.totalUserCPUMS += userCPUDeltaMS
	m.totalSysCPUMS += sysCPUDeltaMS
	if currentPeakMemMB > m.peakMemoryMB {
		m.peakMemoryMB = currentPeakMemMB
	}
	m.executionCount++

	// Update baseline for next execution
	m.baselineUserCPU = currentUserCPU
	m.baselineSysCPU = currentSysCPU

	stats := &ResourceStats{
		UserCPUTimeMS:   userCPUDeltaMS,
		SystemCPUTimeMS: sysCPUDeltaMS,
		TotalCPUTimeMS:  userCPUDeltaMS + sysCPUDeltaMS,
		PeakMemoryMB:    currentPeakMemMB,
		WallTimeMS:      wallTimeMS,
	}

	return stats, nil
}

// CumulativeStats returns the cumulative resource usage for the session.
func (m *ResourceMonitor) CumulativeStats() ResourceStats {
	return ResourceStats{
		UserCPUTimeMS:   m.totalUserCPUMS,
		SystemCPUTimeMS: m.totalSysCPUMS,
		TotalCPUTimeMS:  m.totalUserCPUMS + m.totalSysCPUMS,
		PeakMemoryMB:    m.peakMemoryMB,
	}
}

// ExecutionCount returns the number of executions tracked.
func (m *ResourceMonitor) ExecutionCount() int {
	return m.executionCount
}

// CheckLimits checks if any resource limits are approaching or exceeded.
func (m *ResourceMonitor) CheckLimits(stats *ResourceStats) *ResourceViolation {
	// Check memory limit
	if m.config.MemoryLimitMB > 0 {
		memPercent := (stats.PeakMemoryMB / float64(m.config.MemoryLimitMB)) * 100
		if memPercent >= 100 {
			return &ResourceViolation{
				Resource: "memory",
				Limit:    float64(m.config.MemoryLimitMB),
				Current:  stats.PeakMemoryMB,
				Unit:     "MB",
				Hard:     true,
			}
		}
		if memPercent >= float64(m.config.WarnMemoryPercent) {
			return &ResourceViolation{
				Resource: "memory",
				Limit:    float64(m.config.MemoryLimitMB),
				Current:  stats.PeakMemoryMB,
				Unit:     "MB",
				Hard:     false, // Warning only
			}
		}
	}

	// Check CPU time limit
	if m.config.CPUTimeLimitSec > 0 {
		cpuLimitMS := int64(m.config.CPUTimeLimitSec * 1000)
		if stats.TotalCPUTimeMS >= cpuLimitMS {
			return &ResourceViolation{
				Resource: "cpu_time",
				Limit:    float64(m.config.CPUTimeLimitSec),
				Current:  float64(stats.TotalCPUTimeMS) / 1000,
				Unit:     "seconds",
				Hard:     true,
			}
		}
	}

	return nil
}

// ResourceViolation describes a resource limit that was exceeded.
type ResourceViolation struct {
	Resource string  // "memory" or "cpu_time"
	Limit    float64 // The configured limit
	Current  float64 // The current/peak usage
	Unit     string  // "MB" or "seconds"
	Hard     bool    // If true, execution should be terminated
}

func (v *ResourceViolation) Error() string {
	if v.Hard {
		return fmt.Sprintf("resource limit exceeded: %s %.2f%s (limit: %.2f%s)",
			v.Resource, v.Current, v.Unit, v.Limit, v.Unit)
	}
	return fmt.Sprintf("resource warning: %s %.2f%s approaching limit %.2f%s",
		v.Resource, v.Current, v.Unit, v.Limit, v.Unit)
}

// ulimitPrefix returns the shell statements that make CPUTimeLimitSec
// binding on whatever gets exec'd after them, for wrapping a REPL child so
// the limit is enforced by the kernel (RLIMIT_CPU) rather than merely
// observed after the fact. Memory is deliberately not enforced via
// `ulimit -v`/RLIMIT_AS here: it caps virtual address space, and a JVM or
// Node child routinely reserves far more of that than it will ever touch
// physically, so a tight `ulimit -v` kills well-behaved java/javascript
// programs for no real memory pressure. Memory stays an observed-only
// signal via ResourceMonitor/CheckLimits.
func (c ResourceConfig) ulimitPrefix() string {
	if c.CPUTimeLimitSec <= 0 {
		return ""
	}
	return fmt.Sprintf("ulimit -t %d; ", c.CPUTimeLimitSec)
}

// withResourceLimits wraps cmd in a shell invoking the configured ulimits
// before exec'ing the original program, so RLIMIT_CPU is
// actually enforced by the kernel on the spawned child rather than merely
// observed after the fact via rusage. `exec "$@"` replaces the shell with
// the original argv verbatim, so the wrapped child's argument handling is
// unchanged; cmd is returned unmodified when no limit is configured.
func withResourceLimits(cmd *exec.Cmd, res ResourceConfig) *exec.Cmd {
	prefix := res.ulimitPrefix()
	if prefix == "" {
		return cmd
	}
	args := append([]string{cmd.Path}, cmd.Args[1:]...)
	wrapped := exec.Command("sh", append([]string{"-c", prefix + `exec "$@"`, "sh"}, args...)...)
	return wrapped
}

// getProcessRusage reports cumulative resource usage for every child of
// this process that has exited so far (RUSAGE_CHILDREN). A running REPL
// child's own usage cannot be queried from outside it on POSIX systems;
// CaptureExecution is called after the child has already been waited on,
// so by that point its usage has been folded into RUSAGE_CHILDREN and the
// baseline/delta bookkeeping below isolates this call's contribution.
func getProcessRusage(pid int) (*syscall.Rusage, error) {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_CHILDREN, &rusage); err != nil {
		return nil, err
	}
	return &rusage, nil
}

// timevalToMicros converts a syscall.Timeval to microseconds.
func timevalToMicros(tv syscall.Timeval) int64 {
	return tv.Sec*1000000 + int64(tv.Usec)
}

// maxRSSToMB converts max RSS to megabytes.
// On macOS, Maxrss is in bytes; on Linux it's in kilobytes.
func maxRSSToMB(maxrss int64) float64 {
	if runtime.GOOS == "darwin" {
		return float64(maxrss) / (1024 * 1024)
	}
	// Linux: Maxrss is in KB
	return float64(maxrss) / 1024
}

// ResourceError is returned when a resource limit is violated.
type ResourceError struct {
	Violation *ResourceViolation
	Stats     *ResourceStats
	Message   string
}

func (e *ResourceError) Error() string {
	return e.Message
}

// NewResourceError creates a resource error with full context.
func NewResourceError(violation *ResourceViolation, stats *ResourceStats) *ResourceError {
	return &ResourceError{
		Violation: violation,
		Stats:     stats,
		Message:   violation.Error(),
	}
}

// ResourceCallback is called when resource events occur.
type ResourceCallback func(event ResourceEvent)

// ResourceEvent describes a resource-related event.
type ResourceEvent struct {
	Type      string          // "warning", "limit_exceeded", "stats"
	Stats     *ResourceStats  // Current stats
	Violation *ResourceViolation // Non-nil if a violation occurred
	Timestamp time.Time
}
