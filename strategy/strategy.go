// Package strategy selects the collection topology for a session.
//
// The dispatcher probes the environment once at session start and picks
// how events are attributed and buffered. Every topology produces
// schema-identical event records; components downstream never consult
// the topology again.
package strategy

import (
	"fmt"
	"runtime"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// TaskIDProvider reports the identity of the currently running
// cooperative task, when the host runs one. Returns (0, false) when the
// caller is not executing inside a task with stable identity.
//
// The provider is invoked on the hot path and must not allocate.
type TaskIDProvider func() (taskID uint64, ok bool)

// Environment is the result of probing the host process.
type Environment struct {
	// SchedulableUnits is the number of worker threads available.
	SchedulableUnits int
	// TaskRuntime is non-nil when a cooperative-concurrency runtime is
	// integrated via a task ID provider.
	TaskRuntime TaskIDProvider
}

// Probe inspects the host process. The task provider comes from host
// integration; there is no in-process way to discover one.
func Probe(taskProvider TaskIDProvider) Environment {
	return Environment{
		SchedulableUnits: runtime.GOMAXPROCS(0),
		TaskRuntime:      taskProvider,
	}
}

// Select picks a topology for the environment. forced overrides the
// probe unless it is TopologyAuto or empty.
//
// A forced task-local or hybrid topology without a task runtime is an
// invalid configuration: the dispatcher refuses to guess task identity.
func Select(env Environment, forced types.Topology) (types.Topology, error) {
	if forced != "" && forced != types.TopologyAuto {
		if !forced.Valid() {
			return "", trackerr.New(trackerr.KindInvalidConfig, "strategy",
				"use one of: global_direct, thread_local, task_local, hybrid, auto",
				fmt.Errorf("%w: unknown topology %q", trackerr.ErrInvalidConfig, forced))
		}
		if (forced == types.TopologyTaskLocal || forced == types.TopologyHybrid) && env.TaskRuntime == nil {
			return "", trackerr.New(trackerr.KindInvalidConfig, "strategy",
				"register a task ID provider before forcing task attribution",
				fmt.Errorf("%w: topology %q requires a task runtime", trackerr.ErrInvalidConfig, forced))
		}
		return forced, nil
	}

	hasTasks := env.TaskRuntime != nil
	multi := env.SchedulableUnits > 1

	switch {
	case !multi && !hasTasks:
		return types.TopologyGlobalDirect, nil
	case multi && !hasTasks:
		return types.TopologyThreadLocal, nil
	case !multi && hasTasks:
		return types.TopologyTaskLocal, nil
	default:
		return types.TopologyHybrid, nil
	}
}

// Attribute resolves the producer identity for one event under the
// chosen topology. When a task runtime is present but the current task
// has no stable identity, attribution fails closed to the thread ID.
func Attribute(topology types.Topology, env Environment, threadID uint64) (id uint64, taskAttributed bool) {
	switch topology {
	case types.TopologyTaskLocal, types.TopologyHybrid:
		if env.TaskRuntime != nil {
			if taskID, ok := env.TaskRuntime(); ok {
				return taskID, true
			}
		}
		return threadID, false
	default:
		return threadID, false
	}
}
