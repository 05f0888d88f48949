// Package process finds and cleans up engine CLI processes left behind after
// a crash. Runs are spawned in their own process group and killed with the
// group on shutdown, but a hard crash of the supervisor can still leave
// engine processes running.
package process

import (
	"context"
	osexec "os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/littlebearapps/untether/exec"
	"github.com/littlebearapps/untether/logger"
)

// streamArgsPattern matches the argument every supervised engine run carries.
// Interactive claude sessions started by the user do not use stream-json
// output, so they are never touched.
const streamArgsPattern = "claude.*--output-format stream-json"

// EngineProcess represents a running engine CLI process found on the system.
type EngineProcess struct {
	PID     int    // Process ID
	Command string // Full command line
}

// FindEngineProcesses finds all supervised engine CLI processes on the system.
func FindEngineProcesses(ctx context.Context) ([]EngineProcess, error) {
	var processes []EngineProcess
	log := logger.WithComponent("process")
	executor := exec.GetDefaultExecutor()

	switch runtime.GOOS {
	case "darwin", "linux":
		output, err := executor.Output(ctx, "", "pgrep", "-f", streamArgsPattern)
		if err != nil {
			// pgrep returns exit code 1 if no processes found
			if exitErr, ok := err.(*osexec.ExitError); ok && exitErr.ExitCode() == 1 {
				return processes, nil
			}
			return nil, err
		}

		for _, pidStr := range strings.Fields(string(output)) {
			pid, err := strconv.Atoi(pidStr)
			if err != nil {
				continue
			}

			psOutput, err := executor.Output(ctx, "", "ps", "-p", pidStr, "-o", "args=")
			if err != nil {
				continue
			}

			processes = append(processes, EngineProcess{
				PID:     pid,
				Command: strings.TrimSpace(string(psOutput)),
			})
		}

	case "windows":
		output, err := executor.Output(ctx, "", "tasklist", "/FI", "IMAGENAME eq claude*", "/FO", "CSV", "/NH")
		if err != nil {
			return nil, err
		}

		for _, line := range strings.Split(string(output), "\n") {
			fields := strings.Split(line, ",")
			if len(fields) < 2 {
				continue
			}
			pid, err := strconv.Atoi(strings.Trim(strings.TrimSpace(fields[1]), "\""))
			if err != nil {
				continue
			}
			processes = append(processes, EngineProcess{
				PID:     pid,
				Command: strings.Trim(fields[0], "\""),
			})
		}
	}

	log.Debug("found engine processes", "count", len(processes))
	return processes, nil
}

// KillProcess kills a process by PID.
func KillProcess(ctx context.Context, pid int) error {
	executor := exec.GetDefaultExecutor()
	switch runtime.GOOS {
	case "darwin", "linux":
		_, _, err := executor.Run(ctx, "", "kill", "-9", strconv.Itoa(pid))
		return err
	case "windows":
		_, _, err := executor.Run(ctx, "", "taskkill", "/F", "/PID", strconv.Itoa(pid))
		return err
	}
	return nil
}

// FindOrphans finds engine processes resumed from sessions that aren't in the
// provided set of known resume values. Fresh runs carry no resume flag and
// cannot be attributed, so they are left alone.
func FindOrphans(ctx context.Context, knownResumes map[string]bool) ([]EngineProcess, error) {
	all, err := FindEngineProcesses(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []EngineProcess
	for _, proc := range all {
		resume := extractResumeValue(proc.Command)
		if resume != "" && !knownResumes[resume] {
			orphans = append(orphans, proc)
			log.Info("found orphaned engine process", "pid", proc.PID, "resume", resume)
		}
	}

	return orphans, nil
}

// extractResumeValue extracts the resume value from an engine CLI command line.
func extractResumeValue(cmdLine string) string {
	fields := strings.Fields(cmdLine)
	for i, field := range fields {
		switch {
		case field == "--resume" || field == "-r":
			if i+1 < len(fields) {
				return fields[i+1]
			}
		case strings.HasPrefix(field, "--resume="):
			return strings.TrimPrefix(field, "--resume=")
		}
	}
	return ""
}

// CleanupOrphans kills all engine processes whose resume value doesn't match
// a known session. Returns the number of processes killed.
func CleanupOrphans(ctx context.Context, knownResumes map[string]bool) (int, error) {
	orphans, err := FindOrphans(ctx, knownResumes)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned engine process", "pid", proc.PID)
		if err := KillProcess(ctx, proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}

	return killed, nil
}
