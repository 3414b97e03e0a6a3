package engine

import "strconv"

// Limits is the configurable subset of the lockdown profile. Everything else
// about the container's security posture is fixed.
type Limits struct {
	Memory string
	CPUs   string
	Pids   int
}

// DefaultLimits returns the resource ceilings applied when settings do not
// override them.
func DefaultLimits() Limits {
	return Limits{Memory: "2g", CPUs: "2", Pids: 256}
}

// RunSpec describes the single gateway container the launcher manages. The
// flag set it renders is the lockdown profile: read-only root filesystem, all
// capabilities dropped except the privileged-port bind, no privilege
// escalation, an exec-proof /tmp, resource ceilings, and a loopback-only
// publish.
type RunSpec struct {
	Name    string
	Image   string
	Publish string
	EnvFile string
	Volumes []string
	Limits  Limits
	Command []string
}

// Args renders the docker run invocation for this spec.
func (s RunSpec) Args() []string {
	args := []string{
		"run", "-d",
		"--name", s.Name,
		"--read-only",
		"--cap-drop", "ALL",
		"--cap-add", "NET_BIND_SERVICE",
		"--security-opt", "no-new-privileges",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--restart", "unless-stopped",
	}
	if s.Limits.Memory != "" {
		args = append(args, "--memory", s.Limits.Memory)
	}
	if s.Limits.CPUs != "" {
		args = append(args, "--cpus", s.Limits.CPUs)
	}
	if s.Limits.Pids > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(s.Limits.Pids))
	}
	if s.Publish != "" {
		args = append(args, "-p", s.Publish)
	}
	if s.EnvFile != "" {
		args = append(args, "--env-file", s.EnvFile)
	}
	for _, volume := range s.Volumes {
		args = append(args, "-v", volume)
	}
	args = append(args, s.Image)
	args = append(args, s.Command...)
	return args
}
