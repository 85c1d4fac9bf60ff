package backend

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// hostInfo describes the local machine for adapters whose backend does not
// report it.
func hostInfo() *api.SystemInfo {
	return &api.SystemInfo{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPU: api.CPUInfo{
			Cores: runtime.NumCPU(),
			Name:  runtime.GOARCH,
		},
		GPU: detectGPU(),
	}
}

// detectGPU queries nvidia-smi. Any failure means no GPU.
func detectGPU() api.GPUInfo {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,driver_version",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return api.GPUInfo{}
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads the first GPU line; memory.total is in MiB.
func parseNvidiaSMI(out string) api.GPUInfo {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return api.GPUInfo{}
	}
	gpu := api.GPUInfo{
		Available: true,
		Name:      strings.TrimSpace(fields[0]),
		Driver:    strings.TrimSpace(fields[2]),
	}
	if mib, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64); err == nil {
		gpu.Memory = mib * 1024 * 1024
	}
	return gpu
}
