package sentinel

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSample is one resource-hog process.
type ProcessSample struct {
	PID  int32   `json:"pid"`
	Name string  `json:"name"`
	CPU  float64 `json:"cpu"`
	Mem  float32 `json:"mem"`
}

// ActivitySnapshot is the user/process side of the record. It is context for
// the operator and never feeds the verdict.
type ActivitySnapshot struct {
	ConsoleUsers []string        `json:"console_users,omitempty"`
	IdleSeconds  int64           `json:"idle_seconds"`
	GUIApps      []string        `json:"gui_apps,omitempty"`
	VMProcesses  []string        `json:"vm_processes,omitempty"`
	Hogs         []ProcessSample `json:"hogs,omitempty"`
}

// ActivityCollector samples sessions, idle time, and the process inventory.
// Every probe is bounded; a failed probe leaves its slice empty (or the idle
// counter at -1) and never fails the run.
type ActivityCollector struct {
	Run          CommandRunner
	ProbeTimeout time.Duration
	HogCPU       float64
	HogMem       float64
	MaxListed    int
	Debug        bool
}

func (a *ActivityCollector) Collect(ctx context.Context) ActivitySnapshot {
	snap := ActivitySnapshot{IdleSeconds: -1}
	timeout := a.ProbeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	snap.ConsoleUsers = a.consoleUsers(cctx)
	cancel()

	cctx, cancel = context.WithTimeout(ctx, timeout)
	snap.IdleSeconds = a.idleSeconds(cctx)
	cancel()

	cctx, cancel = context.WithTimeout(ctx, timeout)
	snap.GUIApps, snap.VMProcesses, snap.Hogs = a.scanProcesses(cctx)
	cancel()

	return snap
}

func (a *ActivityCollector) consoleUsers(ctx context.Context) []string {
	users, err := host.UsersWithContext(ctx)
	if err != nil {
		if a.Debug {
			log.Printf("session probe: %v", err)
		}
		return nil
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		name := strings.TrimSpace(u.User)
		if name == "" {
			continue
		}
		if term := strings.TrimSpace(u.Terminal); term != "" {
			name = name + "@" + term
		}
		out = append(out, name)
	}
	return uniqueSorted(out)
}

var hidIdlePattern = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

// idleSeconds reads the HID idle counter. -1 means the counter was
// unreadable, which the record distinguishes from an active (zero) reading.
func (a *ActivityCollector) idleSeconds(ctx context.Context) int64 {
	run := a.Run
	if run == nil {
		run = RunCommand
	}
	out, err := run(ctx, "ioreg", "-c", "IOHIDSystem", "-d", "4")
	if err != nil {
		if a.Debug {
			log.Printf("idle probe: %v", err)
		}
		return -1
	}
	return ParseIdleSeconds(out)
}

// ParseIdleSeconds extracts HIDIdleTime (nanoseconds) from ioreg output.
func ParseIdleSeconds(out string) int64 {
	m := hidIdlePattern.FindStringSubmatch(out)
	if m == nil {
		return -1
	}
	ns, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return -1
	}
	return ns / int64(time.Second)
}

// vmProcessMarkers identify virtualization workloads by process name.
var vmProcessMarkers = []string{
	"vboxheadless",
	"virtualboxvm",
	"vmware-vmx",
	"qemu-system",
	"prl_vm_app",
	"parallels",
	"utm",
	"com.docker",
	"hyperkit",
	"vfkit",
	"krunkit",
}

func (a *ActivityCollector) scanProcesses(ctx context.Context) (guiApps, vms []string, hogs []ProcessSample) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		if a.Debug {
			log.Printf("process probe: %v", err)
		}
		return nil, nil, nil
	}
	hogCPU := a.HogCPU
	if hogCPU <= 0 {
		hogCPU = 70
	}
	hogMem := a.HogMem
	if hogMem <= 0 {
		hogMem = 20
	}

	for _, p := range procs {
		if ctx.Err() != nil {
			break
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		if exe, err := p.ExeWithContext(ctx); err == nil && isGUIApp(exe) {
			guiApps = append(guiApps, name)
		}
		if isVMProcess(name) {
			vms = append(vms, name)
		}
		cpu, cerr := p.CPUPercentWithContext(ctx)
		mem, merr := p.MemoryPercentWithContext(ctx)
		if cerr != nil && merr != nil {
			continue
		}
		if cpu >= hogCPU || float64(mem) >= hogMem {
			hogs = append(hogs, ProcessSample{PID: p.Pid, Name: name, CPU: cpu, Mem: mem})
		}
	}

	guiApps = uniqueSorted(guiApps)
	vms = uniqueSorted(vms)
	sort.Slice(hogs, func(i, j int) bool {
		if hogs[i].CPU != hogs[j].CPU {
			return hogs[i].CPU > hogs[j].CPU
		}
		return hogs[i].Mem > hogs[j].Mem
	})

	max := a.MaxListed
	if max <= 0 {
		max = 20
	}
	if len(guiApps) > max {
		guiApps = guiApps[:max]
	}
	if len(vms) > max {
		vms = vms[:max]
	}
	if len(hogs) > max {
		hogs = hogs[:max]
	}
	return guiApps, vms, hogs
}

// isGUIApp recognizes application-bundle executables by path.
func isGUIApp(exe string) bool {
	return strings.Contains(exe, ".app/Contents/MacOS/")
}

func isVMProcess(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range vmProcessMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HogLine renders the hog list for the record ("name (pid 123, 85.0% cpu,
// 12.3% mem)"). Empty input yields the explicit marker "none".
func HogLine(hogs []ProcessSample) string {
	if len(hogs) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(hogs))
	for _, h := range hogs {
		parts = append(parts, fmt.Sprintf("%s (pid %d, %.1f%% cpu, %.1f%% mem)", h.Name, h.PID, h.CPU, h.Mem))
	}
	return strings.Join(parts, "; ")
}
