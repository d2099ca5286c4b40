package sentinel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const ioregOutput = `+-o IOHIDSystem  <class IOHIDSystem>
    {
      "HIDIdleTime" = 123456789012
    }
`

func TestParseIdleSeconds(t *testing.T) {
	require.Equal(t, int64(123), ParseIdleSeconds(ioregOutput))
	require.Equal(t, int64(0), ParseIdleSeconds(`"HIDIdleTime" = 999`))
	require.Equal(t, int64(-1), ParseIdleSeconds("no counter here"))
	require.Equal(t, int64(-1), ParseIdleSeconds(""))
}

func TestIdleSeconds_ProbeFailure(t *testing.T) {
	a := &ActivityCollector{Run: func(ctx context.Context, name string, args ...string) (string, error) {
		return "", errors.New("ioreg missing")
	}}
	require.Equal(t, int64(-1), a.idleSeconds(context.Background()))
}

func TestIsGUIApp(t *testing.T) {
	require.True(t, isGUIApp("/Applications/Safari.app/Contents/MacOS/Safari"))
	require.False(t, isGUIApp("/usr/libexec/trustd"))
}

func TestIsVMProcess(t *testing.T) {
	require.True(t, isVMProcess("VBoxHeadless"))
	require.True(t, isVMProcess("com.docker.hyperkit"))
	require.True(t, isVMProcess("qemu-system-aarch64"))
	require.False(t, isVMProcess("Safari"))
}

func TestUniqueSorted(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, uniqueSorted([]string{"c", "a", "b", "a", "c"}))
	require.Nil(t, uniqueSorted(nil))
}

func TestHogLine(t *testing.T) {
	require.Equal(t, "none", HogLine(nil))

	hogs := []ProcessSample{
		{PID: 312, Name: "WindowServer", CPU: 85.25, Mem: 4.2},
		{PID: 977, Name: "Chrome", CPU: 12, Mem: 31.5},
	}
	want := "WindowServer (pid 312, 85.2% cpu, 4.2% mem); Chrome (pid 977, 12.0% cpu, 31.5% mem)"
	require.Equal(t, want, HogLine(hogs))
}
