package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writePlugin creates dir/<name>/plugin.json and an executable shell script.
func writePlugin(t *testing.T, dir string, m Manifest, script string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins are not supported on Windows")
	}

	if m.Executable == "" {
		m.Executable = "run.sh"
	}
	pluginDir := filepath.Join(dir, m.Name)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))

	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.json"), data, 0o644))

	exe := filepath.Join(pluginDir, m.Executable)
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0o755))

	return &Plugin{Manifest: m, Path: pluginDir, Executable: exe}
}

const okScript = `cat > /dev/null
echo '{"success":true}'
`
