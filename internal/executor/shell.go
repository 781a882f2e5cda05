package executor

import (
	"os"
	"os/exec"
	"runtime"
)

// shell resolution precedence: configuration override, environment
// override, known installation paths, PATH search for the modern variant,
// PATH search for the legacy variant, then the bare fallback name. Every
// attempt is recorded so a misresolved shell is diagnosable from the
// result alone.

const (
	modernShell   = "pwsh"
	legacyShell   = "powershell"
	fallbackShell = modernShell
)

var knownShellPaths = map[string][]string{
	"windows": {
		`C:\Program Files\PowerShell\7\pwsh.exe`,
		`C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`,
	},
	"other": {
		"/usr/bin/pwsh",
		"/usr/local/bin/pwsh",
		"/opt/microsoft/powershell/7/pwsh",
		"/snap/bin/pwsh",
	},
}

// Injection points for tests.
var (
	lookPathFn = exec.LookPath
	statFn     = os.Stat
)

// ResolveShell picks the shell binary to spawn. configured is the
// config-file override; the SHELLGATE_SHELL environment variable is the
// environment override.
func ResolveShell(configured string) (string, []string) {
	var attempts []string

	try := func(source, candidate string) (string, bool) {
		if candidate == "" {
			return "", false
		}
		attempts = append(attempts, source+":"+candidate)
		if _, err := statFn(candidate); err == nil {
			return candidate, true
		}
		if path, err := lookPathFn(candidate); err == nil {
			return path, true
		}
		return "", false
	}

	if path, ok := try("config", configured); ok {
		return path, attempts
	}
	if path, ok := try("env", os.Getenv("SHELLGATE_SHELL")); ok {
		return path, attempts
	}

	known := knownShellPaths["other"]
	if runtime.GOOS == "windows" {
		known = knownShellPaths["windows"]
	}
	for _, candidate := range known {
		if path, ok := try("known", candidate); ok {
			return path, attempts
		}
	}

	if path, ok := try("path", modernShell); ok {
		return path, attempts
	}
	if path, ok := try("path", legacyShell); ok {
		return path, attempts
	}

	attempts = append(attempts, "fallback:"+fallbackShell)
	return fallbackShell, attempts
}
