package patterns

// Built-in pattern groups. Names appear in audit output, so they are stable
// identifiers: renaming one is a breaking change for downstream log tooling.

func builtinCritical() []Definition {
	return []Definition{
		{Name: "critical.encoded-command", Expr: `(^|\s)-e(c|nc(odedcommand)?)(\s|$)`},
		{Name: "critical.download-execute", Expr: `(invoke-webrequest|invoke-restmethod|\biwr\b|\birm\b|\bcurl\b|\bwget\b|downloadstring|downloadfile|start-bitstransfer).*\|.*(\biex\b|invoke-expression|invoke-command|\bsh\b|\bbash\b|powershell|pwsh)`},
		{Name: "critical.iex-download", Expr: `(\biex\b|invoke-expression).*(downloadstring|downloadfile|webclient|invoke-webrequest|invoke-restmethod|\birm\b|\biwr\b)`},
		{Name: "critical.execution-policy-bypass", Expr: `-e(p|xecutionpolicy)\s+(bypass|unrestricted)`},
		{Name: "critical.hidden-window", Expr: `-w(indowstyle)?\s+hidden`},
		{Name: "critical.base64-invoke", Expr: `frombase64string.*(\biex\b|invoke-expression|invoke-command)`},
	}
}

func builtinBlocked() []Definition {
	return []Definition{
		{Name: "blocked.rm-root", Expr: `rm\s+(-rf?|-fr?)\s+/(\s|$|\*)`},
		{Name: "blocked.rm-no-preserve-root", Expr: `rm\s+.*--no-preserve-root`},
		{Name: "blocked.remove-system-path", Expr: `remove-item\s+[^|;]*(c:\\windows|c:\\program files|/etc($|/| )|/usr($|/| )|/boot($|/| ))`},
		{Name: "blocked.format-volume", Expr: `\bformat-volume\b|\bformat\s+[a-z]:`},
		{Name: "blocked.mkfs", Expr: `\bmkfs\b`},
		{Name: "blocked.raw-disk-write", Expr: `dd\s+[^|;]*of=/dev/|>\s*/dev/(sd|nvme|hd)`},
		{Name: "blocked.shutdown", Expr: `^(stop-computer|restart-computer|shutdown|reboot|poweroff|halt)(\s|$)|\binit\s+0\b`},
		{Name: "blocked.shadow-copy-delete", Expr: `vssadmin\s+delete\s+shadows`},
		{Name: "blocked.boot-config", Expr: `\bbcdedit\b`},
		{Name: "blocked.registry-hive-delete", Expr: `remove-item\s+[^|;]*hklm:|reg\s+delete\s+hklm`},
		{Name: "blocked.defender-disable", Expr: `set-mppreference\s+[^|;]*-disablerealtimemonitoring|disable-windowsdefender`},
		{Name: "blocked.fork-bomb", Expr: `:\(\)\s*\{\s*:\s*\|\s*:`},
		{Name: "blocked.crypto-miner", Expr: `\b(xmrig|minerd|cpuminer)\b`},
	}
}

func builtinDangerous() []Definition {
	return []Definition{
		{Name: "dangerous.recursive-force-delete", Expr: `remove-item\s+[^|;]*-recurse[^|;]*-force|remove-item\s+[^|;]*-force[^|;]*-recurse|rm\s+(-rf|-fr)\s`},
		{Name: "dangerous.stop-critical-service", Expr: `stop-service\s+[^|;]*(winrm|wuauserv|windefend|eventlog|sshd?)`},
		{Name: "dangerous.set-execution-policy", Expr: `^set-executionpolicy\b`},
		{Name: "dangerous.user-admin", Expr: `net\s+user\s+[^|;]*/add|^new-localuser\b|^add-localgroupmember\b`},
		{Name: "dangerous.firewall-off", Expr: `set-netfirewallprofile\s+[^|;]*-enabled\s+false|netsh\s+advfirewall\s+[^|;]*\boff\b`},
		{Name: "dangerous.scheduled-task", Expr: `^register-scheduledtask\b|schtasks\s+/create`},
		{Name: "dangerous.disk-partition", Expr: `\b(clear-disk|initialize-disk|remove-partition|diskpart)\b`},
		{Name: "dangerous.system-file-write", Expr: `(copy-item|move-item|set-content|out-file)\s+[^|;]*(c:\\windows\\system32|/etc/passwd|/etc/shadow)`},
	}
}

func builtinRisky() []Definition {
	return []Definition{
		{Name: "risky.remove-item", Expr: `^(remove-item|del|erase|rd|rmdir)(\s|$)|^rm\s`},
		{Name: "risky.stop-process", Expr: `^(stop-process|spps|kill)(\s|$)`},
		{Name: "risky.service-control", Expr: `^(stop-service|start-service|restart-service|set-service|suspend-service|resume-service)(\s|$)`},
		{Name: "risky.registry-write", Expr: `^(set-itemproperty|new-itemproperty|remove-itemproperty)\s+[^|;]*(hklm|hkcu):|^reg\s+(add|delete)\b`},
		{Name: "risky.module-install", Expr: `^(install-module|uninstall-module|install-package|uninstall-package)(\s|$)`},
		{Name: "risky.web-request", Expr: `^(invoke-webrequest|invoke-restmethod|iwr|irm|curl|wget)(\s|$)`},
		{Name: "risky.start-process", Expr: `^(start-process|saps)(\s|$)`},
		{Name: "risky.move-rename", Expr: `^(move-item|rename-item|mi\s|mv\s|ren)(\s|$)`},
		{Name: "risky.content-write", Expr: `^(set-content|add-content|out-file|clear-content)(\s|$)`},
	}
}

func builtinSafe() []Definition {
	return []Definition{
		{Name: "safe.get-core", Expr: `^get-(date|location|childitem|item|content|process|service|command|member|help|history|host|psdrive|variable|alias|module|uptime|computerinfo|random|culture|timezone)(\s|$)`},
		{Name: "safe.nav", Expr: `^(pwd|ls|dir|echo|whoami|hostname)(\s|$)`},
		{Name: "safe.test", Expr: `^test-(path|connection|netconnection|json)(\s|$)`},
		{Name: "safe.write-output", Expr: `^(write-output|write-host|out-string)(\s|$)`},
		{Name: "safe.pipeline-ops", Expr: `^(select-object|where-object|sort-object|foreach-object|measure-object|measure-command|format-table|format-list|format-wide|group-object|compare-object)(\s|$)`},
		{Name: "safe.help", Expr: `^(help|man)(\s|$)`},
		{Name: "safe.version", Expr: `^\$psversiontable(\s|$|\.)`},
	}
}
