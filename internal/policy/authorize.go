package policy

import (
	"regexp"
	"strings"
)

// Decision is the verdict of the safety gate for one artifact.
type Decision struct {
	Accepted bool
	Reason   string
	// Rule names the deny-list entry or check that produced a rejection.
	Rule string
}

func accept() Decision {
	return Decision{Accepted: true}
}

func reject(rule, reason string) Decision {
	return Decision{Accepted: false, Rule: rule, Reason: reason}
}

type commandRule struct {
	label    string
	patterns []*regexp.Regexp
	match    func(string) bool
}

var destructiveCommandRules = []commandRule{
	{
		label: "recursive/force delete",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\brm\s+(?:\S+\s+)*?(?:-[a-z]*[rf][a-z]*|--recursive|--force|--no-preserve-root)(?:\s|$)`),
			regexp.MustCompile(`(?i)\b(?:del|erase)\s+.*?/[sq]\b`),
			regexp.MustCompile(`(?i)\b(?:rd|rmdir)\s+.*?/s\b`),
			regexp.MustCompile(`(?i)\bremove-item\b.*-recurse\b`),
		},
	},
	{
		label: "raw disk write",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bdd\s+.*\bif=`),
			regexp.MustCompile(`(?i)\bof=/dev/`),
			regexp.MustCompile(`(?i)>\s*/dev/(?:sd|hd|vd|xvd|nvme|disk|mmcblk)`),
		},
	},
	{
		label: "filesystem format",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bmkfs(?:\.\w+)?\b`),
			regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
			regexp.MustCompile(`(?i)\bformat-volume\b`),
			regexp.MustCompile(`(?i)\bdiskutil\s+(?:erase\w*|zerodisk|secureerase|reformat)\b`),
			regexp.MustCompile(`(?i)\bwipefs\b`),
		},
	},
	{
		label: "forced shutdown",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:shutdown|poweroff|halt|reboot)\b`),
			regexp.MustCompile(`(?i)\binit\s+[06]\b`),
			regexp.MustCompile(`(?i)\b(?:stop|restart)-computer\b`),
		},
	},
	{
		label: "fork bomb",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}`),
			regexp.MustCompile(`%0\s*\|\s*%0`),
		},
		match: definesSelfPipingFunction,
	},
}

var shellFunctionDef = regexp.MustCompile(`(?:\bfunction\s+([\w:.-]+)\s*(?:\(\s*\))?|([\w:.-]+)\s*\(\s*\))\s*\{([^}]*)\}`)

// definesSelfPipingFunction reports whether the command defines a shell
// function whose body pipes the function into itself in the background,
// whatever the function is called.
func definesSelfPipingFunction(cmd string) bool {
	for _, m := range shellFunctionDef.FindAllStringSubmatch(cmd, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		q := regexp.QuoteMeta(name)
		self := regexp.MustCompile(`(?:^|[\s;{(&|])` + q + `\s*\|\s*` + q + `\s*&`)
		if self.MatchString(m[3]) {
			return true
		}
	}
	return false
}

// ValidateCommand checks a generated shell command against the destructive
// deny-list. Anything not matched is accepted.
func ValidateCommand(command string) Decision {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return reject("empty", "command is empty")
	}
	for _, rule := range destructiveCommandRules {
		for _, re := range rule.patterns {
			if re.MatchString(cmd) {
				return reject(rule.label, "command matches destructive pattern: "+rule.label)
			}
		}
		if rule.match != nil && rule.match(cmd) {
			return reject(rule.label, "command matches destructive pattern: "+rule.label)
		}
	}
	return accept()
}
