package policy

import "regexp"

// Built-in credential detectors applied to added lines. Any hit is a
// violation, never a warning.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*['"][A-Za-z0-9_\-]{8,}['"]`),
	regexp.MustCompile(`(?i)secret[_-]?key\s*[:=]\s*['"][^'"]{8,}['"]`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{16,}`),
	regexp.MustCompile(`-----BEGIN\s+(?:RSA|EC|DSA|OPENSSH|PGP)?\s*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)password\s*[:=]\s*['"][^'"]{4,}['"]`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
}

// Telemetry/analytics indicators. Hits are advisory.
var telemetryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:google-?analytics|gtag|mixpanel|segment\.io|amplitude|sentry\.io|posthog|hotjar)\b`),
	regexp.MustCompile(`(?i)\btrack(?:ing)?[_-]?(?:event|pixel|id)\b`),
	regexp.MustCompile(`(?i)\btelemetry\b`),
}

// Sensitive file globs: deleting a matching file is a violation regardless
// of the configured path rules.
var sensitiveFileGlobs = []string{
	".env", ".env.*", "**/.env", "**/.env.*",
	"**/credentials", "**/credentials.*",
	".ssh/**", "**/.ssh/**",
	"**/*.pem", "**/*.key",
	".aws/**", "**/.aws/**", ".gcloud/**", "**/.gcloud/**", ".azure/**", "**/.azure/**",
	"**/id_rsa", "**/id_ed25519",
}

// licenseFileRe matches LICENSE-like paths; licenseLineRe matches
// license-keyword lines inside a diff.
var (
	licenseFileRe = regexp.MustCompile(`(?i)(^|/)(license|licence|copying|notice)(\.[a-z]+)?$`)
	licenseLineRe = regexp.MustCompile(`(?i)\b(copyright|licensed under|all rights reserved|spdx-license-identifier)\b`)
)

// Dangerous command substrings. warn entries are advisory; violation
// entries (privilege escalation, system-service mutation) block the batch.
var dangerousCommandWarns = []string{
	"rm -rf", "rm -fr",
	"chmod 777", "chmod -R 777",
	"curl | sh", "curl | bash", "| sh", "| bash",
	"wget -O- |", "wget -qO- |",
	"npm install -g", "pip install --user", "gem install",
	"git push --force", "git reset --hard", "git clean -fd",
	"terraform apply", "kubectl delete", "aws s3 rm", "gcloud compute",
	"docker system prune",
}

var dangerousCommandViolations = []string{
	"sudo ", "su -", "doas ",
	"systemctl ", "service ", "launchctl ",
	"mkfs", "dd if=", "shutdown", "reboot",
	"setcap ", "chown root",
}

// dependencyAddRe recognizes dependency additions in common manifest files.
var dependencyAddRe = map[string]*regexp.Regexp{
	"requirements.txt": regexp.MustCompile(`^([A-Za-z0-9_.\-]+)`),
	"pyproject.toml":   regexp.MustCompile(`^\s*"?([A-Za-z0-9_.\-]+)"?\s*[>=<~!]`),
	"package.json":     regexp.MustCompile(`^\s*"([A-Za-z0-9@/_.\-]+)"\s*:\s*"`),
	"go.mod":           regexp.MustCompile(`^\s*(?:require\s+)?([A-Za-z0-9_.\-/]+\.[a-z]+/[A-Za-z0-9_.\-/]+)\s+v`),
	"cargo.toml":       regexp.MustCompile(`^\s*([A-Za-z0-9_\-]+)\s*=`),
}
