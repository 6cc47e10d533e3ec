package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/audit"
	"github.com/ent0n29/lia/internal/format"
	"github.com/ent0n29/lia/internal/intent"
	"github.com/ent0n29/lia/internal/policy"
)

const (
	externalConnectionsAlert = 50
	cronJobsAlert            = 20
)

// dashboardAuditRequest stands in for the user request on audit entries
// written by the fixed dashboard probes.
const dashboardAuditRequest = "security dashboard"

var suspiciousPorts = []int{4444, 5555, 6666, 31337}

// IsDashboardRequest reports whether a request asks for the security overview.
func IsDashboardRequest(request string) bool {
	lower := strings.ToLower(request)
	return strings.Contains(lower, "dashboard") || strings.Contains(lower, "security status")
}

const (
	probeSystemInfo     = "system_info"
	probeLoggedIn       = "logged_in_users"
	probeUsers          = "users"
	probeListening      = "listening_ports"
	probeExternal       = "external_connections"
	probePrivileged     = "privileged_ports"
	probeProcesses      = "processes"
	probeRootProcesses  = "root_processes"
	probeSuspiciousPort = "suspicious_ports"
	probeCron           = "cron_jobs"
)

type dashboardProbe struct {
	key       string
	statement string
}

var dashboardProbes = []dashboardProbe{
	{probeSystemInfo, "SELECT hostname, cpu_brand, physical_memory FROM system_info LIMIT 1;"},
	{probeLoggedIn, "SELECT user, tty, host FROM logged_in_users LIMIT 50;"},
	{probeUsers, "SELECT COUNT(1) AS count FROM users;"},
	{probeListening, "SELECT COUNT(1) AS count FROM listening_ports;"},
	{probeExternal, "SELECT COUNT(1) AS count FROM process_open_sockets WHERE remote_address != '' AND remote_address != '127.0.0.1' AND remote_address != '::1';"},
	{probePrivileged, "SELECT COUNT(1) AS count FROM listening_ports WHERE port < 1024;"},
	{probeProcesses, "SELECT COUNT(1) AS count FROM processes;"},
	{probeRootProcesses, "SELECT COUNT(1) AS count FROM processes WHERE uid = 0;"},
	{probeSuspiciousPort, fmt.Sprintf("SELECT port, protocol FROM listening_ports WHERE port IN (%s) LIMIT 50;", joinInts(suspiciousPorts))},
	{probeCron, "SELECT COUNT(1) AS count FROM crontab;"},
}

// Dashboard runs the fixed security probes and renders the overview. Every
// probe still passes the gate and the sanitizer.
func (a *Assistant) Dashboard(ctx context.Context) string {
	if !a.osquery.IsAvailable(ctx) {
		return format.UnavailableMessage
	}
	results := make(map[string][]map[string]any, len(dashboardProbes))
	for _, p := range dashboardProbes {
		d := policy.ValidateQuery(p.statement)
		a.metrics.ObserveGate("query", d.Accepted)
		entry := a.auditEntry(dashboardAuditRequest, intent.Query, "query", p.statement, d)
		if !d.Accepted {
			a.logger.Error("dashboard probe rejected by gate", zap.String("probe", p.key), zap.String("reason", d.Reason))
			a.recordAudit(ctx, entry, audit.OutcomeBlocked)
			continue
		}
		rows, err := a.osquery.Run(ctx, p.statement)
		if err != nil {
			f := executionFailure(err)
			a.logger.Info("dashboard probe failed", zap.String("probe", p.key), zap.Error(err))
			a.metrics.ObserveExecution("osquery", f.Kind.String())
			a.recordAudit(ctx, entry, outcomeFor(f))
			continue
		}
		a.metrics.ObserveExecution("osquery", "ok")
		a.recordAudit(ctx, entry, audit.OutcomeExecuted)
		results[p.key] = policy.SanitizeRows(rows)
	}
	return renderDashboard(results)
}

func renderDashboard(r map[string][]map[string]any) string {
	var b strings.Builder
	b.WriteString("## 🛡 Security Dashboard\n\n")

	b.WriteString("### 📊 System Overview\n")
	if rows := r[probeSystemInfo]; len(rows) > 0 {
		info := rows[0]
		fmt.Fprintf(&b, "- Hostname: %s\n", field(info, "hostname", "Unknown"))
		fmt.Fprintf(&b, "- CPU: %s\n", field(info, "cpu_brand", "Unknown"))
		if mem, ok := toInt(info["physical_memory"]); ok {
			fmt.Fprintf(&b, "- Memory: %.2f GB\n", float64(mem)/(1<<30))
		}
	} else {
		b.WriteString("- Unable to retrieve system info\n")
	}

	b.WriteString("\n### 👤 User Activity\n")
	if rows := r[probeLoggedIn]; len(rows) > 0 {
		fmt.Fprintf(&b, "- Logged in users: %d\n", len(rows))
		for _, u := range rows[:min(5, len(rows))] {
			fmt.Fprintf(&b, "  - %s on %s\n", field(u, "user", "unknown"), field(u, "tty", "unknown"))
		}
	} else {
		b.WriteString("- No logged in users detected\n")
	}
	writeCount(&b, r, probeUsers, "Total system users")

	b.WriteString("\n### 🌐 Network Security\n")
	writeCount(&b, r, probeListening, "Listening ports")
	writeCount(&b, r, probeExternal, "Active external connections")
	writeCount(&b, r, probePrivileged, "Privileged ports in use")

	b.WriteString("\n### ⚙ Process Security\n")
	writeCount(&b, r, probeProcesses, "Running processes")
	writeCount(&b, r, probeRootProcesses, "Root-owned processes")

	b.WriteString("\n### 🚨 Security Alerts\n")
	alerts := dashboardAlerts(r)
	if len(alerts) == 0 {
		b.WriteString("- ✅ No immediate security concerns detected\n")
	}
	for _, alert := range alerts {
		fmt.Fprintf(&b, "- ⚠ %s\n", alert)
	}
	return strings.TrimRight(b.String(), "\n")
}

func dashboardAlerts(r map[string][]map[string]any) []string {
	var alerts []string
	if rows := r[probeSuspiciousPort]; len(rows) > 0 {
		ports := make([]string, 0, len(rows))
		for _, row := range rows {
			ports = append(ports, field(row, "port", "?"))
		}
		alerts = append(alerts, "Suspicious ports detected: "+strings.Join(ports, ", "))
	}
	if n, ok := count(r, probeExternal); ok && n > externalConnectionsAlert {
		alerts = append(alerts, fmt.Sprintf("High number of external connections: %d", n))
	}
	if n, ok := count(r, probeCron); ok && n > cronJobsAlert {
		alerts = append(alerts, fmt.Sprintf("Unusual number of cron jobs: %d", n))
	}
	return alerts
}

func writeCount(b *strings.Builder, r map[string][]map[string]any, key, label string) {
	if n, ok := count(r, key); ok {
		fmt.Fprintf(b, "- %s: %d\n", label, n)
	}
}

func count(r map[string][]map[string]any, key string) (int64, bool) {
	rows := r[key]
	if len(rows) == 0 {
		return 0, false
	}
	return toInt(rows[0]["count"])
}

func field(row map[string]any, key, fallback string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return fallback
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return fallback
	}
	return s
}

// osquery --json reports every column as a string.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
