package template

import (
	"fmt"
	"strings"
)

// TaskType represents the kind of starter config to generate
type TaskType string

const (
	TypeBackup      TaskType = "backup"
	TypeDump        TaskType = "dump"
	TypeCleanup     TaskType = "cleanup"
	TypeGC          TaskType = "gc"
	TypeReport      TaskType = "report"
	TypeDigest      TaskType = "digest"
	TypeHealthcheck TaskType = "healthcheck"
	TypeProbe       TaskType = "probe"
	TypeSimple      TaskType = "simple"
	TypeBasic       TaskType = "basic"
)

// TaskTemplate holds the knobs that differ between starter configs.
// Durations are kept as strings because they render into TOML verbatim.
type TaskTemplate struct {
	Name             string
	Command          string
	WorkDir          string
	Every            string
	Cron             string
	RunOnStart       bool
	Timeout          string
	KillGrace        string
	FailureThreshold int
	Env              []string
}

// Generator provides starter config generation functionality
type Generator struct{}

// NewGenerator creates a new starter config generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a task template based on the specified type and name
func (g *Generator) Generate(taskType TaskType, name string) (*TaskTemplate, error) {
	switch taskType {
	case TypeBackup, TypeDump:
		return g.generateBackupTemplate(name), nil
	case TypeCleanup, TypeGC:
		return g.generateCleanupTemplate(name), nil
	case TypeReport, TypeDigest:
		return g.generateReportTemplate(name), nil
	case TypeHealthcheck, TypeProbe:
		return g.generateHealthcheckTemplate(name), nil
	case TypeSimple, TypeBasic:
		return g.generateSimpleTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown task type: %s (supported: backup, cleanup, report, healthcheck, simple)", taskType)
	}
}

// GenerateTOML renders the starter config file for the given task type.
// Every section is present with comments so operators edit rather than
// consult docs, and the output loads and validates as-is.
func (g *Generator) GenerateTOML(taskType TaskType, name string) ([]byte, error) {
	t, err := g.Generate(taskType, name)
	if err != nil {
		return nil, err
	}
	return t.renderTOML(), nil
}

// GetSupportedTypes returns a list of all supported task types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeBackup),
		string(TypeCleanup),
		string(TypeReport),
		string(TypeHealthcheck),
		string(TypeSimple),
	}
}

// renderTOML serializes the template into a commented config file.
func (t *TaskTemplate) renderTOML() []byte {
	var b strings.Builder

	if t.Name != "" {
		fmt.Fprintf(&b, "# everyd configuration - %s\n\n", t.Name)
	} else {
		b.WriteString("# everyd configuration\n\n")
	}
	b.WriteString("# Grace period for the in-flight run when the supervisor shuts down.\n")
	b.WriteString("shutdown_grace = \"10s\"\n\n")

	b.WriteString("[schedule]\n")
	if t.Cron != "" {
		fmt.Fprintf(&b, "cron = %s\n", tomlString(t.Cron))
		b.WriteString("# every = \"5m\"   # fixed cadence, used when 'cron' is unset\n")
	} else {
		fmt.Fprintf(&b, "every = %s\n", tomlString(t.Every))
		b.WriteString("# cron = \"*/5 * * * *\"   # cron expression takes precedence over 'every'\n")
	}
	fmt.Fprintf(&b, "run_on_start = %t\n\n", t.RunOnStart)

	b.WriteString("[worker]\n")
	fmt.Fprintf(&b, "command = %s\n", tomlString(t.Command))
	b.WriteString("# args = [\"--incremental\"]\n")
	if t.WorkDir != "" {
		fmt.Fprintf(&b, "workdir = %s\n", tomlString(t.WorkDir))
	} else {
		b.WriteString("# workdir = \"/var/lib/everyd\"\n")
	}
	if len(t.Env) > 0 {
		b.WriteString("env = [")
		for i, kv := range t.Env {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tomlString(kv))
		}
		b.WriteString("]\n")
	}
	fmt.Fprintf(&b, "timeout = %s\n", tomlString(t.Timeout))
	fmt.Fprintf(&b, "kill_grace = %s\n\n", tomlString(t.KillGrace))

	b.WriteString("[server]\n")
	b.WriteString("listen = \":8080\"\n")
	b.WriteString("# base_path = \"/api\"\n\n")

	b.WriteString("[health]\n")
	fmt.Fprintf(&b, "failure_threshold = %d\n", t.FailureThreshold)
	b.WriteString("history_size = 50\n\n")

	b.WriteString("[log]\n")
	b.WriteString("level = \"info\"\n")
	b.WriteString("format = \"color\"\n")
	b.WriteString("# dir = \"/var/log/everyd\"   # rotate worker output into this directory\n\n")

	b.WriteString("[metrics]\n")
	b.WriteString("enabled = true\n\n")

	b.WriteString("[history]\n")
	sinkName := t.Name
	if sinkName == "" {
		sinkName = "history"
	}
	fmt.Fprintf(&b, "# sinks = [\"sqlite:///var/lib/everyd/%s.db\"]\n", sinkName)
	b.WriteString("timeout = \"3s\"\n")

	return []byte(b.String())
}

// tomlString quotes s as a TOML basic string.
func tomlString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// Helper functions to create specific templates

func (g *Generator) generateBackupTemplate(name string) *TaskTemplate {
	return &TaskTemplate{
		Name:             name,
		Command:          "/usr/local/bin/backup.sh",
		WorkDir:          "/var/lib/backup",
		Cron:             "15 2 * * *",
		Timeout:          "30m",
		KillGrace:        "30s",
		FailureThreshold: 3,
		Env: []string{
			"BACKUP_TARGET=/srv/data",
			"BACKUP_RETENTION_DAYS=14",
		},
	}
}

func (g *Generator) generateCleanupTemplate(name string) *TaskTemplate {
	return &TaskTemplate{
		Name:             name,
		Command:          "find /var/tmp/app -type f -mtime +7 -delete",
		Every:            "1h",
		RunOnStart:       true,
		Timeout:          "5m",
		KillGrace:        "5s",
		FailureThreshold: 3,
	}
}

func (g *Generator) generateReportTemplate(name string) *TaskTemplate {
	return &TaskTemplate{
		Name:             name,
		Command:          "./generate-report",
		WorkDir:          "/opt/reports",
		Cron:             "0 6 * * *",
		Timeout:          "10m",
		KillGrace:        "10s",
		FailureThreshold: 3,
		Env: []string{
			"REPORT_FORMAT=html",
			"REPORT_RECIPIENTS=ops@example.com",
		},
	}
}

func (g *Generator) generateHealthcheckTemplate(name string) *TaskTemplate {
	return &TaskTemplate{
		Name:             name,
		Command:          "curl -fsS http://127.0.0.1:3000/healthz",
		Every:            "30s",
		RunOnStart:       true,
		Timeout:          "10s",
		KillGrace:        "2s",
		FailureThreshold: 5,
	}
}

func (g *Generator) generateSimpleTemplate(name string) *TaskTemplate {
	return &TaskTemplate{
		Name:             name,
		Command:          "echo 'Hello from " + name + "'",
		Every:            "1m",
		Timeout:          "30s",
		KillGrace:        "5s",
		FailureThreshold: 3,
	}
}
