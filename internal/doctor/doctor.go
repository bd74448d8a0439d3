// Package doctor checks an agentbridge configuration against the machine it
// will run on: agent command, integrity pin, channels and housekeeping.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/scheduler"
	"github.com/mattjoyce/agentbridge/internal/storage"
)

const longTimeout = 10 * time.Minute

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{}

	d.validateAgent(r)
	d.validateCoordinator(r)
	d.validateChannels(r)
	d.validateJournal(r)
	d.validateAPI(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Strict promotes warnings to errors.
func (r *Result) Strict() *Result {
	out := &Result{Errors: append(append([]Issue(nil), r.Errors...), r.Warnings...)}
	out.Valid = len(out.Errors) == 0
	return out
}

func addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateAgent(r *Result) {
	agent := d.cfg.Agent

	if strings.TrimSpace(agent.Command) == "" {
		addError(r, "agent", "agent.command", "agent.command is required")
		return
	}
	path, err := config.ResolveAgentPath(agent)
	if err != nil {
		addError(r, "agent", "agent.command", fmt.Sprintf("agent command %q not found: %v", agent.Command, err))
	} else if info, err := os.Stat(path); err != nil {
		addError(r, "agent", "agent.command", fmt.Sprintf("agent command %q: %v", path, err))
	} else if info.IsDir() || info.Mode()&0o111 == 0 {
		addError(r, "agent", "agent.command", fmt.Sprintf("agent command %q is not executable", path))
	}

	if agent.WorkDir != "" {
		if info, err := os.Stat(agent.WorkDir); err != nil || !info.IsDir() {
			addError(r, "agent", "agent.workdir", fmt.Sprintf("workdir %q is not a directory", agent.WorkDir))
		}
	}

	if file, err := config.IntegrityFile(agent); err == nil {
		if info, err := os.Stat(file); err == nil && info.Mode()&0o002 != 0 {
			addWarning(r, "agent", "agent.integrity.file", fmt.Sprintf("agent file %q is world-writable", file))
		}
	}
	if err := config.VerifyAgentIntegrity(agent); err != nil {
		addError(r, "integrity", "agent.integrity.blake3", err.Error())
	}

	switch {
	case agent.Timeout <= 0:
		addError(r, "agent", "agent.timeout", "agent.timeout must be positive")
	case agent.Timeout > longTimeout:
		addWarning(r, "agent", "agent.timeout",
			fmt.Sprintf("agent.timeout %s is very long; a stuck agent holds a worker slot that long", agent.Timeout))
	}
	if agent.KillGrace == 0 {
		addWarning(r, "agent", "agent.kill_grace", "kill_grace is 0; timed-out agents are killed without SIGTERM grace")
	}
}

func (d *Doctor) validateCoordinator(r *Result) {
	if d.cfg.Coordinator.MaxConcurrent < 1 {
		addError(r, "coordinator", "coordinator.max_concurrent",
			fmt.Sprintf("max_concurrent must be at least 1 (got %d)", d.cfg.Coordinator.MaxConcurrent))
	}
	if d.cfg.Replies.Timeout <= 0 {
		addError(r, "replies", "replies.timeout", "replies.timeout must be positive")
	}
}

func (d *Doctor) validateChannels(r *Result) {
	if !d.cfg.WhatsApp.Enabled {
		addError(r, "channels", "whatsapp.enabled",
			"no chat channel enabled; system start has nothing to serve (agentbridge chat still works)")
	}
}

func (d *Doctor) validateJournal(r *Result) {
	j := d.cfg.Journal
	if !j.Enabled {
		return
	}
	if j.Path == "" {
		addError(r, "journal", "journal.path", "journal.path is required when the journal is enabled")
	} else if err := storage.CheckLocalFilesystem(j.Path); errors.Is(err, storage.ErrNetworkFilesystem) {
		addError(r, "journal", "journal.path", err.Error())
	}
	if _, err := scheduler.ParseSchedule(j.PruneSchedule); err != nil {
		addError(r, "journal", "journal.prune_schedule", err.Error())
	}
	if j.Retention == 0 {
		addWarning(r, "journal", "journal.retention", "retention is 0; journal rows are never pruned")
	}
}

func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	if api.Listen == "" {
		addError(r, "api", "api.listen", "api.listen is required when the api is enabled")
	}
	if api.APIKey == "" {
		addError(r, "api", "api.api_key", "api enabled without api_key")
	}
	if host, _, err := net.SplitHostPort(api.Listen); err == nil {
		if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
			addWarning(r, "api", "api.listen", fmt.Sprintf("api listens on %q, reachable beyond this host", api.Listen))
		}
	}
	if !d.cfg.Journal.Enabled {
		addWarning(r, "api", "journal.enabled", "journal disabled; /requests endpoints will return 503")
	}
}

// warnMissingEnvVars flags ${VAR} references left in free-form fields.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		if name := config.UnresolvedEnvVar(value); name != "" {
			addWarning(r, "env", field, fmt.Sprintf("environment variable ${%s} is not set", name))
		}
	}
	for i, arg := range d.cfg.Agent.Args {
		check(fmt.Sprintf("agent.args[%d]", i), arg)
	}
	for k, v := range d.cfg.Agent.Env {
		check("agent.env."+k, v)
	}
	check("replies.apology", d.cfg.Replies.Apology)
	check("replies.empty", d.cfg.Replies.Empty)
	for i, id := range d.cfg.WhatsApp.AllowFrom {
		check(fmt.Sprintf("whatsapp.allow_from[%d]", i), id)
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
