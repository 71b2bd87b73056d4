// Package doctor runs configuration diagnostics for hookgate. It goes
// beyond load-time validation: it flags settings that load fine but make
// a running gateway misbehave, like port collisions or a poll interval
// that will hammer the store.
package doctor

import (
	"fmt"
	"net"
	"time"

	"hookgate/internal/config"
	"hookgate/internal/webhook"
)

// Result holds the outcome of a diagnostics run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single diagnostic error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

const minAPIKeyLength = 16

// Doctor checks a loaded configuration for operational problems.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkService(r)
	d.checkWebhook(r)
	d.checkListenCollision(r)
	d.checkAPI(r)
	d.checkDispatch(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkService flags log levels that silently fall back to info.
func (d *Doctor) checkService(r *Result) {
	switch d.cfg.Service.LogLevel {
	case "debug", "info", "warn", "error",
		"DEBUG", "INFO", "WARN", "ERROR":
	default:
		d.addWarning(r, "service", "service.log_level",
			fmt.Sprintf("unrecognized log level %q; the service will log at info", d.cfg.Service.LogLevel))
	}
}

// checkWebhook runs the same conversion the server performs at startup,
// so a bad max_body_size surfaces here instead of at boot.
func (d *Doctor) checkWebhook(r *Result) {
	if _, err := webhook.FromGlobalConfig(&d.cfg.Webhook); err != nil {
		d.addError(r, "webhook", "webhook", err.Error())
	}
	if _, _, err := net.SplitHostPort(d.cfg.Webhook.Listen); err != nil {
		d.addError(r, "webhook", "webhook.listen",
			fmt.Sprintf("listen address %q is not host:port", d.cfg.Webhook.Listen))
	}
}

// checkListenCollision catches the webhook and admin listeners fighting
// over one address.
func (d *Doctor) checkListenCollision(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == d.cfg.Webhook.Listen {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("api.listen %q collides with webhook.listen", d.cfg.API.Listen))
	}
}

func (d *Doctor) checkAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("listen address %q is not host:port", d.cfg.API.Listen))
	}
	if len(d.cfg.API.APIKey) > 0 && len(d.cfg.API.APIKey) < minAPIKeyLength {
		d.addWarning(r, "api", "api.api_key",
			fmt.Sprintf("api key is %d characters; use at least %d", len(d.cfg.API.APIKey), minAPIKeyLength))
	}
}

func (d *Doctor) checkDispatch(r *Result) {
	if d.cfg.Dispatch.DedupeWindow < 0 {
		d.addError(r, "dispatch", "dispatch.dedupe_window", "dedupe_window must not be negative")
	}
	if d.cfg.Dispatch.PollInterval > 0 && d.cfg.Dispatch.PollInterval < 100*time.Millisecond {
		d.addWarning(r, "dispatch", "dispatch.poll_interval",
			fmt.Sprintf("poll_interval %s polls the store aggressively; consider 100ms or more", d.cfg.Dispatch.PollInterval))
	}
	if d.cfg.Dispatch.BackoffBase > 0 && d.cfg.Dispatch.BackoffBase < time.Second {
		d.addWarning(r, "dispatch", "dispatch.backoff_base",
			fmt.Sprintf("backoff_base %s retries failed deliveries almost immediately", d.cfg.Dispatch.BackoffBase))
	}
}
