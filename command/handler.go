package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/channel"
	"github.com/agentwire/agentwire/security"
	"github.com/agentwire/agentwire/wire"
)

// rateLimitAction is the bucket commands are limited under.
const rateLimitAction = "command.execute"

// HandlerFunc is a registered command template. It receives the full
// command message and returns the execution result, or an error that
// fails the receipt.
type HandlerFunc func(ctx context.Context, msg *wire.Message) (ExecResult, error)

// HandlerConfig wires the receiver-side pipeline.
type HandlerConfig struct {
	AgentID   string
	Bus       Bus
	Tracker   *Tracker
	Guard     *security.DirectoryGuard
	Validator *security.ContentValidator
	Limiter   *security.RateLimiter
	Audit     *security.AuditLogger
	Executor  Executor
	Logger    zerolog.Logger
}

// Handler consumes command messages off a channel, drives each one
// through the security gates and the receipt state machine, and
// publishes the threaded response. One bad command never takes the
// listen loop down.
type Handler struct {
	agentID   string
	bus       Bus
	tracker   *Tracker
	guard     *security.DirectoryGuard
	validator *security.ContentValidator
	limiter   *security.RateLimiter
	audit     *security.AuditLogger
	executor  Executor
	log       zerolog.Logger

	mu        sync.RWMutex
	templates map[string]HandlerFunc
}

// NewHandler validates the config and builds a handler. Guard is
// required; the validator and limiter fall back to defaults when nil.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("handler requires an agent id")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("handler requires a bus")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("handler requires a directory guard")
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	validator := cfg.Validator
	if validator == nil {
		v, err := security.NewContentValidator(nil)
		if err != nil {
			return nil, err
		}
		validator = v
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = security.NewRateLimiter(nil)
	}
	audit := cfg.Audit
	if audit == nil {
		audit = security.NewAuditLogger(cfg.Logger)
	}
	return &Handler{
		agentID:   cfg.AgentID,
		bus:       cfg.Bus,
		tracker:   tracker,
		guard:     cfg.Guard,
		validator: validator,
		limiter:   limiter,
		audit:     audit,
		executor:  cfg.Executor,
		log:       cfg.Logger.With().Str("component", "command.handler").Logger(),
		templates: make(map[string]HandlerFunc),
	}, nil
}

// Tracker exposes the receiver-side receipt tracker.
func (h *Handler) Tracker() *Tracker {
	return h.tracker
}

// Register binds a template name to a handler. At most one handler per
// name.
func (h *Handler) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("template name is required")
	}
	if fn == nil {
		return fmt.Errorf("template %q requires a handler func", name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.templates[name]; exists {
		return fmt.Errorf("template %q already registered", name)
	}
	h.templates[name] = fn
	return nil
}

// Listen subscribes the handler to command messages on channelID and
// returns the unsubscribe func.
func (h *Handler) Listen(ctx context.Context, channelID string) func() {
	return h.bus.Subscribe(channelID, func(m *wire.Message) {
		if m.Type != wire.MessageCommand {
			return
		}
		go h.Handle(ctx, channelID, m)
	})
}

// Handle runs one command message through the full pipeline. Safe to
// call concurrently; duplicate deliveries of the same command id are
// dropped.
func (h *Handler) Handle(ctx context.Context, channelID string, msg *wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("message", msg.ID).Msg("command pipeline panicked")
		}
	}()

	commandID := msg.CommandID()
	if commandID == "" {
		h.log.Warn().Str("message", msg.ID).Msg("command message without command id")
		return
	}
	if _, err := h.tracker.Create(commandID, h.agentID); err != nil {
		h.log.Debug().Str("command", commandID).Msg("duplicate command delivery dropped")
		return
	}
	if err := h.tracker.Acknowledge(commandID); err != nil {
		h.log.Error().Err(err).Str("command", commandID).Msg("could not acknowledge")
		return
	}

	start := time.Now()
	dir, gateErr := h.gate(msg)
	if gateErr != nil {
		h.fail(commandID, gateErr)
		h.audit.Record(security.AuditEntry{
			Actor:    msg.SenderID,
			Action:   rateLimitAction,
			Result:   security.AuditDenied,
			Detail:   gateErr.Error(),
			Duration: time.Since(start),
		})
		h.respond(ctx, channelID, msg, commandID)
		return
	}

	if err := h.tracker.Executing(commandID); err != nil {
		h.log.Error().Err(err).Str("command", commandID).Msg("could not mark executing")
		return
	}

	result, execErr := h.execute(ctx, msg, commandID, dir)
	if execErr != nil {
		h.fail(commandID, execErr)
		h.audit.Record(security.AuditEntry{
			Actor:    msg.SenderID,
			Action:   rateLimitAction,
			Result:   security.AuditFailed,
			Detail:   execErr.Error(),
			Duration: time.Since(start),
		})
	} else {
		if err := h.tracker.Complete(commandID, result); err != nil {
			h.log.Error().Err(err).Str("command", commandID).Msg("could not complete receipt")
		}
		h.audit.Record(security.AuditEntry{
			Actor:    msg.SenderID,
			Action:   rateLimitAction,
			Result:   security.AuditAllowed,
			Detail:   fmt.Sprintf("exit=%d", result.ExitCode),
			Duration: time.Since(start),
		})
	}
	h.respond(ctx, channelID, msg, commandID)
}

// gate runs the security checks in order: directory, content, rate.
// It returns the resolved working directory on success.
func (h *Handler) gate(msg *wire.Message) (string, error) {
	dir := h.guard.DefaultRoot()
	if requested := msg.Metadata[wire.MetaWorkDir]; requested != "" {
		resolved, err := h.guard.Check(requested)
		if err != nil {
			return "", err
		}
		dir = resolved
	}
	if err := h.validator.Validate(msg.Content); err != nil {
		return "", err
	}
	if err := h.limiter.Allow(msg.SenderID, rateLimitAction); err != nil {
		return "", err
	}
	return dir, nil
}

// execute dispatches to a registered template when the message names
// one, else to the local process executor.
func (h *Handler) execute(ctx context.Context, msg *wire.Message, commandID, dir string) (ExecResult, error) {
	if name := msg.TemplateName(); name != "" {
		h.mu.RLock()
		fn, ok := h.templates[name]
		h.mu.RUnlock()
		if !ok {
			return ExecResult{}, &ExecutionError{CommandID: commandID, Cause: fmt.Sprintf("unknown template %q", name)}
		}
		return fn(ctx, msg)
	}
	return h.executor.Run(ctx, commandID, msg.Content, dir, h.execTimeout(msg))
}

func (h *Handler) execTimeout(msg *wire.Message) time.Duration {
	raw := msg.Metadata[wire.MetaTimeoutMs]
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (h *Handler) fail(commandID string, cause error) {
	if err := h.tracker.Fail(commandID, cause.Error()); err != nil {
		h.log.Error().Err(err).Str("command", commandID).Msg("could not fail receipt")
	}
}

// respond publishes the terminal receipt as a response threaded to the
// original message. Best effort: a publish failure is logged, the
// receipt already holds the truth.
func (h *Handler) respond(ctx context.Context, channelID string, msg *wire.Message, commandID string) {
	receipt, ok := h.tracker.Get(commandID)
	if !ok {
		return
	}
	payload := responsePayload{Status: receipt.Status, Error: receipt.Error}
	if receipt.Result != nil {
		payload.Stdout = receipt.Result.Stdout
		payload.Stderr = receipt.Result.Stderr
		payload.ExitCode = receipt.Result.ExitCode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("command", commandID).Msg("could not encode response")
		return
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = msg.ID
	}
	_, err = h.bus.Publish(ctx, channelID, string(body), channel.PublishOptions{
		Type:     wire.MessageResponse,
		Target:   wire.BroadcastAddress(),
		ThreadID: threadID,
		Metadata: map[string]string{
			wire.MetaCommandID: commandID,
			wire.MetaInReplyTo: msg.ID,
		},
	})
	if err != nil {
		h.log.Warn().Err(err).Str("command", commandID).Msg("could not publish response")
	}
}
