package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/channel"
	"github.com/agentwire/agentwire/wire"
)

// Bus is the slice of the channel layer the command pipeline needs.
// *channel.Hub satisfies it.
type Bus interface {
	Publish(ctx context.Context, channelID, content string, opts channel.PublishOptions) (*wire.Message, error)
	Subscribe(channelID string, fn func(*wire.Message)) func()
}

// responsePayload is the JSON body of a response message.
type responsePayload struct {
	Status   ReceiptStatus `json:"status"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
}

// SendOptions tunes one command send.
type SendOptions struct {
	TemplateName string
	WorkDir      string
	ExecTimeout  time.Duration // receiver-side execution bound
	AwaitTimeout time.Duration // how long Execute waits for the response; 0 blocks on ctx
}

// Sender issues commands to other agents and tracks their receipts.
type Sender struct {
	agentID string
	bus     Bus
	tracker *Tracker
	log     zerolog.Logger
}

// NewSender creates a sender publishing as agentID.
func NewSender(agentID string, bus Bus, tracker *Tracker, log zerolog.Logger) *Sender {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Sender{
		agentID: agentID,
		bus:     bus,
		tracker: tracker,
		log:     log.With().Str("component", "command.sender").Logger(),
	}
}

// Tracker exposes the sender's receipt tracker.
func (s *Sender) Tracker() *Tracker {
	return s.tracker
}

// Send creates the receipt and publishes the command message without
// waiting for a response. It returns the command id.
func (s *Sender) Send(ctx context.Context, channelID string, target wire.Address, body string, opts SendOptions) (string, error) {
	commandID := wire.NewMessageID()
	if _, err := s.tracker.Create(commandID, target.String()); err != nil {
		return "", err
	}
	if err := s.publish(ctx, channelID, target, commandID, body, opts); err != nil {
		return commandID, err
	}
	return commandID, nil
}

// Execute sends the command and waits for the terminal response,
// returning the final receipt. On total loss of connectivity there is no
// terminal receipt until reconnection; AwaitTimeout bounds the wait.
func (s *Sender) Execute(ctx context.Context, channelID string, target wire.Address, body string, opts SendOptions) (Receipt, error) {
	commandID := wire.NewMessageID()
	if _, err := s.tracker.Create(commandID, target.String()); err != nil {
		return Receipt{}, err
	}

	responses := make(chan *wire.Message, 1)
	unsubscribe := s.bus.Subscribe(channelID, func(m *wire.Message) {
		if m.Type == wire.MessageResponse && m.CommandID() == commandID {
			select {
			case responses <- m:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := s.publish(ctx, channelID, target, commandID, body, opts); err != nil {
		r, _ := s.tracker.Get(commandID)
		return r, err
	}

	var timeout <-chan time.Time
	if opts.AwaitTimeout > 0 {
		timer := time.NewTimer(opts.AwaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case m := <-responses:
		s.applyResponse(commandID, m)
		r, _ := s.tracker.Get(commandID)
		return r, nil
	case <-ctx.Done():
		r, _ := s.tracker.Get(commandID)
		return r, ctx.Err()
	case <-timeout:
		r, _ := s.tracker.Get(commandID)
		return r, fmt.Errorf("no response for command %s within %s", commandID, opts.AwaitTimeout)
	}
}

// Receipt returns the current receipt for a command id.
func (s *Sender) Receipt(commandID string) (Receipt, bool) {
	return s.tracker.Get(commandID)
}

func (s *Sender) publish(ctx context.Context, channelID string, target wire.Address, commandID, body string, opts SendOptions) error {
	meta := map[string]string{wire.MetaCommandID: commandID}
	if opts.TemplateName != "" {
		meta[wire.MetaTemplateName] = opts.TemplateName
	}
	if opts.WorkDir != "" {
		meta[wire.MetaWorkDir] = opts.WorkDir
	}
	if opts.ExecTimeout > 0 {
		meta[wire.MetaTimeoutMs] = strconv.FormatInt(opts.ExecTimeout.Milliseconds(), 10)
	}

	_, err := s.bus.Publish(ctx, channelID, body, channel.PublishOptions{
		Type:     wire.MessageCommand,
		Target:   target,
		Metadata: meta,
	})
	if err != nil {
		if failErr := s.tracker.Fail(commandID, "publish failed: "+err.Error()); failErr != nil {
			s.log.Warn().Err(failErr).Str("command", commandID).Msg("could not fail receipt")
		}
		return err
	}
	s.log.Debug().Str("command", commandID).Str("channel", channelID).Msg("command sent")
	return nil
}

// applyResponse mirrors the receiver's terminal state into the local
// receipt, walking the legal edges.
func (s *Sender) applyResponse(commandID string, m *wire.Message) {
	var payload responsePayload
	if err := json.Unmarshal([]byte(m.Content), &payload); err != nil {
		s.log.Warn().Err(err).Str("command", commandID).Msg("undecodable response payload")
		payload = responsePayload{Status: StatusFailed, Error: "undecodable response payload"}
	}

	if err := s.tracker.Acknowledge(commandID); err != nil {
		s.log.Debug().Err(err).Str("command", commandID).Msg("acknowledge skipped")
	}
	switch payload.Status {
	case StatusCompleted:
		if err := s.tracker.Executing(commandID); err == nil {
			err = s.tracker.Complete(commandID, ExecResult{
				Stdout:   payload.Stdout,
				Stderr:   payload.Stderr,
				ExitCode: payload.ExitCode,
			})
			if err != nil {
				s.log.Warn().Err(err).Str("command", commandID).Msg("could not complete receipt")
			}
		}
	default:
		cause := payload.Error
		if cause == "" {
			cause = "remote execution failed"
		}
		if err := s.tracker.Fail(commandID, cause); err != nil {
			s.log.Warn().Err(err).Str("command", commandID).Msg("could not fail receipt")
		}
	}
}
