// agentwire agent - connects a machine session to a relay: presence,
// channel messaging and remote command execution.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/channel"
	"github.com/agentwire/agentwire/client"
	"github.com/agentwire/agentwire/command"
	"github.com/agentwire/agentwire/security"
	"github.com/agentwire/agentwire/stream"
	"github.com/agentwire/agentwire/wire"
)

const heartbeatInterval = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := getenv("AGENTWIRE_URL", "http://localhost:8080")
	token := os.Getenv("AGENTWIRE_TOKEN")

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	api := client.New(baseURL, client.WithToken(token))
	ctx := context.Background()

	switch os.Args[1] {
	case "run":
		runAgent(ctx, api, logger, baseURL, token)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: agent send <target-address> <command>")
			os.Exit(1)
		}
		sendCommand(ctx, api, logger, baseURL, token, os.Args[2], os.Args[3])

	case "agents":
		agents, err := api.ListAgents(ctx, 50)
		exitOnError(err)
		now := time.Now()
		for _, a := range agents {
			fmt.Printf("  %-10s %s  %s\n", a.Presence(now), a.ID, a.Address())
		}

	case "channels":
		channels, err := api.ListChannels(ctx, 50)
		exitOnError(err)
		for _, ch := range channels {
			fmt.Printf("  %s  %s (%s)\n", ch.ID, ch.Name, ch.Type)
		}

	case "messages":
		channelID := ""
		if len(os.Args) > 2 {
			channelID = os.Args[2]
		}
		msgs, err := api.ListMessages(ctx, channelID, 20)
		exitOnError(err)
		for _, m := range msgs {
			ts := m.CreatedAt.Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s %s: %s\n", ts, m.Type, m.SenderID, m.Content)
		}

	case "health":
		resp, err := api.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

// register announces this session to the relay and returns the stored
// agent record.
func register(ctx context.Context, api *client.Client) (*wire.Agent, error) {
	hostname, _ := os.Hostname()
	agent := wire.Agent{
		MachineID:   getenv("AGENTWIRE_MACHINE", hostname),
		SessionID:   getenv("AGENTWIRE_SESSION", fmt.Sprintf("pid-%d", os.Getpid())),
		SessionName: os.Getenv("AGENTWIRE_SESSION_NAME"),
		ProjectPath: os.Getenv("AGENTWIRE_PROJECT"),
	}
	return api.RegisterAgent(ctx, agent)
}

// connect builds the live message mirror and the channel hub on top of
// it.
func connect(ctx context.Context, api *client.Client, logger zerolog.Logger, baseURL, token, agentID string) (*channel.Hub, *stream.Client, error) {
	hub := channel.NewHub(agentID, api, logger)
	sc := stream.New(baseURL, "messages", stream.Options{
		Token:   token,
		Logger:  logger,
		OnMode:  hub.HandleMode,
		OnEvent: hub.HandleEvent,
	})
	hub.SetCollection(sc.Collection())
	if err := sc.Start(ctx); err != nil {
		return nil, nil, err
	}
	return hub, sc, nil
}

func runAgent(ctx context.Context, api *client.Client, logger zerolog.Logger, baseURL, token string) {
	agent, err := register(ctx, api)
	exitOnError(err)
	logger.Info().Str("agent", agent.ID).Stringer("address", agent.Address()).Msg("registered")

	hub, sc, err := connect(ctx, api, logger, baseURL, token, agent.ID)
	exitOnError(err)
	defer sc.Stop()

	channelID := getenv("AGENTWIRE_CHANNEL", "ops")

	guard, validator, limiter, err := loadPolicy()
	exitOnError(err)

	handler, err := command.NewHandler(command.HandlerConfig{
		AgentID:   agent.ID,
		Bus:       hub,
		Guard:     guard,
		Validator: validator,
		Limiter:   limiter,
		Audit:     security.NewAuditLogger(logger),
		Logger:    logger,
	})
	exitOnError(err)

	stop := handler.Listen(ctx, channelID)
	defer stop()
	logger.Info().Str("channel", channelID).Msg("listening for commands")

	// Heartbeat until interrupted
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := api.Heartbeat(ctx, agent.ID); err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-quit:
			logger.Info().Msg("agent stopping")
			return
		}
	}
}

func sendCommand(ctx context.Context, api *client.Client, logger zerolog.Logger, baseURL, token, targetAddr, body string) {
	target, err := wire.ParseAddress(targetAddr)
	exitOnError(err)

	agent, err := register(ctx, api)
	exitOnError(err)

	hub, sc, err := connect(ctx, api, logger, baseURL, token, agent.ID)
	exitOnError(err)
	defer sc.Stop()

	channelID := getenv("AGENTWIRE_CHANNEL", "ops")
	sender := command.NewSender(agent.ID, hub, nil, logger)

	receipt, err := sender.Execute(ctx, channelID, target, body, command.SendOptions{
		WorkDir:      os.Getenv("AGENTWIRE_WORKDIR"),
		AwaitTimeout: 2 * time.Minute,
	})
	exitOnError(err)

	printJSON(receipt)
	if receipt.Status != command.StatusCompleted {
		os.Exit(1)
	}
}

// loadPolicy builds the security gates from POLICY_PATH, falling back
// to the working directory and default deny patterns.
func loadPolicy() (*security.DirectoryGuard, *security.ContentValidator, *security.RateLimiter, error) {
	if path := os.Getenv("POLICY_PATH"); path != "" {
		policy, err := security.LoadPolicy(path)
		if err != nil {
			return nil, nil, nil, err
		}
		guard, err := policy.Guard()
		if err != nil {
			return nil, nil, nil, err
		}
		validator, err := policy.Validator()
		if err != nil {
			return nil, nil, nil, err
		}
		return guard, validator, policy.Limiter(), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, nil, err
	}
	guard, err := security.NewDirectoryGuard([]string{cwd})
	if err != nil {
		return nil, nil, nil, err
	}
	validator, err := security.NewContentValidator(nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return guard, validator, security.NewRateLimiter(nil), nil
}

func usage() {
	fmt.Println(`agentwire agent

Usage: agent <command> [options]

Commands:
  run                      Register, heartbeat and execute incoming commands
  send <target> <cmd>      Send a command to another agent and await the result
  agents                   List registered agents with presence
  channels                 List channels
  messages [channel]       Read recent messages
  health                   Check relay health

Environment:
  AGENTWIRE_URL        Relay URL (default: http://localhost:8080)
  AGENTWIRE_TOKEN      Bearer token
  AGENTWIRE_MACHINE    Machine id (default: hostname)
  AGENTWIRE_SESSION    Session id (default: pid-<pid>)
  AGENTWIRE_CHANNEL    Command channel (default: ops)
  POLICY_PATH          Security policy YAML`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
