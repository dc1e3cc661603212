package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lunahq/realtime/internal/assembly"
	"github.com/lunahq/realtime/internal/diag"
	"github.com/lunahq/realtime/internal/infrastructure/config"
	"github.com/lunahq/realtime/internal/infrastructure/logging"
	"github.com/lunahq/realtime/internal/infrastructure/monitoring"
	"github.com/lunahq/realtime/internal/protocol"
	"github.com/lunahq/realtime/internal/registry"
	"github.com/lunahq/realtime/internal/transport"
	"github.com/lunahq/realtime/internal/uploads"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	socketURL := flag.String("url", "", "Socket base URL (overrides config)")
	project := flag.String("project", "", "Project ID")
	conversation := flag.String("conversation", "", "Conversation ID")
	token := flag.String("token", "", "Embed token")
	channel := flag.String("channel", "", "Channel to subscribe on connect")
	prompt := flag.String("message", "", "Send one message, print the reply, exit")
	attach := flag.String("attach", "", "Comma-separated file paths to upload as attachments")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *socketURL != "" {
		cfg.Socket.URL = *socketURL
	}
	if *project != "" {
		cfg.Socket.ProjectID = *project
	}
	if *conversation != "" {
		cfg.Socket.ConversationID = *conversation
	}
	if *token != "" {
		cfg.Socket.EmbedToken = *token
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	url, err := protocol.BuildSocketURL(cfg.Socket.URL, protocol.RouteContext{
		ProjectID:      cfg.Socket.ProjectID,
		ConversationID: cfg.Socket.ConversationID,
		EmbedToken:     cfg.Socket.EmbedToken,
	})
	if err != nil {
		log.Fatalf("socket url: %v", err)
	}

	metrics := monitoring.NewMetrics()
	reg := registry.New(logger, metrics)

	policy := transport.Policy{
		URL:                  url,
		Channel:              *channel,
		MaxReconnectAttempts: cfg.Socket.ReconnectAttempts,
		ReconnectDelay:       cfg.Socket.ReconnectDelay,
		HeartbeatInterval:    cfg.Socket.HeartbeatInterval,
		ConnectTimeout:       cfg.Socket.ConnectTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), policy.ConnectTimeout+5*time.Second)
	client, err := reg.Acquire(ctx, policy)
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer reg.Release(policy)

	asm := assembly.New(logger, metrics)
	unbind := asm.Bind(client)
	defer unbind()

	asm.OnNotice(func(code, msg string) {
		fmt.Fprintf(os.Stderr, "\n[%s] %s\n", code, msg)
	})

	// Raw chunk feed for immediate terminal output; the assembler keeps the
	// authoritative message list.
	complete := make(chan struct{}, 1)
	offChunk := client.On(protocol.EventChunk, func(ev transport.Event) {
		if !ev.Envelope.Accumulated {
			fmt.Print(ev.Envelope.Chunk)
		}
	})
	defer offChunk()
	offComplete := client.On(protocol.EventComplete, func(ev transport.Event) {
		fmt.Println()
		select {
		case complete <- struct{}{}:
		default:
		}
	})
	defer offComplete()
	offDisc := client.On(transport.EventDisconnected, func(ev transport.Event) {
		fmt.Fprintln(os.Stderr, "disconnected")
	})
	defer offDisc()
	offRec := client.On(transport.EventReconnecting, func(ev transport.Event) {
		fmt.Fprintf(os.Stderr, "reconnecting (attempt %d)\n", ev.Attempt)
	})
	defer offRec()

	// Registered after Bind, so the assembler has folded the history by the
	// time this fires.
	historyDone := make(chan struct{}, 1)
	offHist := client.On(protocol.EventControl, func(ev transport.Event) {
		if ev.Envelope.Control == nil || ev.Envelope.Control.Type != protocol.ControlHistoryResponse {
			return
		}
		select {
		case historyDone <- struct{}{}:
		default:
		}
	})
	defer offHist()

	var diagSrv *diag.Server
	if cfg.Diag.Enabled {
		diagSrv = diag.New(cfg.Diag, logger, metrics, reg)
		go func() {
			if err := diagSrv.Start(); err != nil {
				logger.Error("diagnostics server failed", zap.Error(err))
			}
		}()
	}

	var refs []protocol.FileRef
	if *attach != "" {
		up := uploads.New(cfg.Uploads, logger)
		paths := strings.Split(*attach, ",")
		refs, err = up.UploadAll(context.Background(), paths)
		if err != nil {
			log.Fatalf("attachments: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *prompt != "" {
		if err := client.SendMessage(*prompt, refs); err != nil {
			log.Fatalf("send: %v", err)
		}
		select {
		case <-complete:
		case <-sigChan:
		}
	} else {
		runREPL(client, asm, refs, historyDone, sigChan)
	}

	if diagSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		diagSrv.Shutdown(shutdownCtx)
		cancel()
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadOrDefault()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// runREPL reads lines from stdin and sends them as chat messages. Slash
// commands map to the remaining wire commands.
func runREPL(client *transport.Client, asm *assembly.Assembler, refs []protocol.FileRef, historyDone <-chan struct{}, sigChan chan os.Signal) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Fprintln(os.Stderr, "connected; type a message, or /history /abort /clear /quit")
	for {
		select {
		case <-sigChan:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				return
			case line == "/abort":
				asm.Abort()
			case line == "/clear":
				if err := client.ClearHistory(); err != nil {
					fmt.Fprintf(os.Stderr, "clear: %v\n", err)
				}
				asm.Reset()
			case line == "/history":
				if err := client.GetHistory(); err != nil {
					fmt.Fprintf(os.Stderr, "history: %v\n", err)
					continue
				}
				select {
				case <-historyDone:
					for _, m := range asm.Messages() {
						fmt.Printf("%s: %s\n", m.Role, m.Content)
					}
				case <-time.After(5 * time.Second):
					fmt.Fprintln(os.Stderr, "history request timed out")
				case <-sigChan:
					return
				}
			default:
				if err := client.SendMessage(line, refs); err != nil {
					fmt.Fprintf(os.Stderr, "send: %v\n", err)
				}
				// Attachments ride on the first message only.
				refs = nil
			}
		}
	}
}
