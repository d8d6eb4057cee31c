// Command vtuber-chat feeds viewer messages to a running vtuberd over the bus
// and can tail its subtitles.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/bus"
	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/protocol"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'send', 'watch' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "send":
		if err := runSend(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

type busFlags struct {
	configPath string
	servers    string
}

func (b *busFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.configPath, "config", "", "Path to vtuberd configuration file")
	fs.StringVar(&b.servers, "servers", "", "Comma separated NATS URLs (overrides config)")
}

func (b *busFlags) connect(ctx context.Context) (*bus.Client, config.Config, error) {
	cfg, err := config.Load(b.configPath)
	if err != nil {
		return nil, cfg, err
	}
	if b.servers != "" {
		cfg.Bus.Servers = strings.Split(b.servers, ",")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := bus.Connect(ctx, cfg.Bus, "vtuber-chat", logger)
	if err != nil {
		return nil, cfg, err
	}
	return client, cfg, nil
}

// runSend publishes one message from -message, or one per stdin line.
func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	author := fs.String("author", "viewer", "Chat author label")
	message := fs.String("message", "", "Message text; reads stdin lines when empty")
	fs.Parse(args)

	client, cfg, err := bf.connect(context.Background())
	if err != nil {
		return err
	}
	defer client.Close()

	publish := func(text string) error {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		return client.PublishJSON(cfg.Chat.Subject, protocol.ChatMessage{
			Author:    *author,
			Message:   text,
			Timestamp: time.Now().UTC(),
		})
	}

	if *message != "" {
		if err := publish(*message); err != nil {
			return err
		}
		return client.Conn().Flush()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := publish(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return client.Conn().Flush()
}

// runWatch prints subtitles, workflow and error events until interrupted.
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	verbose := fs.Bool("verbose", false, "Also print workflow events")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, cfg, err := bf.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	subjects := []string{cfg.Subtitle.Subject, protocol.SubjectError}
	if *verbose {
		subjects = append(subjects, protocol.SubjectWorkflow)
	}
	for _, subject := range subjects {
		if _, err := client.Conn().Subscribe(subject, printEvent); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}

	<-ctx.Done()
	return nil
}

func printEvent(msg *nats.Msg) {
	switch msg.Subject {
	case protocol.SubjectError:
		var ev protocol.ErrorEvent
		if json.Unmarshal(msg.Data, &ev) == nil {
			fmt.Printf("[error] %s\n", ev.Message)
		}
	case protocol.SubjectWorkflow:
		var ev protocol.WorkflowEvent
		if json.Unmarshal(msg.Data, &ev) == nil {
			fmt.Printf("[%s] %s\n", ev.Phase, ev.Details)
		}
	default:
		var ev protocol.Subtitle
		if json.Unmarshal(msg.Data, &ev) == nil {
			fmt.Printf("> %s\n", ev.Text)
		}
	}
}
