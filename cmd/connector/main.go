// Command connector talks to a connector server from the terminal.
//
// Commands:
//
//	request <route> [json]   sends a request and prints the response
//	notify <route> [json]    sends a notify
//	listen <event>...        prints pushed events until interrupted
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/oarkflow/json"
	"github.com/spf13/cobra"

	"github.com/oarkflow/connector"
	"github.com/oarkflow/connector/logger"
	"github.com/oarkflow/connector/metrics"
)

var (
	configPath string
	address    string
	user       string
	adminAddr  string
	silent     bool
)

var rootCmd = &cobra.Command{
	Use:   "connector",
	Short: "Client for connector servers over TCP or WebSocket",
	Long: `connector opens a session to a server, performs the handshake and then
runs one command on it. Responses and events are printed on stdout; network
state changes are printed as they happen.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a JSON config file")
	flags.StringVarP(&address, "address", "a", "tcp://127.0.0.1:3250", "server address, tcp:// or ws://")
	flags.StringVarP(&user, "user", "u", "{}", "handshake payload as JSON")
	flags.StringVar(&adminAddr, "admin", "", "admin address serving /status and /metrics")
	flags.BoolVar(&silent, "silent", false, "disable logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is one connect cycle driven by the command.
type session struct {
	conn  *connector.Connector
	queue *connector.Queue
	ctx   context.Context
	stop  context.CancelFunc
}

func newSession(cmd *cobra.Command) (*session, error) {
	var opts []connector.Option
	if configPath != "" {
		config, err := connector.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		configOpts, err := config.Options()
		if err != nil {
			return nil, err
		}
		opts = append(opts, configOpts...)
		flags := cmd.Flags()
		if !flags.Changed("address") {
			address = config.Address
		}
		if !flags.Changed("user") && len(config.Handshake) > 0 {
			user = string(config.Handshake)
		}
		if adminAddr == "" {
			adminAddr = config.AdminAddr
		}
	}
	if silent {
		opts = append(opts, connector.WithLogger(logger.NewNullLogger()))
	}
	if err := validJSON("user", user); err != nil {
		return nil, err
	}

	queue := connector.NewQueue(logger.NewNullLogger())
	conn, err := connector.New(queue, opts...)
	if err != nil {
		return nil, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	s := &session{conn: conn, queue: queue, ctx: ctx, stop: stop}
	conn.OnNetState(func(state connector.NetState) {
		fmt.Println("network:", state)
		switch state {
		case connector.NetError, connector.NetTimeout, connector.NetClosed, connector.NetKicked:
			stop()
		}
	})
	return s, nil
}

// run connects, calls ready on the queue once the handshake completed and
// pumps the queue until the session is stopped.
func (s *session) run(ready func()) {
	defer s.stop()
	if adminAddr != "" {
		app := serveAdmin(adminAddr, s.conn)
		defer app.Shutdown()
	}
	s.conn.Connect(address, json.RawMessage(user), func(r connector.Response) {
		fmt.Printf("connected %s %s\n", s.conn.ID(), r.Payload)
		ready()
	})
	s.queue.Run(s.ctx)
	s.conn.Disconnect()
	s.queue.Drain()
}

func serveAdmin(addr string, conn *connector.Connector) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"session": conn.ID(),
			"address": conn.Address(),
			"state":   conn.State().String(),
			"pending": conn.Pending(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	go func() {
		if err := app.Listen(addr); err != nil {
			fmt.Fprintln(os.Stderr, "admin:", err)
		}
	}()
	return app
}

// payloadArg returns args[i] as a JSON payload, "{}" when absent.
func payloadArg(args []string, i int) (json.RawMessage, error) {
	if len(args) <= i {
		return json.RawMessage("{}"), nil
	}
	if err := validJSON("payload", args[i]); err != nil {
		return nil, err
	}
	return json.RawMessage(args[i]), nil
}

func validJSON(name, value string) error {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return fmt.Errorf("%s must be valid JSON: %w", name, err)
	}
	return nil
}
