package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	sio "github.com/siolib/sio-client"
)

// settings is the resolved connection configuration: defaults, overlaid
// by the optional YAML config, overlaid by flags.
type settings struct {
	URL              string
	Secure           bool
	SessionID        string
	ServerTransports []string
	Transports       []string
	Path             string
	Headers          http.Header
	SkipVerify       bool
	Verbose          bool
}

func main() {
	s := &settings{}
	var configPath string
	var headerFlags []string

	rootCmd := &cobra.Command{
		Use:   "sioctl",
		Short: "Exercise a socket.io (generation 0/1) session over any transport",
		Long: `sioctl speaks the code:packetId:path:data wire protocol against an
already-handshaken socket.io session. The session id and the server's
advertised transport list are inputs; sioctl negotiates a transport,
then emits events or streams decoded packets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				cfg.merge(s, cmd.Flags().Changed)
			}
			for _, h := range headerFlags {
				k, v, ok := splitHeader(h)
				if !ok {
					return fmt.Errorf("malformed header %q, want key:value", h)
				}
				if s.Headers == nil {
					s.Headers = http.Header{}
				}
				s.Headers.Add(k, v)
			}
			if s.SessionID == "" {
				return errors.New("a session id is required (--sid or config)")
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&s.URL, "url", "localhost:8000/socket.io/1", "base URL, without scheme")
	pf.BoolVar(&s.Secure, "secure", false, "use wss/https")
	pf.StringVar(&s.SessionID, "sid", "", "session id from the handshake")
	pf.StringSliceVar(&s.ServerTransports, "server-transports", sio.DefaultTransports, "transports the server advertised")
	pf.StringSliceVar(&s.Transports, "transports", sio.DefaultTransports, "client transport preference order")
	pf.StringVar(&s.Path, "path", "", "namespace path to connect to")
	pf.StringArrayVar(&headerFlags, "header", nil, "extra header, key:value (repeatable)")
	pf.BoolVar(&s.SkipVerify, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&configPath, "config", "", "YAML config file")
	pf.BoolVarP(&s.Verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		negotiateCmd(s),
		emitCmd(s),
		listenCmd(s),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sioctl: %v\n", err)
		os.Exit(1)
	}
}

func splitHeader(h string) (string, string, bool) {
	for i := 0; i < len(h); i++ {
		if h[i] == ':' {
			return h[:i], h[i+1:], true
		}
	}
	return "", "", false
}

func (s *settings) dial() (sio.Transport, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if s.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}
	sess := &sio.Session{ID: s.SessionID, SupportedTransports: s.ServerTransports}
	opts := &sio.Options{
		Headers:            s.Headers,
		InsecureSkipVerify: s.SkipVerify,
		Logger:             &logger,
	}
	return sio.Negotiate(s.Transports, sess, s.Secure, s.URL, opts)
}

func negotiateCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "negotiate",
		Short: "Negotiate a transport and report the selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := s.dial()
			if err != nil {
				return err
			}
			defer t.Close()
			fmt.Println(t.Name())
			return nil
		},
	}
}

func emitCmd(s *settings) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "emit <event> [json-arg...]",
		Short: "Emit one event packet, optionally waiting for its acknowledgment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventArgs := make([]interface{}, 0, len(args)-1)
			for _, raw := range args[1:] {
				var v interface{}
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					v = raw // bare strings pass through untouched
				}
				eventArgs = append(eventArgs, v)
			}

			t, err := s.dial()
			if err != nil {
				return err
			}
			defer t.Close()

			if s.Path != "" {
				if err := t.Connect(s.Path); err != nil {
					return err
				}
			}

			var ack sio.AckFunc
			acked := make(chan []interface{}, 1)
			if wait > 0 {
				ack = func(ackArgs ...interface{}) { acked <- ackArgs }
			}
			if err := t.Emit(s.Path, args[0], eventArgs, ack); err != nil {
				return err
			}
			if wait == 0 {
				return nil
			}

			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				packets, err := t.RecvPackets()
				if err != nil {
					var timeout *sio.TimeoutError
					if errors.As(err, &timeout) {
						continue
					}
					return err
				}
				for _, p := range packets {
					if p.Code != sio.CodeAck {
						continue
					}
					if err := dispatchAck(t, p); err != nil {
						return err
					}
				}
				select {
				case ackArgs := <-acked:
					out, _ := json.Marshal(ackArgs)
					fmt.Printf("ack %s\n", out)
					return nil
				default:
				}
			}
			return fmt.Errorf("no acknowledgment within %s", wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait-ack", 0, "request an ack and wait this long for it")
	return cmd
}

func listenCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stream decoded packets until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := s.dial()
			if err != nil {
				return err
			}
			defer t.Close()

			if s.Path != "" {
				if err := t.Connect(s.Path); err != nil {
					return err
				}
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-stop:
					return t.Disconnect("")
				default:
				}

				packets, err := t.RecvPackets()
				if err != nil {
					var timeout *sio.TimeoutError
					if errors.As(err, &timeout) {
						continue
					}
					return err
				}
				for _, p := range packets {
					printPacket(p)
					switch p.Code {
					case sio.CodeHeartbeat:
						if err := t.SendHeartbeat(); err != nil {
							return err
						}
					case sio.CodeAck:
						if err := dispatchAck(t, p); err != nil {
							return err
						}
					}
				}
			}
		},
	}
}

// dispatchAck claims and invokes the callback an inbound ACK refers to.
// An ack for an id we never registered is reported, not fatal.
func dispatchAck(t sio.Transport, p sio.Packet) error {
	id, ackArgs, err := sio.SplitAckData(p.Data)
	if err != nil {
		return err
	}
	fn, err := t.ClaimAck(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sioctl: %v\n", err)
		return nil
	}
	fn(ackArgs...)
	return nil
}

func printPacket(p sio.Packet) {
	line := fmt.Sprintf("%d:%s:%s", p.Code, p.ID, p.Path)
	if p.HasData {
		line += ":" + p.Data
	}
	fmt.Println(line)
}
