// Package interactive implements the line-oriented mode of sslkit-client.
package interactive

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Conn is the established connection the shell talks over.
type Conn interface {
	io.ReadWriter
	Version() version.Version
	CipherSuiteName() string
	PeerCertificate() *cert.PeerInfo
}

// Shell sends each input line to the server and prints the reply.
type Shell struct {
	conn Conn
	rl   *readline.Instance
	buf  []byte
}

// New creates a shell over conn reading from the terminal.
func New(conn Conn) (*Shell, error) {
	return NewWithConfig(conn, &readline.Config{
		Prompt:          "sslkit> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// NewWithConfig creates a shell with an explicit readline configuration.
func NewWithConfig(conn Conn, cfg *readline.Config) (*Shell, error) {
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{conn: conn, rl: rl, buf: make([]byte, 16*1024)}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads lines until EOF or quit. It returns the first connection error.
func (s *Shell) Run() error {
	defer s.rl.Close()

	s.printHelp()
	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "/help", "/?":
			s.printHelp()
			continue
		case "/info":
			s.printInfo()
			continue
		case "/quit", "/exit":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil
		}

		if err := s.exchange(input); err != nil {
			fmt.Fprintf(s.rl.Stdout(), "connection error: %v\n", err)
			return err
		}
	}
}

func (s *Shell) exchange(msg string) error {
	if _, err := s.conn.Write([]byte(msg)); err != nil {
		return err
	}
	n, err := s.conn.Read(s.buf)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.rl.Stdout(), "got back: %s\n", s.buf[:n])
	return nil
}

func (s *Shell) printInfo() {
	out := s.rl.Stdout()
	fmt.Fprintf(out, "SSL version is %s\n", s.conn.Version())
	fmt.Fprintf(out, "SSL cipher suite is %s\n", s.conn.CipherSuiteName())
	if peer := s.conn.PeerCertificate(); peer != nil {
		fmt.Fprintf(out, "peer subject : %s\n", peer.Subject)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
Type a line to send it to the server.
  /info   Show the negotiated version and cipher suite
  /help   Show this help
  /quit   Close the connection and exit`)
}
