package notify

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// smtpServer speaks just enough SMTP for one plain-text delivery.
type smtpServer struct {
	ln net.Listener

	mu    sync.Mutex
	lines []string
	data  string
}

func startSMTPServer(t *testing.T) *smtpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &smtpServer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *smtpServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()

		switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); {
		case cmd == "EHLO" || cmd == "HELO":
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL") || strings.HasPrefix(cmd, "RCPT"):
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (s *smtpServer) port(t *testing.T) int {
	t.Helper()
	_, p, _ := net.SplitHostPort(s.ln.Addr().String())
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestSMTPSender_Send(t *testing.T) {
	srv := startSMTPServer(t)
	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: srv.port(t), From: "Fintrack <no-reply@example.com>"})

	err := sender.Send(context.Background(), Message{
		To:      []string{"ada@example.com"},
		Subject: "Budget Alert for Main",
		Text:    "You have used 85.0% of your budget.",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	commands := strings.Join(srv.lines, "\n")
	for _, want := range []string{"MAIL FROM:<no-reply@example.com>", "RCPT TO:<ada@example.com>"} {
		if !strings.Contains(commands, want) {
			t.Errorf("commands missing %q:\n%s", want, commands)
		}
	}
	for _, want := range []string{"Subject: Budget Alert for Main", "85.0%"} {
		if !strings.Contains(srv.data, want) {
			t.Errorf("message missing %q:\n%s", want, srv.data)
		}
	}
}

func TestSMTPSender_HungRelayHonoursDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	// Accept and never greet.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(5 * time.Second)
	}()
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)

	tests := []struct {
		name    string
		sender  *SMTPSender
		timeout time.Duration
	}{
		{"context deadline", NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, From: "a@example.com"}), 100 * time.Millisecond},
		{"sender timeout", NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, From: "a@example.com"}).WithTimeout(100 * time.Millisecond), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			start := time.Now()
			err := tt.sender.Send(ctx, Message{To: []string{"b@example.com"}, Subject: "s", Text: "t"})
			if err == nil {
				t.Fatal("Send() to a hung relay succeeded")
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("Send() returned after %v, want about 100ms", elapsed)
			}
		})
	}
}
