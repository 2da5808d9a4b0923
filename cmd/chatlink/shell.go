package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rickgao/chatlink/internal/model"
)

// sender is the part of the client the shell drives.
type sender interface {
	SendText(conversationID, text string) (model.Message, error)
	SendTyping(conversationID string, typing bool) error
	SetPresence(s model.PresenceStatus) error
	RetryMessage(id string) error
	Join(conversationID, cursor string)
	Leave(conversationID string)
}

type shell struct {
	client       sender
	out          io.Writer
	conversation string
	report       func() string
}

func (s *shell) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		s.send(line)
		return
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/join":
		if len(args) < 1 {
			s.printf("usage: /join <conversation> [cursor]")
			return
		}
		cursor := ""
		if len(args) > 1 {
			cursor = args[1]
		}
		s.client.Join(args[0], cursor)
		s.conversation = args[0]
		s.printf("* joined %s", args[0])
	case "/leave":
		if len(args) != 1 {
			s.printf("usage: /leave <conversation>")
			return
		}
		s.client.Leave(args[0])
		if s.conversation == args[0] {
			s.conversation = ""
		}
		s.printf("* left %s", args[0])
	case "/typing":
		if s.conversation == "" {
			s.printf("! no conversation, use /join first")
			return
		}
		on := len(args) == 0 || args[0] != "off"
		if err := s.client.SendTyping(s.conversation, on); err != nil {
			s.printf("! typing: %v", err)
		}
	case "/presence":
		if len(args) != 1 {
			s.printf("usage: /presence online|away|busy|offline")
			return
		}
		if err := s.client.SetPresence(model.PresenceStatus(args[0])); err != nil {
			s.printf("! presence: %v", err)
		}
	case "/retry":
		if len(args) != 1 {
			s.printf("usage: /retry <message-id>")
			return
		}
		if err := s.client.RetryMessage(args[0]); err != nil {
			s.printf("! retry: %v", err)
		}
	case "/status":
		if s.report != nil {
			s.printf("%s", s.report())
		}
	default:
		s.printf("! unknown command %s", cmd)
	}
}

func (s *shell) send(text string) {
	if s.conversation == "" {
		s.printf("! no conversation, use /join first")
		return
	}
	msg, err := s.client.SendText(s.conversation, text)
	if err != nil {
		s.printf("! send: %v", err)
		return
	}
	s.printf("> queued %s", msg.ID)
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}
