package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codearena/internal/cli/command"
	httpclient "codearena/internal/cli/http"
	"codearena/internal/cli/state"
	pkgerrors "codearena/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	prompt            = "codearena> "
	watchPollInterval = 500 * time.Millisecond
)

var errExit = errors.New("exit")

// Prompter asks the user for one missing value.
type Prompter func(prompt string) (string, error)

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	session    *state.Session
	statePath  string
	prettyJSON bool
	out        io.Writer
	prompter   Prompter
}

func New(client *httpclient.Client, commands map[string]command.Command, session *state.Session, statePath string, prettyJSON bool) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		session:    session,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        os.Stdout,
	}
}

// SetOutput redirects command output.
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

// SetPrompter sets how missing required values are asked for.
func (s *Session) SetPrompter(p Prompter) {
	s.prompter = p
}

// Run reads commands with line editing and history until exit or EOF.
func (s *Session) Run(ctx context.Context, historyPath string) error {
	if historyPath != "" {
		_ = os.MkdirAll(filepath.Dir(historyPath), 0o755)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()
	s.prompter = func(p string) (string, error) {
		rl.SetPrompt(p + ": ")
		defer rl.SetPrompt(prompt)
		line, err := rl.Readline()
		return strings.TrimSpace(line), err
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if handled, err := s.handleSystemCommand(tokens); handled {
		return err
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	if tokens[0] == "submit" && tokens[1] == "watch" {
		return s.watch(ctx, tokens[2:])
	}

	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	if err := s.fillMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	if cmd.Key() == "submit create" {
		s.rememberSubmission(resp.Body)
	}
	return nil
}

func (s *Session) handleSystemCommand(tokens []string) (bool, error) {
	switch tokens[0] {
	case "exit", "quit":
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	case "set":
		return true, s.handleSet(tokens[1:])
	case "show":
		s.handleShow()
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|user <value>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
		return nil
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
		return nil
	case "user":
		if _, err := command.ParseInt64(args[1]); err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		s.session.UserID = args[1]
		s.printLine("user set to %s", args[1])
		return s.saveState()
	}
	return fmt.Errorf("unknown set command: %s", args[0])
}

func (s *Session) handleShow() {
	s.printLine("base: %s", s.client.BaseURL())
	s.printLine("user: %s", orEmpty(s.session.UserID))
	s.printLine("last submission: %s", orEmpty(s.session.LastSubmission))
}

// fillMissing applies session defaults, then prompts for what is still required.
func (s *Session) fillMissing(cmd command.Command, params command.Params) error {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if params.Get(field.Name) != "" {
			continue
		}
		if field.Default != "" {
			if v := s.session.Lookup(field.Default); v != "" {
				params.Set(field.Name, v)
				continue
			}
		}
		if !field.Required {
			continue
		}
		if s.prompter == nil {
			return fmt.Errorf("missing parameter: %s", field.Name)
		}
		value, err := s.prompter(field.Prompt)
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, value)
	}
	return nil
}

// watch polls the live status until the submission reaches a terminal state.
func (s *Session) watch(ctx context.Context, args []string) error {
	params, err := command.ParseArgs(args)
	if err != nil {
		return err
	}
	cmd := s.commands["submit status"]
	if err := s.fillMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	last := ""
	for {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, nil)
		if err != nil {
			return err
		}
		var env struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    struct {
				Status     string `json:"status"`
				Verdict    string `json:"verdict"`
				FailedCase string `json:"failed_case"`
				DoneCases  int    `json:"done_cases"`
				TotalCases int    `json:"total_cases"`
			} `json:"data"`
		}
		if err := json.Unmarshal(resp.Body, &env); err != nil {
			return fmt.Errorf("decode status failed: %w", err)
		}
		if env.Code != int(pkgerrors.Success) {
			return fmt.Errorf("status request failed: %s", env.Message)
		}
		line := fmt.Sprintf("%s %d/%d", env.Data.Status, env.Data.DoneCases, env.Data.TotalCases)
		if env.Data.Verdict != "" {
			line = fmt.Sprintf("%s %s", env.Data.Status, env.Data.Verdict)
			if env.Data.FailedCase != "" {
				line += " on " + env.Data.FailedCase
			}
		}
		if line != last {
			s.printLine("%s", line)
			last = line
		}
		switch env.Data.Status {
		case "finished", "system_error":
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Session) rememberSubmission(body []byte) {
	var env struct {
		Code int `json:"code"`
		Data struct {
			Submission struct {
				SubmissionID string `json:"submission_id"`
			} `json:"submission"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Code != int(pkgerrors.Success) {
		return
	}
	if id := env.Data.Submission.SubmissionID; id != "" {
		s.session.LastSubmission = id
		if err := s.saveState(); err != nil {
			s.printLine("save session failed: %v", err)
		}
	}
}

func (s *Session) saveState() error {
	if s.statePath == "" {
		return nil
	}
	return state.Save(s.statePath, *s.session)
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) completer() *readline.PrefixCompleter {
	services := map[string][]string{}
	for _, cmd := range s.commands {
		services[cmd.Service] = append(services[cmd.Service], cmd.Action)
	}
	services["submit"] = append(services["submit"], "watch")

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("show"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("user")),
	}
	for _, name := range names {
		actions := services[name]
		sort.Strings(actions)
		children := make([]readline.PrefixCompleterInterface, 0, len(actions))
		for _, action := range actions {
			children = append(children, readline.PcItem(action))
		}
		items = append(items, readline.PcItem(name, children...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | show | set base|timeout|user <value>")
	s.printLine("examples:")
	s.printLine("  set user 7")
	s.printLine("  submit create problem_id=1 lang=python source=./main.py")
	s.printLine("  submit watch")
	s.printLine("  user attempts problem_id=1")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func orEmpty(v string) string {
	if v == "" {
		return "<empty>"
	}
	return v
}
