package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"switchboard/internal/chat"
	"switchboard/internal/logging"
)

// The adapters shell out to the installed engine CLIs. They are deliberately
// thin: session continuity, context assembly, and summarization all happen
// before the prompt reaches them.

type claudeAdapter struct{}

func (a *claudeAdapter) Execute(ctx context.Context, req chat.ExecuteRequest) (*chat.ExecuteResult, error) {
	// claude writes its own transcript keyed by the session id we mint, so
	// resuming and history discovery both work off the same identifier.
	args := []string{"-p", "--session-id", req.SessionID}
	return runCLI(ctx, "claude", args, req)
}

type codexAdapter struct{}

func (a *codexAdapter) Execute(ctx context.Context, req chat.ExecuteRequest) (*chat.ExecuteResult, error) {
	args := []string{"exec", "--session-id", req.SessionID}
	return runCLI(ctx, "codex", args, req)
}

type geminiAdapter struct{}

func (a *geminiAdapter) Execute(ctx context.Context, req chat.ExecuteRequest) (*chat.ExecuteResult, error) {
	// gemini has no transcript file; continuity rides on its native thread
	// id, surfaced back so the next exchange can resume it.
	args := []string{"-p"}
	if req.NativeThreadID != "" {
		args = append(args, "--resume", req.NativeThreadID)
	}
	res, err := runCLI(ctx, "gemini", args, req)
	if err != nil {
		return nil, err
	}
	if req.NativeThreadID == "" {
		// Without a prior thread the CLI starts one named after our session.
		res.NewNativeThreadID = req.SessionID
	}
	return res, nil
}

func runCLI(ctx context.Context, name string, args []string, req chat.ExecuteRequest) (*chat.ExecuteResult, error) {
	timer := logging.StartTimer(logging.CategoryAPI, name)
	defer timer.Stop()

	cmd := exec.CommandContext(ctx, name, args...)
	if req.WorkspacePath != "" {
		cmd.Dir = req.WorkspacePath
	}
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, detail)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &chat.ExecuteResult{Text: strings.TrimSpace(stdout.String())}, nil
}
