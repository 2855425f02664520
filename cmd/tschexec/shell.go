package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/text/encoding"

	"github.com/ineffectivecoder/tschexec/pkg/atexec"
)

// runCommand executes one command and prints its output
func runCommand(ctx context.Context, exec *atexec.Executor, dec *encoding.Decoder, command string, wantOutput bool) bool {
	debug_("Executing: %s", command)
	out, err := exec.Execute(ctx, command, wantOutput)
	var cleanup *atexec.CleanupError
	if errors.As(err, &cleanup) {
		warn_("Command ran but %s failed, remove %s by hand", cleanup.Op, cleanup.Path)
		out, err = cleanup.Output, nil
	}
	if err != nil {
		var timeout *atexec.TimedOutError
		if errors.As(err, &timeout) {
			warn_("Gave up waiting (%s) after %d attempts", timeout.Stage, timeout.Attempts)
		}
		error_("Execution failed: %v", err)
		return false
	}
	if !wantOutput {
		success_("Command executed")
		return true
	}
	fmt.Print(decodeOutput(dec, out))
	return true
}

// runShell reads commands until exit. Every line is a separate task.
func runShell(ctx context.Context, exec *atexec.Executor, dec *encoding.Decoder, wantOutput bool) error {
	info_("Semi-interactive shell, every command runs as a new task")
	info_("Type 'exit' or 'quit' to leave, 'help' for commands")
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%sC:\\Windows\\system32>%s ", colorCyan, colorReset),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryLimit:    500,
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			return nil
		case "help":
			printShellHelp()
			continue
		case "clear", "cls":
			fmt.Print("\033[H\033[2J")
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		runCommand(ctx, exec, dec, input, wantOutput)
	}
}

func printShellHelp() {
	fmt.Println()
	fmt.Println(colorBold + "Shell commands:" + colorReset)
	fmt.Println("  exit, quit    Leave the shell")
	fmt.Println("  clear, cls    Clear the screen")
	fmt.Println("  help          Show this help")
	fmt.Println()
	fmt.Println("Anything else runs as cmd.exe /C <line> under SYSTEM. There is no")
	fmt.Println("working directory between commands, chain them with & instead.")
	fmt.Println()
}
