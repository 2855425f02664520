package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mjwhitta/cli"
	"golang.org/x/term"

	"github.com/ineffectivecoder/tschexec/pkg/atexec"
	"github.com/ineffectivecoder/tschexec/pkg/debug"
)

// Version info
const (
	Version = "0.1.0"
	Banner  = "tschexec"
)

// Colors for output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var verbose bool

func main() {
	var (
		target        string
		port          int
		username      string
		password      string
		hashes        string
		domain        string
		aesKey        string
		kdcHost       string
		ccache        string
		kerberos      bool
		noPass        bool
		socks5        string
		shareName     string
		shareDir      string
		fileless      bool
		noOutput      bool
		verifyCleanup bool
		pollTimeout   int
		readTimeout   int
		codec         string
		execCmd       string
	)

	// Configure CLI
	cli.Align = true
	cli.Banner = "tschexec [OPTIONS]"
	cli.Info("Run commands on a Windows host through the Task Scheduler service")
	cli.Authors = []string{"ineffectivecoder"}

	// Define flags
	cli.Flag(&target, "t", "target", "", "Target server IP/hostname")
	cli.Flag(&port, "P", "port", 445, "SMB port")
	cli.Flag(&username, "u", "user", "", "Username")
	cli.Flag(&domain, "d", "domain", "", "Domain name / Kerberos realm")
	cli.Flag(&password, "p", "password", "", "Password")
	cli.Flag(&hashes, "H", "hashes", "", "NTLM hashes, LM:NT or NT")
	cli.Flag(&aesKey, "aes-key", "", "AES key for Kerberos (32 or 64 hex chars)")
	cli.Flag(&kdcHost, "dc-ip", "", "KDC address (default from krb5.conf or DNS)")
	cli.Flag(&kerberos, "k", "kerberos", false, "Use Kerberos authentication")
	cli.Flag(&ccache, "ccache", "", "Kerberos ccache file (default $KRB5CCNAME)")
	cli.Flag(&noPass, "no-pass", false, "Do not prompt for a password")
	cli.Flag(&socks5, "s", "socks5", "", "SOCKS5 proxy (e.g., 127.0.0.1:1080 or user:pass@host:port)")
	cli.Flag(&shareName, "share", "share", "Share the target writes output to in fileless mode")
	cli.Flag(&shareDir, "share-dir", "/tmp/tschexec_hosted", "Local directory behind --share")
	cli.Flag(&fileless, "fileless", false, "Write output to the local share instead of ADMIN$")
	cli.Flag(&noOutput, "no-output", false, "Do not retrieve command output")
	cli.Flag(&verifyCleanup, "verify-cleanup", false, "Check the task is gone after delete")
	cli.Flag(&pollTimeout, "poll-timeout", 300, "Seconds to wait for the task to run")
	cli.Flag(&readTimeout, "read-timeout", 120, "Seconds to wait for the output file")
	cli.Flag(&codec, "codec", "utf-8", "Output encoding (e.g., cp437, cp850)")
	cli.Flag(&execCmd, "x", "exec", "", "Execute a command and exit")
	cli.Flag(&verbose, "v", "verbose", false, "Verbose output")

	cli.Parse()

	printBanner()

	if target == "" {
		error_("Missing target (-t)")
		cli.Usage(1)
	}

	if ccache == "" && kerberos {
		if envCcache := os.Getenv("KRB5CCNAME"); envCcache != "" {
			ccache = strings.TrimPrefix(envCcache, "FILE:")
			debug_("Using KRB5CCNAME: %s", ccache)
		}
	}

	if password == "" && hashes == "" && aesKey == "" && ccache == "" && username != "" && !noPass {
		password = promptPassword()
	}

	dec, err := lookupCodec(codec)
	if err != nil {
		error_("%v", err)
		os.Exit(1)
	}

	cfg := atexec.DefaultConfig()
	cfg.Target = target
	cfg.Port = port
	cfg.Username = username
	cfg.Domain = domain
	cfg.Password = password
	cfg.Hashes = hashes
	cfg.AESKey = aesKey
	cfg.Kerberos = kerberos
	cfg.KDCHost = kdcHost
	cfg.CCachePath = ccache
	cfg.AllowEmptySecret = noPass || username == ""
	cfg.ShareName = shareName
	cfg.LocalShareDir = shareDir
	cfg.PreferFileless = fileless
	cfg.VerifyCleanup = verifyCleanup
	cfg.Poll.Timeout = time.Duration(pollTimeout) * time.Second
	cfg.ShareRead.Timeout = time.Duration(readTimeout) * time.Second
	cfg.LocalRead.Timeout = time.Duration(readTimeout) * time.Second
	if socks5 != "" {
		if !strings.HasPrefix(socks5, "socks5://") {
			socks5 = "socks5://" + socks5
		}
		cfg.Socks5URL = socks5
		info_("Using SOCKS5 proxy: %s", socks5)
	}

	log := debug.NewLogger(verbose, os.Stderr)
	defer log.Sync()

	exec, err := atexec.New(cfg, log)
	if err != nil {
		error_("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if execCmd != "" {
		if !runCommand(ctx, exec, dec, execCmd, !noOutput) {
			os.Exit(1)
		}
		return
	}

	if err := runShell(ctx, exec, dec, !noOutput); err != nil {
		error_("%v", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf("%s%s%s v%s\n\n", colorCyan+colorBold, Banner, colorReset, Version)
}

func info_(format string, args ...interface{}) {
	fmt.Printf(colorCyan+"[*]"+colorReset+" "+format+"\n", args...)
}

func success_(format string, args ...interface{}) {
	fmt.Printf(colorGreen+"[+]"+colorReset+" "+format+"\n", args...)
}

func error_(format string, args ...interface{}) {
	fmt.Printf(colorRed+"[!]"+colorReset+" "+format+"\n", args...)
}

func warn_(format string, args ...interface{}) {
	fmt.Printf(colorYellow+"[-]"+colorReset+" "+format+"\n", args...)
}

func debug_(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(colorBlue+"[D]"+colorReset+" "+format+"\n", args...)
	}
}

func promptPassword() string {
	fmt.Print("Password: ")
	passBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Print newline after password entry
	if err != nil {
		error_("Failed to read password: %v", err)
		os.Exit(1)
	}
	return string(passBytes)
}
