package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	fez "github.com/RobotDisco/fez-scheme/core"
	"github.com/RobotDisco/fez-scheme/store"
)

const (
	banner     = "fez scheme. ,quit to exit."
	promptMain = "fez> "
	promptCont = "...  "
)

func main() {
	var journal fez.Journal
	if dbPath := os.Getenv("FEZ_DB"); dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		journal = st
	}

	session, err := fez.NewSession(journal, os.Stdout)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	var code int
	if len(os.Args) > 1 {
		code = runFiles(session, os.Args[1:])
	} else {
		code = repl(session)
	}
	if journal != nil {
		journal.Close()
	}
	os.Exit(code)
}

// runFiles evaluates each file in order and stops at the first error.
func runFiles(session *fez.Session, paths []string) int {
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if _, err := session.Eval(string(src)); err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", p, err)
			return 1
		}
	}
	return 0
}

func historyPath() string {
	if p := os.Getenv("FEZ_HISTORY"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fez_history")
}

func repl(session *fez.Session) int {
	fmt.Println(banner)

	histPath := historyPath()

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	for {
		code, ok := readForm(ln)
		if !ok {
			fmt.Println()
			return 0
		}

		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ",") {
			switch trimmed {
			case ",quit", ",q":
				return 0
			case ",bindings":
				fmt.Println(strings.Join(session.Bindings(), " "))
			default:
				fmt.Println("unknown command. Type ,quit to exit.")
			}
			continue
		}

		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		v, err := session.Eval(code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if v.Kind != fez.ValUnspecified {
			fmt.Println(v.String())
		}
	}
}

// readForm keeps prompting until the parens and strings balance.
func readForm(ln *liner.State) (string, bool) {
	var b strings.Builder

	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		if fez.Balanced(b.String()) {
			return b.String(), true
		}
	}
}
