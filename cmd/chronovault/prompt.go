package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/celerix-dev/chronovault/internal/vault"
)

// EnvMasterKey supplies the sealing key without a prompt.
const EnvMasterKey = "CHRONOVAULT_VAULT_MASTER_KEY"

// masterKey reads the hex master key from the environment, or asks for it
// without echo when stdin is a terminal.
func masterKey(cmd *cobra.Command) ([]byte, error) {
	if s := os.Getenv(EnvMasterKey); s != "" {
		return vault.ParseKey(s)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return nil, errors.New("no master key: set " + EnvMasterKey + " or pipe it on stdin")
		}
		return vault.ParseKey(strings.TrimSpace(line))
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Master key (hex): ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return vault.ParseKey(strings.TrimSpace(string(b)))
}
