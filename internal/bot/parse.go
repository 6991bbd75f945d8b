package bot

import (
	"fmt"
	"net/mail"
	"strings"
)

// ParseLoginArgs extracts the optional email address of a /login command.
func ParseLoginArgs(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", nil
	}
	addr, err := mail.ParseAddress(fields[0])
	if err != nil {
		return "", fmt.Errorf("invalid email %q", fields[0])
	}
	return addr.Address, nil
}
