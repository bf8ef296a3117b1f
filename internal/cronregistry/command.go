package cronregistry

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")

// PlaceholderCommand is the command given to jobs created without one. The
// title is escaped so it stays a single double-quoted word.
func PlaceholderCommand(title string) string {
	return `echo "Running ` + doubleQuoteEscaper.Replace(title) + `"`
}

// ValidateCommand reports whether cmd parses as a bash program.
func ValidateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("command is empty")
	}
	p := syntax.NewParser(syntax.Variant(syntax.LangBash))
	if _, err := p.Parse(strings.NewReader(cmd), ""); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return nil
}
