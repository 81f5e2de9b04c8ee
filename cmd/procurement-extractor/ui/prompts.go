package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Confirm asks the user for a yes/no confirmation.
func Confirm(message string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}
	fmt.Fprintf(os.Stdout, "%s [%s]: ", message, defaultStr)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}

	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return defaultValue, nil
	}
	return trimmed == "y" || trimmed == "yes", nil
}
