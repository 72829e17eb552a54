package utils

import (
	"bufio"
	"os"
	"strings"
)

// ReadFileLinesTrimmed returns the whitespace-trimmed lines of fname, skipping
// empty lines and lines starting with '#'.
func ReadFileLinesTrimmed(fname string) ([]string, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lines := []string{}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
