package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/protomodels/internal/printer"
)

// parseWorkerRange parses "4" or "0-15" into an inclusive id range.
func parseWorkerRange(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	firstPart, lastPart, isRange := strings.Cut(s, "-")

	first, err := strconv.Atoi(strings.TrimSpace(firstPart))
	if err != nil || first < 0 {
		return 0, 0, fmt.Errorf("invalid worker range '%s' (expected N or FIRST-LAST)", s)
	}
	if !isRange {
		return first, first, nil
	}

	last, err := strconv.Atoi(strings.TrimSpace(lastPart))
	if err != nil || last < first {
		return 0, 0, fmt.Errorf("invalid worker range '%s' (expected N or FIRST-LAST)", s)
	}
	return first, last, nil
}

// workerRangeFlag parses a --workers value, printing a formatted error.
func workerRangeFlag(s string) (int, int, error) {
	first, last, err := parseWorkerRange(s)
	if err != nil {
		return 0, 0, printer.Error(
			"invalid --workers value",
			err.Error(),
			[]string{"Use a single id or an inclusive range:\n  --workers 3\n  --workers 0-15"},
		)
	}
	return first, last, nil
}
