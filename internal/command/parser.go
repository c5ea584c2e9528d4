// Package command drives a ride manager from a line oriented command stream
// such as "Insert(1, 30, 10)" and renders the results in the reference text
// format.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the command name as it appears in the input.
type Kind string

const (
	KindInsert      Kind = "Insert"
	KindPrint       Kind = "Print"
	KindPrintRange  Kind = "PrintRange"
	KindUpdateTrip  Kind = "UpdateTrip"
	KindCancelRide  Kind = "CancelRide"
	KindGetNextRide Kind = "GetNextRide"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMalformed      = errors.New("malformed command")
)

// Command is one parsed line. Args holds the integer arguments in order.
type Command struct {
	Kind Kind
	Args []int
	Line int
}

var arity = map[string][]int{
	"Insert":      {3},
	"Print":       {1, 2},
	"UpdateTrip":  {2},
	"CancelRide":  {1},
	"GetNextRide": {0},
}

// Parse turns a line of the form Name(a, b, ...) into a Command. Print with two
// arguments is reported as KindPrintRange.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	open := strings.IndexByte(line, '(')
	if open <= 0 || !strings.HasSuffix(line, ")") {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	name := strings.TrimSpace(line[:open])
	counts, ok := arity[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	args, err := parseArgs(line[open+1 : len(line)-1])
	if err != nil {
		return Command{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	if !contains(counts, len(args)) {
		return Command{}, fmt.Errorf("%w: %s takes %v arguments, got %d", ErrMalformed, name, counts, len(args))
	}

	kind := Kind(name)
	if kind == KindPrint && len(args) == 2 {
		kind = KindPrintRange
	}
	return Command{Kind: kind, Args: args}, nil
}

func parseArgs(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	args := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func contains(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
