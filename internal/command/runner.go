package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/gatortaxi/internal/ride/domain"
)

const (
	outDuplicate     = "Duplicate RideNumber"
	outFull          = "heap is full.\n"
	outEmptyRide     = "(0,0,0)\n"
	outNoActiveRides = "No active ride requests.\n"
	outUnknown       = "Error: Unknown command.\n"
)

// Dispatcher is the ride manager surface the runner drives.
type Dispatcher interface {
	InsertRide(ctx context.Context, id, cost, duration int) (domain.Ride, error)
	GetNextRide(ctx context.Context) (domain.Ride, error)
	CancelRide(ctx context.Context, id int) bool
	UpdateTrip(ctx context.Context, id, newDuration int) (domain.UpdateOutcome, error)
	PrintRide(ctx context.Context, id int) (domain.Ride, bool)
	PrintRideRange(ctx context.Context, low, high int) []domain.Ride
}

// Config controls runner policy.
type Config struct {
	// HaltOnDuplicate stops processing after the first duplicate insert, as the
	// reference adapter does. When false the duplicate is reported on its own
	// line and processing continues.
	HaltOnDuplicate bool
}

// Summary describes a completed run.
type Summary struct {
	RunID    string
	Lines    int
	Commands int
	Unknown  int
	Halted   bool
	HaltLine int
}

// Runner executes commands against a Dispatcher in input order.
type Runner struct {
	rides  Dispatcher
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRunner constructs a Runner.
func NewRunner(rides Dispatcher, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		rides:  rides,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("gatortaxi.command"),
	}
}

// Run reads commands from in until EOF and writes their results to out.
// Read and write failures abort the run. Output produced before an abort is
// still flushed to out.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) (summary Summary, err error) {
	summary = Summary{RunID: uuid.NewString()}
	logger := r.logger.With(zap.String("run_id", summary.RunID))
	w := bufio.NewWriter(out)
	defer func() {
		if flushErr := w.Flush(); flushErr != nil {
			err = errors.Join(err, fmt.Errorf("flush output: %w", flushErr))
		}
	}()
	scanner := bufio.NewScanner(in)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Lines++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd, err := Parse(line)
		if err != nil {
			summary.Unknown++
			commandsProcessed.WithLabelValues("unknown", "rejected").Inc()
			logger.Warn("unrecognised command", zap.Int("line", summary.Lines), zap.Error(err))
			if _, err := w.WriteString(outUnknown); err != nil {
				return summary, fmt.Errorf("write output: %w", err)
			}
			continue
		}
		cmd.Line = summary.Lines
		summary.Commands++

		output, halt, err := r.execute(ctx, cmd)
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", cmd.Line, err)
		}
		if _, err := w.WriteString(output); err != nil {
			return summary, fmt.Errorf("write output: %w", err)
		}
		if halt {
			summary.Halted = true
			summary.HaltLine = cmd.Line
			logger.Info("halting after duplicate ride number", zap.Int("line", cmd.Line))
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read input: %w", err)
	}
	logger.Info("command run finished",
		zap.Int("lines", summary.Lines),
		zap.Int("commands", summary.Commands),
		zap.Int("unknown", summary.Unknown),
		zap.Bool("halted", summary.Halted),
	)
	return summary, nil
}

func (r *Runner) execute(ctx context.Context, cmd Command) (string, bool, error) {
	ctx, span := r.tracer.Start(ctx, "command."+string(cmd.Kind), trace.WithAttributes(
		attribute.String("command.kind", string(cmd.Kind)),
		attribute.Int("command.line", cmd.Line),
		attribute.IntSlice("command.args", cmd.Args),
	))
	defer span.End()

	output, halt, result, err := r.dispatch(ctx, cmd)
	commandsProcessed.WithLabelValues(string(cmd.Kind), result).Inc()
	span.SetAttributes(attribute.String("command.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return output, halt, err
}

// dispatch returns the text to write, whether to halt, and a metrics result label.
func (r *Runner) dispatch(ctx context.Context, cmd Command) (string, bool, string, error) {
	args := cmd.Args
	switch cmd.Kind {
	case KindInsert:
		_, err := r.rides.InsertRide(ctx, args[0], args[1], args[2])
		switch {
		case err == nil:
			return "", false, "ok", nil
		case errors.Is(err, domain.ErrDuplicateID):
			if r.cfg.HaltOnDuplicate {
				return outDuplicate, true, "duplicate", nil
			}
			return outDuplicate + "\n", false, "duplicate", nil
		case errors.Is(err, domain.ErrCapacityExceeded):
			return outFull, false, "full", nil
		default:
			return "", false, "error", err
		}

	case KindPrint:
		ride, ok := r.rides.PrintRide(ctx, args[0])
		if !ok {
			return outEmptyRide, false, "absent", nil
		}
		return formatRide(ride) + "\n", false, "ok", nil

	case KindPrintRange:
		rides := r.rides.PrintRideRange(ctx, args[0], args[1])
		if len(rides) == 0 {
			return outEmptyRide, false, "absent", nil
		}
		var b strings.Builder
		for _, ride := range rides {
			b.WriteString(formatRide(ride))
			b.WriteByte(',')
		}
		b.WriteByte('\n')
		return b.String(), false, "ok", nil

	case KindUpdateTrip:
		outcome, err := r.rides.UpdateTrip(ctx, args[0], args[1])
		if err != nil {
			return "", false, "error", err
		}
		return "", false, strings.ToLower(string(outcome)), nil

	case KindCancelRide:
		if !r.rides.CancelRide(ctx, args[0]) {
			return "", false, "absent", nil
		}
		return "", false, "ok", nil

	case KindGetNextRide:
		ride, err := r.rides.GetNextRide(ctx)
		if errors.Is(err, domain.ErrNoActiveRides) {
			return outNoActiveRides, false, "empty", nil
		}
		if err != nil {
			return "", false, "error", err
		}
		return formatRide(ride) + "\n", false, "ok", nil
	}
	return outUnknown, false, "unknown", nil
}

func formatRide(r domain.Ride) string {
	return "(" + strconv.Itoa(r.ID) + "," + strconv.Itoa(r.Cost) + "," + strconv.Itoa(r.Duration) + ")"
}
