package command_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/gatortaxi/internal/command"
	"github.com/example/gatortaxi/internal/ride/domain"
	"github.com/example/gatortaxi/internal/ride/manager"
)

func run(t *testing.T, cfg command.Config, capacity int, input string) (string, command.Summary) {
	t.Helper()
	mgr := manager.New(manager.Config{Capacity: capacity}, nil, nil, nil)
	var out bytes.Buffer
	summary, err := command.NewRunner(mgr, cfg, nil).Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	return out.String(), summary
}

func TestRunReferenceSession(t *testing.T) {
	input := `Insert(25,98,46)
GetNextRide()
GetNextRide()
Insert(42,17,89)
Insert(9,76,31)
Insert(53,97,22)
GetNextRide()
Insert(68,40,51)
GetNextRide()
Print(1,100)
UpdateTrip(53,15)
Insert(96,28,82)
Insert(73,28,56)
UpdateTrip(9,88)
GetNextRide()
Print(9)
Insert(20,49,59)
Insert(62,7,10)
CancelRide(20)
Insert(25,49,46)
UpdateTrip(62,15)
GetNextRide()
Print(1,100)
Insert(53,28,19)
Print(1,100)
`
	want := `(25,98,46)
No active ride requests.
(42,17,89)
(68,40,51)
(9,76,31),(53,97,22),
(73,28,56)
(0,0,0)
(62,17,15)
(25,49,46),(53,97,15),(96,28,82),
Duplicate RideNumber`

	got, summary := run(t, command.Config{HaltOnDuplicate: true}, 0, input)
	require.Equal(t, want, got)
	require.True(t, summary.Halted)
	require.Equal(t, 24, summary.HaltLine)
}

func TestRunContinuesAfterDuplicateWhenConfigured(t *testing.T) {
	input := "Insert(1,10,5)\nInsert(1,3,3)\nPrint(1)\n"
	got, summary := run(t, command.Config{HaltOnDuplicate: false}, 0, input)
	require.Equal(t, "Duplicate RideNumber\n(1,10,5)\n", got)
	require.False(t, summary.Halted)
	require.Equal(t, 3, summary.Commands)
}

func TestRunReportsFullHeapAndKeepsGoing(t *testing.T) {
	input := "Insert(1,10,5)\nInsert(2,10,5)\nPrint(2)\nGetNextRide()\n"
	got, _ := run(t, command.Config{HaltOnDuplicate: true}, 1, input)
	require.Equal(t, "heap is full.\n(0,0,0)\n(1,10,5)\n", got)
}

func TestRunUnknownCommands(t *testing.T) {
	input := "Teleport(1)\n\nInsert(1,x,2)\nPrint(7)\n"
	got, summary := run(t, command.Config{HaltOnDuplicate: true}, 0, input)
	require.Equal(t, "Error: Unknown command.\nError: Unknown command.\n(0,0,0)\n", got)
	require.Equal(t, 2, summary.Unknown)
	require.Equal(t, 1, summary.Commands)
	require.Equal(t, 4, summary.Lines)
}

func TestRunTieBreakIsInsertionOrder(t *testing.T) {
	input := "Insert(5,10,8)\nInsert(3,20,5)\nInsert(7,10,8)\nGetNextRide()\nGetNextRide()\nGetNextRide()\n"
	got, _ := run(t, command.Config{}, 0, input)
	require.Equal(t, "(5,10,8)\n(7,10,8)\n(3,20,5)\n", got)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRunFailsOnOutputError(t *testing.T) {
	mgr := manager.New(manager.Config{}, nil, nil, nil)
	_, err := command.NewRunner(mgr, command.Config{}, nil).Run(context.Background(), strings.NewReader("GetNextRide()\n"), failingWriter{})
	require.ErrorContains(t, err, "disk full")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("input gone") }

func TestRunFailsOnInputError(t *testing.T) {
	mgr := manager.New(manager.Config{}, nil, nil, nil)
	_, err := command.NewRunner(mgr, command.Config{}, nil).Run(context.Background(), failingReader{}, &bytes.Buffer{})
	require.ErrorContains(t, err, "read input")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mgr := manager.New(manager.Config{}, nil, nil, nil)
	_, err := command.NewRunner(mgr, command.Config{}, nil).Run(ctx, strings.NewReader("GetNextRide()\n"), &bytes.Buffer{})
	require.ErrorIs(t, err, context.Canceled)
}

// cancellingRides cancels the run once the given ride has been printed.
type cancellingRides struct {
	*manager.Manager
	cancelAfter int
	cancel      context.CancelFunc
}

func (c cancellingRides) PrintRide(ctx context.Context, id int) (domain.Ride, bool) {
	ride, ok := c.Manager.PrintRide(ctx, id)
	if id == c.cancelAfter {
		c.cancel()
	}
	return ride, ok
}

type brokenQueue struct{ *manager.Manager }

func (brokenQueue) GetNextRide(context.Context) (domain.Ride, error) {
	return domain.Ride{}, errors.New("queue corrupted")
}

func TestRunFlushesEarlierOutputWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rides := cancellingRides{Manager: manager.New(manager.Config{}, nil, nil, nil), cancelAfter: 2, cancel: cancel}

	var out bytes.Buffer
	input := "Insert(1,5,5)\nInsert(2,6,6)\nPrint(1)\nPrint(2)\nPrint(1,2)\n"
	summary, err := command.NewRunner(rides, command.Config{}, nil).Run(ctx, strings.NewReader(input), &out)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, "(1,5,5)\n(2,6,6)\n", out.String())
	require.Equal(t, 4, summary.Commands)
}

func TestRunFlushesEarlierOutputOnDispatchError(t *testing.T) {
	rides := brokenQueue{Manager: manager.New(manager.Config{}, nil, nil, nil)}
	var out bytes.Buffer
	input := "Insert(3,1,1)\nPrint(3)\nGetNextRide()\nPrint(3)\n"
	_, err := command.NewRunner(rides, command.Config{}, nil).Run(context.Background(), strings.NewReader(input), &out)
	require.ErrorContains(t, err, "line 3: queue corrupted")
	require.Equal(t, "(3,1,1)\n", out.String())
}
