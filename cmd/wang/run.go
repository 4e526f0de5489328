package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/chazu/wang/store"
	"github.com/chazu/wang/vm"
	"github.com/chazu/wang/vm/wire"
)

// runFlags are shared by run and resume.
type runFlags struct {
	pauseAfter int64
	save       bool
	id         string
	label      string
	output     string
	format     string
	jsonOut    bool
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.Int64Var(&f.pauseAfter, "pause-after", 0, "Pause after this many more operations")
	fs.BoolVar(&f.save, "save", false, "Store the snapshot in the project database when paused")
	fs.StringVar(&f.id, "id", "", "Snapshot id to store under (replaces an existing one)")
	fs.StringVar(&f.label, "label", "", "Label for the stored snapshot")
	fs.StringVar(&f.output, "o", "", "Write the snapshot to this file when paused")
	fs.StringVar(&f.format, "format", "", "Snapshot file format: json or cbor (default from wang.toml)")
	fs.BoolVar(&f.jsonOut, "json", false, "Print the result as JSON even on a terminal")
}

// handleRunCommand processes the `wang run` subcommand.
// Usage:
//
//	wang run [flags] [file]
func handleRunCommand(args []string, p *project) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var rf runFlags
	rf.register(fs)
	fs.Parse(args)
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: wang run [flags] [file]")
		return 2
	}

	ctx := context.Background()
	source, path, err := p.source(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	interp := vm.New(p.Options()...)
	return drive(ctx, interp, &rf, p, func(ctx context.Context) (vm.Value, error) {
		return interp.ExecuteSource(ctx, source, path)
	})
}

// handleResumeCommand processes the `wang resume` subcommand. The argument
// is a snapshot file, or the id (or unique id prefix) of a stored one.
// Usage:
//
//	wang resume [flags] <file|id>
func handleResumeCommand(args []string, p *project) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	var rf runFlags
	rf.register(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: wang resume [flags] <file|id>")
		return 2
	}

	ctx := context.Background()
	snap, id, err := loadSnapshot(ctx, p, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	// Resuming a stored snapshot saves back over it unless told otherwise.
	if id != "" && rf.id == "" {
		rf.id = id
	}

	interp, err := vm.Deserialize(snap, p.Options()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: restoring snapshot: %v\n", err)
		return 1
	}
	st := interp.ExecutionState()
	if st.Phase != vm.PhasePaused {
		return report(os.Stdout, interp, &rf)
	}
	return drive(ctx, interp, &rf, p, interp.Resume)
}

// loadSnapshot reads a snapshot file, falling back to the store. The store
// id is returned for stored snapshots.
func loadSnapshot(ctx context.Context, p *project, arg string) (*vm.Snapshot, string, error) {
	if data, err := os.ReadFile(arg); err == nil {
		snap, err := wire.Decode(data)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", arg, err)
		}
		return snap, "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, "", err
	}

	st, err := p.openStore()
	if err != nil {
		return nil, "", err
	}
	defer st.Close()
	id, err := st.Find(ctx, arg)
	if err != nil {
		return nil, "", err
	}
	snap, _, err := st.Load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return snap, id, nil
}

// drive runs body with pause-after and interrupt handling. An interrupt
// pauses the run at its next checkpoint so the work can be saved; a second
// interrupt aborts it.
func drive(ctx context.Context, interp *vm.Interpreter, rf *runFlags, p *project, body func(context.Context) (vm.Value, error)) int {
	if rf.pauseAfter > 0 {
		interp.PauseAfter(interp.ExecutionState().Operations + rf.pauseAfter)
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		interrupts := 0
		for {
			select {
			case <-sigs:
				interrupts++
				if interrupts == 1 {
					log.Notice("interrupt: pausing")
					interp.Pause()
				} else {
					log.Notice("interrupt: aborting")
					interp.Abort()
				}
			case <-done:
				return
			}
		}
	}()

	_, err := body(ctx)
	if errors.Is(err, vm.ErrPaused) {
		if code := persist(ctx, interp, rf, p); code != 0 {
			return code
		}
	}
	return report(os.Stdout, interp, rf)
}

// persist writes the paused state to the requested file and store.
func persist(ctx context.Context, interp *vm.Interpreter, rf *runFlags, p *project) int {
	if rf.output == "" && !rf.save {
		return 0
	}
	snap, err := interp.Serialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: serializing: %v\n", err)
		return 1
	}

	if rf.output != "" {
		format := p.Format
		if rf.format != "" {
			if format, err = wire.ParseFormat(rf.format); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 2
			}
		}
		data, err := wire.Encode(snap, format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := os.WriteFile(rf.output, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Snapshot written to %s (%d bytes)\n", rf.output, len(data))
	}

	if rf.save {
		st, err := p.openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer st.Close()
		id, err := st.Save(ctx, rf.id, rf.label, snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Snapshot stored as %s\n", id)
	}
	return 0
}

// report prints the outcome of a run and returns the exit code.
func report(w io.Writer, interp *vm.Interpreter, rf *runFlags) int {
	st := interp.ExecutionState()
	switch st.Phase {
	case vm.PhasePaused:
		fmt.Fprintf(os.Stderr, "Paused after %d operations\n", st.Operations)
		for i := len(st.CallStack) - 1; i >= 0; i-- {
			fmt.Fprintf(os.Stderr, "  %s\n", st.CallStack[i].String())
		}
		return 0
	case vm.PhaseError:
		fmt.Fprintf(os.Stderr, "Error: %v\n", st.Err)
		var re *vm.RuntimeError
		if errors.As(st.Err, &re) {
			for _, line := range re.Stack {
				fmt.Fprintf(os.Stderr, "  %s\n", line)
			}
		}
		return 1
	}
	if err := printValue(w, st.Result, prettyOutput(w) && !rf.jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// prettyOutput reports whether w is a terminal.
func prettyOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printValue writes v for a person when pretty is set, else as compact
// JSON for other programs. undefined prints nothing.
func printValue(w io.Writer, v vm.Value, pretty bool) error {
	if v == nil || v == vm.Undefined {
		return nil
	}
	if pretty {
		_, err := fmt.Fprintln(w, vm.Inspect(v))
		return err
	}
	data, err := json.Marshal(vm.Export(v))
	if err != nil {
		return fmt.Errorf("result is not JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// storeRecordLine formats a snapshot record for listings.
func storeRecordLine(rec *store.Record) string {
	label := rec.Label
	if label == "" {
		label = "-"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t%d\t%s",
		rec.ID, label, rec.Phase, rec.Format, rec.Operations, rec.Size, rec.Updated.Format("2006-01-02 15:04:05"))
}
