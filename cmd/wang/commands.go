package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/chazu/wang/server"
	"github.com/chazu/wang/vm"
)

// handleSnapshotsCommand processes the `wang snapshots` subcommand.
// Usage:
//
//	wang snapshots            List stored snapshots, newest first
//	wang snapshots rm <id>    Delete a stored snapshot (id prefix accepted)
func handleSnapshotsCommand(args []string, p *project) int {
	ctx := context.Background()
	st, err := p.openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer st.Close()

	if len(args) > 0 {
		if args[0] != "rm" || len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: wang snapshots [rm <id>]")
			return 2
		}
		id, err := st.Find(ctx, args[1])
		if err == nil {
			err = st.Delete(ctx, id)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Deleted %s\n", id)
		return 0
	}

	recs, err := st.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(recs) == 0 {
		fmt.Println("No snapshots stored")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tPHASE\tFORMAT\tOPS\tBYTES\tUPDATED")
	for i := range recs {
		fmt.Fprintln(tw, storeRecordLine(&recs[i]))
	}
	tw.Flush()
	return 0
}

// handleModulesCommand processes the `wang modules` subcommand.
// Usage:
//
//	wang modules [prefix]
func handleModulesCommand(args []string, p *project) int {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	ctx := context.Background()
	interp := vm.New(p.Options()...)
	paths, err := interp.ListModules(ctx, prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, path := range paths {
		md, err := interp.ModuleMetadata(ctx, path)
		if err != nil {
			fmt.Fprintf(tw, "%s\t?\t\n", path)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", path, md.Size, md.ModTime.Format("2006-01-02 15:04"))
	}
	tw.Flush()
	return 0
}

// handleServeCommand processes the `wang serve` subcommand.
// Usage:
//
//	wang serve [-addr :4567] [-idle 30m] [-no-store]
func handleServeCommand(args []string, p *project) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":4567", "Listen address")
	idle := fs.Duration("idle", 30*time.Minute, "Destroy sessions unused for this long")
	noStore := fs.Bool("no-store", false, "Serve without a snapshot store")
	fs.Parse(args)

	opts := []server.ServerOption{
		server.WithInterpreterOptions(p.Options()...),
		server.WithIdleTimeout(*idle),
	}
	if !*noStore {
		st, err := p.openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	srv := server.New(opts...)
	defer srv.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(*addr) }()

	select {
	case err := <-errc:
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	case sig := <-sigs:
		log.Noticef("received %s, shutting down", sig)
		return 0
	}
}
