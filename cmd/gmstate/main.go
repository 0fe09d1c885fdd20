// gmstate inspects and maintains the save-state store of a gmvm project.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/gmvm/manifest"
	"github.com/chazu/gmvm/savestate"
)

func main() {
	dbPath := flag.String("db", "", "Save-state database (default: from gmvm.toml)")
	dir := flag.String("C", ".", "Directory to search for gmvm.toml")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gmstate [options] <command> [slot]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list           List stored slots\n")
		fmt.Fprintf(os.Stderr, "  show <slot>    Describe one slot\n")
		fmt.Fprintf(os.Stderr, "  verify <slot>  Check a slot's checksum and snapshot header\n")
		fmt.Fprintf(os.Stderr, "  delete <slot>  Remove a slot\n")
		fmt.Fprintf(os.Stderr, "  rewind         Show the rewind history depth\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fatalf("%v", err)
	}
	if m == nil {
		m = manifest.Default()
		m.Dir = *dir
	}
	verbosity := m.Verbosity()
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	path := *dbPath
	if path == "" {
		path = m.StatePath()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := savestate.Open(path, m.Savestate.RewindDepth)
	if err != nil {
		fatalf("%v", err)
	}
	defer store.Close()

	if err := run(store, args); err != nil {
		store.Close()
		fatalf("%v", err)
	}
}

func run(store *savestate.Store, args []string) error {
	cmd := args[0]
	slot := ""
	switch cmd {
	case "show", "verify", "delete":
		if len(args) != 2 {
			return fmt.Errorf("%s needs a slot name", cmd)
		}
		slot = args[1]
	case "list", "rewind":
		if len(args) != 1 {
			return fmt.Errorf("%s takes no arguments", cmd)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	switch cmd {
	case "list":
		return list(store)
	case "show":
		return show(store, slot)
	case "verify":
		return verify(store, slot)
	case "delete":
		if err := store.Delete(slot); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", slot)
		return nil
	case "rewind":
		n, err := store.RewindLen()
		if err != nil {
			return err
		}
		fmt.Printf("%d rewind entries\n", n)
	}
	return nil
}

func list(store *savestate.Store) error {
	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No saved states")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tCREATED\tSIZE\tPROGRAM\tLABEL")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%016x\t%s\n",
			info.Slot, info.Created.Local().Format(time.DateTime), info.Size, info.Program, info.Label)
	}
	return w.Flush()
}

func show(store *savestate.Store, slot string) error {
	env, err := store.Load(slot)
	if err != nil {
		return err
	}
	fmt.Printf("Slot:       %s\n", slot)
	fmt.Printf("ID:         %s\n", env.ID)
	fmt.Printf("Created:    %s\n", env.Created.Local().Format(time.RFC1123))
	fmt.Printf("Label:      %s\n", env.Label)
	fmt.Printf("Program:    %016x\n", env.Program)
	fmt.Printf("Compressed: %v\n", env.Compressed)
	fmt.Printf("Stored:     %d bytes\n", env.Size())
	fmt.Printf("Checksum:   %016x\n", env.Checksum)
	return nil
}

func verify(store *savestate.Store, slot string) error {
	env, err := store.Load(slot)
	if err != nil {
		return err
	}
	h, err := savestate.Verify(env, 0)
	if err != nil {
		if errors.Is(err, savestate.ErrChecksum) {
			return fmt.Errorf("%s is corrupt: %w", slot, err)
		}
		return err
	}
	fmt.Printf("%s: ok (snapshot format %d, program %016x)\n", slot, h.Version, h.Digest)
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
