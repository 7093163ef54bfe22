package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
	"github.com/konradgithuup/io-backends/pkg/config"
	"github.com/konradgithuup/io-backends/pkg/metrics"
)

// errUsage is returned after usage has been printed.
var errUsage = errors.New("invalid usage")

// env carries what every command needs.
type env struct {
	ctx     context.Context
	cfg     *config.Config
	backend *backend.Backend
	stdin   io.Reader
	stdout  io.Writer
}

type command struct {
	name    string
	summary string
	// noBackend commands run without a backend (cfg may be nil).
	noBackend bool
	run       func(e *env, args []string) error
}

var commands = []command{
	{name: "init", summary: "write a default configuration file", noBackend: true, run: runInit},
	{name: "create", summary: "create an empty object", run: runCreate},
	{name: "write", summary: "write stdin (or -data) to an object", run: runWrite},
	{name: "read", summary: "read an object to stdout", run: runRead},
	{name: "stat", summary: "print modification time and size", run: runStat},
	{name: "sync", summary: "flush an object to its backing store", run: runSync},
	{name: "list", summary: "list the entries (or -catalog records) of a namespace", run: runList},
	{name: "delete", summary: "delete an object", run: runDelete},
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("iobackend", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/io-backends/config.yaml)")
	dumpMetrics := fs.Bool("metrics", false, "Print collected metrics to stderr after the command (requires metrics.enabled)")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cmd, ok := lookup(fs.Arg(0))
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	e := &env{ctx: context.Background(), stdin: stdin, stdout: stdout}
	if cmd.noBackend {
		return cmd.run(e, fs.Args()[1:])
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	e.cfg = cfg

	b, err := config.CreateBackend(e.ctx, cfg)
	if err != nil {
		return err
	}
	e.backend = b

	cmdErr := cmd.run(e, fs.Args()[1:])
	finiErr := b.Fini()

	if *dumpMetrics {
		if err := metrics.WriteText(stderr); err != nil {
			logger.Warn("Failed to write metrics: %v", err)
		}
	}

	return errors.Join(cmdErr, finiErr)
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: iobackend [flags] <command> [command flags] [name]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	fs.PrintDefaults()
}

// objectFlags parses the flags shared by every single-object command and
// returns the object name.
func objectFlags(fs *flag.FlagSet, args []string) (namespace, name string, err error) {
	ns := fs.String("ns", "", "Namespace below the configured root (empty = root)")
	if err := fs.Parse(args); err != nil {
		return "", "", errUsage
	}
	if fs.NArg() != 1 {
		return "", "", fmt.Errorf("%s: expected exactly one object name, got %d", fs.Name(), fs.NArg())
	}
	return *ns, fs.Arg(0), nil
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func runInit(e *env, args []string) error {
	fs := newFlagSet("init")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	path := fs.String("path", "", "Write to this path instead of the default location")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *path == "" {
		written, err := config.InitConfig(*force)
		if err != nil {
			return err
		}
		*path = written
	} else if err := config.InitConfigToPath(*path, *force); err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "Configuration written to %s\n", *path)
	return nil
}

func runCreate(e *env, args []string) error {
	ns, name, err := objectFlags(newFlagSet("create"), args)
	if err != nil {
		return err
	}

	h, err := e.backend.Create(ns, name)
	if err != nil {
		return err
	}
	return e.backend.Close(h)
}

func runWrite(e *env, args []string) error {
	fs := newFlagSet("write")
	offset := fs.Uint64("offset", 0, "Byte offset to write at")
	data := fs.String("data", "", "Write this string instead of stdin")
	create := fs.Bool("create", false, "Create the object if it does not exist")
	sync := fs.Bool("sync", false, "Sync the object after writing")
	ns, name, err := objectFlags(fs, args)
	if err != nil {
		return err
	}

	var buf []byte
	if *data != "" {
		buf = []byte(*data)
	} else if buf, err = io.ReadAll(e.stdin); err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}

	h, err := e.backend.Open(ns, name)
	if errors.Is(err, os.ErrNotExist) && *create {
		h, err = e.backend.Create(ns, name)
	}
	if err != nil {
		return err
	}
	defer closeHandle(e, h)

	n, err := e.backend.Write(h, buf, *offset, uint64(len(buf)))
	if err != nil {
		return err
	}
	if n < uint64(len(buf)) {
		return fmt.Errorf("short write to %s: %d/%d bytes", h, n, len(buf))
	}

	if *sync {
		if err := e.backend.Sync(h); err != nil {
			return err
		}
	}

	logger.Info("Wrote %d bytes at offset %d to %s", n, *offset, h)
	return nil
}

func runRead(e *env, args []string) error {
	fs := newFlagSet("read")
	offset := fs.Uint64("offset", 0, "Byte offset to read from")
	length := fs.Uint64("length", 0, "Number of bytes to read (0 = to end of object)")
	ns, name, err := objectFlags(fs, args)
	if err != nil {
		return err
	}

	h, err := e.backend.Open(ns, name)
	if err != nil {
		return err
	}
	defer closeHandle(e, h)

	n := *length
	if n == 0 {
		st, err := e.backend.Status(h)
		if err != nil {
			return err
		}
		if st.Size > *offset {
			n = st.Size - *offset
		}
	}

	buf := make([]byte, n)
	got, err := e.backend.Read(h, buf, *offset, n)
	if err != nil {
		return err
	}

	_, err = e.stdout.Write(buf[:got])
	return err
}

func runStat(e *env, args []string) error {
	ns, name, err := objectFlags(newFlagSet("stat"), args)
	if err != nil {
		return err
	}

	h, err := e.backend.Open(ns, name)
	if err != nil {
		return err
	}
	defer closeHandle(e, h)

	st, err := e.backend.Status(h)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "name:     %s\n", name)
	fmt.Fprintf(e.stdout, "engine:   %s\n", e.backend.Engine().Name())
	fmt.Fprintf(e.stdout, "size:     %d\n", st.Size)
	fmt.Fprintf(e.stdout, "modified: %s\n", st.Time().UTC().Format(time.RFC3339))
	return nil
}

func runSync(e *env, args []string) error {
	ns, name, err := objectFlags(newFlagSet("sync"), args)
	if err != nil {
		return err
	}

	h, err := e.backend.Open(ns, name)
	if err != nil {
		return err
	}
	defer closeHandle(e, h)

	return e.backend.Sync(h)
}

func runList(e *env, args []string) error {
	fs := newFlagSet("list")
	ns := fs.String("ns", "", "Namespace below the configured root (empty = root)")
	prefix := fs.String("prefix", "", "Only list entries starting with this prefix")
	fromCatalog := fs.Bool("catalog", false, "List catalog records (name, engine, creation time) instead of directory entries")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *fromCatalog {
		return listCatalog(e, *ns, *prefix)
	}

	var it *backend.Iterator
	var err error
	if *prefix == "" {
		it, err = e.backend.GetAll(*ns)
	} else {
		it, err = e.backend.GetByPrefix(*ns, *prefix)
	}
	if err != nil {
		return err
	}

	names, err := it.Collect()
	if err != nil {
		return err
	}

	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintln(e.stdout, strings.Join(names, "\n"))
	}
	return nil
}

// listCatalog prints the catalog records of namespace, one per line.
func listCatalog(e *env, namespace, prefix string) error {
	cat := e.backend.Catalog()
	if cat == nil {
		return errors.New("list -catalog: no catalog configured (catalog.type is none)")
	}

	records, err := cat.List(e.ctx, namespace, prefix)
	if err != nil {
		return fmt.Errorf("failed to list catalog: %w", err)
	}

	for _, rec := range records {
		created := "-"
		if rec.Created != 0 {
			created = time.Unix(rec.Created, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(e.stdout, "%s\t%s\t%s\n", rec.Name, rec.Engine, created)
	}
	return nil
}

func runDelete(e *env, args []string) error {
	ns, name, err := objectFlags(newFlagSet("delete"), args)
	if err != nil {
		return err
	}

	h, err := e.backend.Open(ns, name)
	if err != nil {
		return err
	}
	return e.backend.Delete(h)
}

// closeHandle closes h, logging instead of returning a failure so that the
// command's own error is kept.
func closeHandle(e *env, h *backend.ObjectHandle) {
	if err := e.backend.Close(h); err != nil {
		logger.Warn("Failed to close %s: %v", h, err)
	}
}
