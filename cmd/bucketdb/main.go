// Command bucketdb is an interactive shell over the bucketdb engine.
//
// Usage:
//
//	bucketdb --db data.db                          # interactive shell
//	bucketdb --db data.db --newdb store k v        # one-shot command
//	bucketdb --db data.db fetch k
//	bucketdb --db data.db --reader list
//
// Without a command the shell reads lines with history and line
// editing. A hujson profile (~/.config/bucketdb/profile.json or
// --profile) can preset the database path and open options.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bucketdb/pkg/bucketdb"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bucketdb: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions collects everything the flags and the profile configure.
type cliOptions struct {
	dbPath    string
	blockSize int
	reader    bool
	newDB     bool
	noLock    bool
	noMmap    bool
	syncMode  bool
	numSync   bool
	profile   string
	noProfile bool
}

func run(args []string) error {
	flags := flag.NewFlagSet("bucketdb", flag.ContinueOnError)

	var opts cliOptions

	flags.StringVar(&opts.dbPath, "db", "", "database file")
	flags.IntVar(&opts.blockSize, "block-size", 0, "block size for new databases")
	flags.BoolVar(&opts.reader, "reader", false, "open read-only")
	flags.BoolVar(&opts.newDB, "newdb", false, "create a fresh database, truncating any existing file")
	flags.BoolVar(&opts.noLock, "no-lock", false, "skip the advisory file lock")
	flags.BoolVar(&opts.noMmap, "no-mmap", false, "disable memory-mapped I/O")
	flags.BoolVar(&opts.syncMode, "sync", false, "sync after every mutation")
	flags.BoolVar(&opts.numSync, "numsync", false, "create new databases in the extended format")
	flags.StringVar(&opts.profile, "profile", "", "hujson profile file")
	flags.BoolVar(&opts.noProfile, "no-profile", false, "skip loading the profile")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bucketdb [flags] [command [args...]]\n\nFlags:\n%s\n%s\n", flags.FlagUsages(), commandHelp())
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return err
	}

	if !opts.noProfile {
		if err := applyProfile(&opts); err != nil {
			return err
		}
	}

	if opts.dbPath == "" {
		flags.Usage()

		return errors.New("no database given (use --db or a profile)")
	}

	mode := bucketdb.WrCreate

	switch {
	case opts.reader:
		mode = bucketdb.Reader
	case opts.newDB:
		mode = bucketdb.NewDB
	}

	db, err := bucketdb.Open(bucketdb.Options{
		Path:          opts.dbPath,
		Mode:          mode,
		BlockSize:     opts.blockSize,
		NoLock:        opts.noLock,
		NoMmap:        opts.noMmap,
		Sync:          opts.syncMode && !opts.reader,
		NumSyncFormat: opts.numSync,
	})
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	sh := &shell{db: db, out: os.Stdout}

	if flags.NArg() > 0 {
		return sh.dispatch(flags.Args())
	}

	return sh.repl()
}

// shell executes commands against one open handle.
type shell struct {
	db  *bucketdb.DB
	out *os.File
}

// repl reads commands with line editing and history until quit or EOF.
func (sh *shell) repl() error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), ".bucketdb_history")
	if home, err := os.UserHomeDir(); err == nil {
		historyPath = filepath.Join(home, ".bucketdb_history")
	}

	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		input, err := line.Prompt("bucketdb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}

			// EOF ends the session.
			return nil
		}

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		line.AppendHistory(input)

		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}

		if err := sh.dispatch(fields); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// dispatch runs one command.
func (sh *shell) dispatch(args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "store", "insert":
		return sh.store(rest, bucketdb.Insert)
	case "replace":
		return sh.store(rest, bucketdb.Replace)
	case "fetch", "get":
		return sh.fetch(rest)
	case "exists":
		return sh.exists(rest)
	case "delete", "del":
		return sh.delete(rest)
	case "first":
		return sh.first()
	case "next":
		return sh.next(rest)
	case "list", "ls":
		return sh.list()
	case "count":
		return sh.count()
	case "sync":
		return sh.db.Sync()
	case "reorganize":
		return sh.db.Reorganize()
	case "snapshot":
		return sh.snapshot(rest)
	case "latest":
		return sh.latest(rest)
	case "recover":
		return sh.recover(rest)
	case "convert":
		return sh.convert(rest)
	case "status", "header":
		return sh.status()
	case "cache":
		return sh.cacheStats()
	case "avail":
		return sh.db.VerifyAvail()
	case "help":
		fmt.Fprintln(sh.out, commandHelp())

		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func need(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}

	return nil
}

func (sh *shell) store(args []string, mode bucketdb.StoreMode) error {
	if err := need(args, 2, "store|replace KEY VALUE"); err != nil {
		return err
	}

	return sh.db.Store([]byte(args[0]), []byte(args[1]), mode)
}

func (sh *shell) fetch(args []string) error {
	if err := need(args, 1, "fetch KEY"); err != nil {
		return err
	}

	val, err := sh.db.Fetch([]byte(args[0]))
	if err != nil {
		return err
	}

	fmt.Fprintf(sh.out, "%s\n", val)

	return nil
}

func (sh *shell) exists(args []string) error {
	if err := need(args, 1, "exists KEY"); err != nil {
		return err
	}

	ok, err := sh.db.Exists([]byte(args[0]))
	if err != nil {
		return err
	}

	fmt.Fprintln(sh.out, ok)

	return nil
}

func (sh *shell) delete(args []string) error {
	if err := need(args, 1, "delete KEY"); err != nil {
		return err
	}

	return sh.db.Delete([]byte(args[0]))
}

func (sh *shell) first() error {
	key, err := sh.db.FirstKey()
	if err != nil {
		return err
	}

	fmt.Fprintf(sh.out, "%s\n", key)

	return nil
}

func (sh *shell) next(args []string) error {
	if err := need(args, 1, "next KEY"); err != nil {
		return err
	}

	key, err := sh.db.NextKey([]byte(args[0]))
	if err != nil {
		return err
	}

	fmt.Fprintf(sh.out, "%s\n", key)

	return nil
}

func (sh *shell) list() error {
	key, err := sh.db.FirstKey()

	for err == nil {
		var val []byte

		val, err = sh.db.Fetch(key)
		if err != nil {
			return err
		}

		fmt.Fprintf(sh.out, "%s\t%s\n", key, val)

		key, err = sh.db.NextKey(key)
	}

	if errors.Is(err, bucketdb.ErrItemNotFound) {
		return nil
	}

	return err
}

func (sh *shell) count() error {
	n, err := sh.db.Count()
	if err != nil {
		return err
	}

	fmt.Fprintln(sh.out, n)

	return nil
}

func (sh *shell) snapshot(args []string) error {
	if err := need(args, 2, "snapshot EVEN ODD"); err != nil {
		return err
	}

	return sh.db.SetFailureAtomic(args[0], args[1])
}

func (sh *shell) latest(args []string) error {
	if err := need(args, 2, "latest EVEN ODD"); err != nil {
		return err
	}

	pick, verdict, err := bucketdb.LatestSnapshot(args[0], args[1])

	switch verdict {
	case bucketdb.SnapshotOK:
		fmt.Fprintf(sh.out, "%s\n", pick)

		return nil
	case bucketdb.SnapshotSuspicious:
		fmt.Fprintf(sh.out, "%s (suspicious: sync counters not consecutive)\n", pick)

		return nil
	default:
		return err
	}
}

func (sh *shell) recover(args []string) error {
	opts := bucketdb.RecoverOptions{
		Verbose: func(format string, a ...any) {
			fmt.Fprintf(os.Stderr, "recover: "+format+"\n", a...)
		},
	}

	for _, a := range args {
		switch a {
		case "backup":
			opts.Backup = true
		case "force":
			opts.Force = true
		default:
			return fmt.Errorf("usage: recover [backup] [force]")
		}
	}

	stat, err := bucketdb.Recover(sh.db, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(sh.out, "recovered %d keys in %d buckets (%d failed keys, %d failed buckets, %d duplicates)\n",
		stat.RecoveredKeys, stat.RecoveredBuckets, stat.FailedKeys, stat.FailedBuckets, stat.DuplicateKeys)

	if stat.BackupName != "" {
		fmt.Fprintf(sh.out, "backup: %s\n", stat.BackupName)
	}

	return nil
}

func (sh *shell) convert(args []string) error {
	if err := need(args, 1, "convert standard|numsync"); err != nil {
		return err
	}

	switch args[0] {
	case "standard":
		return sh.db.Convert(bucketdb.Standard)
	case "numsync":
		return sh.db.Convert(bucketdb.NumSync)
	default:
		return fmt.Errorf("unknown format %q", args[0])
	}
}

func (sh *shell) status() error {
	format := "standard"
	if sh.db.DBFormat() == bucketdb.NumSync {
		format = "numsync"
	}

	n, err := sh.db.Count()
	if err != nil {
		return err
	}

	fmt.Fprintf(sh.out, "database: %s\nformat:   %s\nkeys:     %d\n", sh.db.Path(), format, n)

	if sh.db.DBFormat() == bucketdb.NumSync {
		fmt.Fprintf(sh.out, "numsync:  %d\n", sh.db.NumSyncCount())
	}

	return nil
}

func (sh *shell) cacheStats() error {
	stats := sh.db.CacheStats()

	fmt.Fprintf(sh.out, "capacity: %d\nresident: %d\naccesses: %d\nhits:     %d\n",
		stats.Size, stats.Entries, stats.Accesses, stats.Hits)

	return nil
}
