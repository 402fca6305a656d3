package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/events"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

// Global flags
var (
	configPath  string
	dataDir     string
	tempDir     string
	toolDir     string
	interpreter string
	cores       int
	maxMatches  int
	quiet       bool
)

// envFlags maps global flags to the environment variables that default them.
var envFlags = map[string]string{
	"data":        "AUDFPRINT_DATA_DIR",
	"temp":        "AUDFPRINT_TEMP_DIR",
	"tool":        "AUDFPRINT_TOOL_DIR",
	"python":      "AUDFPRINT_PYTHON",
	"cores":       "AUDFPRINT_CORES",
	"max-matches": "AUDFPRINT_MAX_MATCHES",
}

func init() {
	flag.StringVar(&configPath, "config", getEnvOrDefault("AUDFPRINT_CONFIG", ""), "YAML config file")
	flag.StringVar(&dataDir, "data", getEnvOrDefault("AUDFPRINT_DATA_DIR", "audfprint-data"), "Data root holding precompute/ and databases/")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("AUDFPRINT_TEMP_DIR", os.TempDir()), "Directory for per-run precompute output")
	flag.StringVar(&toolDir, "tool", getEnvOrDefault("AUDFPRINT_TOOL_DIR", ""), "Directory containing audfprint.py")
	flag.StringVar(&interpreter, "python", getEnvOrDefault("AUDFPRINT_PYTHON", "python3"), "Python interpreter")
	flag.IntVar(&cores, "cores", getEnvIntOrDefault("AUDFPRINT_CORES", 0), "Worker count passed to the tool (0 = all CPUs)")
	flag.IntVar(&maxMatches, "max-matches", getEnvIntOrDefault("AUDFPRINT_MAX_MATCHES", 0), "Matches reported per query (0 = tool default)")
	flag.BoolVar(&quiet, "quiet", false, "Do not echo tool output")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

// createService builds the service from the config file, then from flags
// given on the command line or through the environment.
func createService(bus *events.Bus) (audfprint.Service, error) {
	var opts []audfprint.Option
	if configPath != "" {
		fc, err := audfprint.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fc.Options()...)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	use := func(name string) bool {
		return configPath == "" || set[name] || os.Getenv(envFlags[name]) != ""
	}

	if use("data") {
		opts = append(opts, audfprint.WithDataDir(dataDir))
	}
	if use("temp") {
		opts = append(opts, audfprint.WithTempDir(tempDir))
	}
	if use("tool") && toolDir != "" {
		opts = append(opts, audfprint.WithToolDir(toolDir))
	}
	if use("python") {
		opts = append(opts, audfprint.WithInterpreter(interpreter))
	}
	if use("cores") && cores > 0 {
		opts = append(opts, audfprint.WithCores(cores))
	}
	if use("max-matches") && maxMatches > 0 {
		opts = append(opts, audfprint.WithMaxMatches(maxMatches))
	}

	return audfprint.NewService(append(opts, audfprint.WithBus(bus))...)
}

func main() {
	log := logger.GetLogger()
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	command, args := args[0], args[1:]
	if command == "help" {
		printUsage()
		return
	}
	log.Debugf("Executing command: %s", command)

	bus := events.NewBus()
	if !quiet {
		bus.Handle(printOutput)
	}

	svc, err := createService(bus)
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch command {
	case "check":
		err = handleCheck(ctx, svc)
	case "sources":
		err = handleSources(svc, args)
	case "analyze":
		err = handleAnalyze(ctx, svc, args)
	case "new":
		err = handleNew(ctx, svc, args)
	case "match":
		err = handleMatch(ctx, svc, args)
	case "list":
		err = handleList(ctx, svc, args)
	case "merge":
		err = handleMerge(ctx, svc, args)
	case "export":
		err = handleExport(ctx, svc, args)
	case "import":
		err = handleImport(ctx, svc, args)
	case "precompute":
		printEntries("analyses", svc.ListPrecompute())
	case "databases":
		printEntries("databases", svc.ListDatabases())
	case "matches":
		err = handleMatches(svc, args)
	case "history":
		err = handleHistory(svc, args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		svc.Close()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("\n❌ %s failed: %v\n", command, err)
		log.Errorf("%s failed: %v", command, err)
		svc.Close()
		os.Exit(1)
	}
}

// printOutput echoes tool output; error-class lines go to stderr.
func printOutput(ev events.Event) {
	if ev.Channel != events.Output {
		return
	}
	line, ok := ev.Data.(events.OutputLine)
	if !ok {
		return
	}
	if line.Error {
		fmt.Fprintln(os.Stderr, "  ", line.Line)
		return
	}
	fmt.Println("  ", line.Line)
}

func handleCheck(ctx context.Context, svc audfprint.Service) error {
	fmt.Println("🔧 Checking environment...")
	st, err := svc.CheckEnvironment(ctx)
	if err != nil {
		if st.InstallURL != "" {
			fmt.Printf("   Install Python from %s\n", st.InstallURL)
		}
		return err
	}
	fmt.Printf("✅ %s, audfprint %s\n", st.Interpreter, st.Version)
	return nil
}

func handleSources(svc audfprint.Service, args []string) error {
	cmd := flag.NewFlagSet("sources", flag.ExitOnError)
	types := cmd.String("types", "", "Comma-separated extensions (default .mp3,.wav,.flac)")
	levels := cmd.Int("levels", 0, "Leading path components to split off")
	cmd.Parse(args)
	if cmd.NArg() != 1 {
		return fmt.Errorf("usage: sources [--types list] [--levels n] <dir>")
	}

	listing := svc.ListSources(cmd.Arg(0), *types, *levels)
	fmt.Printf("\n📂 Found %d source file(s):\n", len(listing.Files))
	for i, f := range listing.Files {
		if *levels > 0 {
			fmt.Printf("%s  (%s)\n", listing.Filenames[i], f)
			continue
		}
		fmt.Println(f)
	}
	return nil
}

func handleAnalyze(ctx context.Context, svc audfprint.Service, args []string) error {
	cmd := flag.NewFlagSet("analyze", flag.ExitOnError)
	dir := cmd.String("dir", "", "Analyze every source under this directory")
	types := cmd.String("types", "", "Extensions used with --dir")
	n := cmd.Int("cores", 0, "Override the worker count")
	cmd.Parse(args)
	if cmd.NArg() == 0 && *dir == "" {
		return fmt.Errorf("usage: analyze [--dir d] [--types list] <file|url>...")
	}

	fmt.Println("🎵 Analyzing sources...")
	res, err := svc.Analyze(ctx, audfprint.AnalyzeRequest{
		Files: cmd.Args(),
		Dir:   *dir,
		Types: *types,
		Cores: *n,
	})
	if res != nil {
		printAnalyzeResult(res)
	}
	return err
}

func printAnalyzeResult(res *audfprint.AnalyzeResult) {
	fmt.Printf("\n✅ %d analysed, %d skipped, %d failed\n", len(res.Analyses), len(res.Skipped), len(res.Failed))
	for _, a := range res.Analyses {
		fmt.Printf("   %s\n", a)
	}
	for _, s := range res.Skipped {
		fmt.Printf("   skipped %s\n", s)
	}
	for _, f := range res.Failed {
		fmt.Printf("   failed  %s: %s\n", f.Path, f.Error)
	}
}

func handleNew(ctx context.Context, svc audfprint.Service, args []string) error {
	cmd := flag.NewFlagSet("new", flag.ExitOnError)
	name := cmd.String("name", "", "Database name (default: base name of --root)")
	root := cmd.String("root", "", "Scan this directory for sources")
	types := cmd.String("types", "", "Extensions used with --root")
	relative := cmd.Bool("relative", false, "Store paths relative to --root")
	levels := cmd.Int("levels", 0, "With --relative, leading components forming the working directory")
	n := cmd.Int("cores", 0, "Override the worker count")
	cmd.Parse(args)
	if cmd.NArg() == 0 && *root == "" {
		return fmt.Errorf("usage: new [--name n] [--root dir] [--relative] <file>...")
	}

	fmt.Println("🗄  Building database...")
	db, err := svc.StoreDatabase(ctx, audfprint.StoreDatabaseRequest{
		Name:     *name,
		Root:     *root,
		Files:    cmd.Args(),
		Types:    *types,
		Cores:    *n,
		Relative: *relative,
		Levels:   *levels,
	})
	if err != nil {
		return err
	}
	fmt.Printf("\n✅ Stored %s\n", db)
	return nil
}

func handleMatch(ctx context.Context, svc audfprint.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: match <database>")
	}
	fmt.Printf("🔍 Matching every analysis against %s...\n", args[0])
	if err := svc.MatchDatabase(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("\n✅ Match results recorded")
	return nil
}

func handleList(ctx context.Context, svc audfprint.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: list <database>")
	}
	lines, err := svc.ListDatabase(ctx, args[0])
	if err != nil {
		return err
	}
	if quiet {
		for _, l := range lines {
			fmt.Println(l)
		}
	}
	return nil
}

func handleMerge(ctx context.Context, svc audfprint.Service, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: merge <database> <incoming>...")
	}
	if err := svc.Merge(ctx, args[0], args[1:]...); err != nil {
		return err
	}
	fmt.Printf("\n✅ Merged %d database(s) into %s\n", len(args)-1, args[0])
	return nil
}

func handleExport(ctx context.Context, svc audfprint.Service, args []string) error {
	cmd := flag.NewFlagSet("export", flag.ExitOnError)
	kind := cmd.String("kind", "precompute", "precompute or databases")
	dest := cmd.String("to", "", "Destination directory")
	remove := cmd.Bool("remove", false, "Remove exported files without asking")
	keep := cmd.Bool("keep", false, "Keep exported files without asking")
	cmd.Parse(args)
	if *dest == "" {
		return fmt.Errorf("usage: export --to <dir> [--kind k] [--remove|--keep] [name]...")
	}

	confirm := func(exported []string) bool {
		switch {
		case *remove:
			return true
		case *keep:
			return false
		}
		return ask(fmt.Sprintf("Remove %d exported file(s) from %s?", len(exported), *kind))
	}

	res, err := svc.Export(ctx, audfprint.ExportRequest{
		Kind:    audfprint.Kind(*kind),
		Files:   cmd.Args(),
		Dest:    *dest,
		Confirm: confirm,
	})
	if err != nil {
		return err
	}
	fmt.Printf("\n✅ Exported %d file(s) to %s\n", len(res.Exported), *dest)
	if res.Removed {
		fmt.Println("   Originals removed")
	}
	for _, f := range res.Failed {
		fmt.Printf("   failed %s: %s\n", f.Path, f.Error)
	}
	return nil
}

func ask(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func handleImport(ctx context.Context, svc audfprint.Service, args []string) error {
	cmd := flag.NewFlagSet("import", flag.ExitOnError)
	kind := cmd.String("kind", "precompute", "precompute or databases")
	cmd.Parse(args)
	if cmd.NArg() == 0 {
		return fmt.Errorf("usage: import [--kind k] <file>...")
	}

	res, err := svc.Import(ctx, audfprint.ImportRequest{Kind: audfprint.Kind(*kind), Files: cmd.Args()})
	if err != nil {
		return err
	}
	fmt.Printf("\n✅ Imported %d file(s)\n", len(res.Imported))
	for _, f := range res.Failed {
		fmt.Printf("   failed %s: %s\n", f.Path, f.Error)
	}
	return nil
}

func printEntries(what string, entries []scanner.Entry) {
	if len(entries) == 0 {
		fmt.Printf("\n📭 No %s\n", what)
		return
	}
	fmt.Printf("\n📚 Found %d %s:\n\n", len(entries), what)
	for i, e := range entries {
		fmt.Printf("%d. %s\n   %s\n", i+1, e.Name, e.Path)
	}
}

func handleMatches(svc audfprint.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: matches <analysis>")
	}
	records, err := svc.MatchesFor(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("\n❌ No matches recorded")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func handleHistory(svc audfprint.Service, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}
	runs, err := svc.History(limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-8s %-7s %s", r.StartedAt.Format("2006-01-02 15:04:05"), r.Action, r.Status, r.Subject)
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func printUsage() {
	fmt.Println("audfprint - fingerprint analysis and database management")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --config <file>      YAML config (env: AUDFPRINT_CONFIG)")
	fmt.Println("  --data <dir>         Data root (env: AUDFPRINT_DATA_DIR, default: audfprint-data)")
	fmt.Println("  --temp <dir>         Temporary directory (env: AUDFPRINT_TEMP_DIR)")
	fmt.Println("  --tool <dir>         Directory containing audfprint.py (env: AUDFPRINT_TOOL_DIR)")
	fmt.Println("  --python <path>      Interpreter (env: AUDFPRINT_PYTHON, default: python3)")
	fmt.Println("  --cores <n>          Worker count (env: AUDFPRINT_CORES)")
	fmt.Println("  --max-matches <n>    Matches per query (env: AUDFPRINT_MAX_MATCHES)")
	fmt.Println("  --quiet              Do not echo tool output")
	fmt.Println("\nUsage:")
	fmt.Println("  audfprint [global-options] check")
	fmt.Println("  audfprint [global-options] sources [--types list] [--levels n] <dir>")
	fmt.Println("  audfprint [global-options] analyze [--dir d] [--types list] <file|url>...")
	fmt.Println("  audfprint [global-options] new [--name n] [--root dir] [--relative] [--levels n] <file>...")
	fmt.Println("  audfprint [global-options] match <database>")
	fmt.Println("  audfprint [global-options] list <database>")
	fmt.Println("  audfprint [global-options] merge <database> <incoming>...")
	fmt.Println("  audfprint [global-options] export --to <dir> [--kind k] [--remove|--keep] [name]...")
	fmt.Println("  audfprint [global-options] import [--kind k] <file>...")
	fmt.Println("  audfprint [global-options] precompute | databases")
	fmt.Println("  audfprint [global-options] matches <analysis>")
	fmt.Println("  audfprint [global-options] history [limit]")
	fmt.Println("\nExamples:")
	fmt.Println("  # Build a database from a music folder")
	fmt.Println("  audfprint new --root ~/Music/rock --relative")
	fmt.Println()
	fmt.Println("  # Analyze a clip and match it against every database")
	fmt.Println("  audfprint analyze clip.mp3")
	fmt.Println()
	fmt.Println("  # Analyze a YouTube video")
	fmt.Println("  audfprint analyze \"https://youtube.com/watch?v=dQw4w9WgXcQ\"")
}
