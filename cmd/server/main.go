package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/events"
	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

var (
	port           int
	configPath     string
	dataDir        string
	tempDir        string
	toolDir        string
	interpreter    string
	cores          int
	allowedOrigins string
	watch          bool
)

func init() {
	flag.IntVar(&port, "port", getEnvIntOrDefault("AUDFPRINT_PORT", 8080), "HTTP server port")
	flag.StringVar(&configPath, "config", getEnvOrDefault("AUDFPRINT_CONFIG", ""), "YAML config file")
	flag.StringVar(&dataDir, "data", getEnvOrDefault("AUDFPRINT_DATA_DIR", "audfprint-data"), "Data root")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("AUDFPRINT_TEMP_DIR", os.TempDir()), "Temporary directory")
	flag.StringVar(&toolDir, "tool", getEnvOrDefault("AUDFPRINT_TOOL_DIR", ""), "Directory containing audfprint.py")
	flag.StringVar(&interpreter, "python", getEnvOrDefault("AUDFPRINT_PYTHON", "python3"), "Python interpreter")
	flag.IntVar(&cores, "cores", getEnvIntOrDefault("AUDFPRINT_CORES", 0), "Worker count passed to the tool")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&watch, "watch", true, "Re-list artifacts when the managed directories change")
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

func main() {
	flag.Parse()

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	// Log lines reach the event stream as well as stderr.
	bus := events.NewBus()
	logger.AddHook(func(level logger.LogLevel, line string) {
		bus.Publish(events.Log, LogEntry{Level: level.String(), Line: line})
	})

	var opts []audfprint.Option
	if configPath != "" {
		fc, err := audfprint.LoadConfigFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		opts = append(opts, fc.Options()...)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	use := func(name string) bool { return configPath == "" || set[name] }

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

	service, err := audfprint.NewService(append(opts, audfprint.WithBus(bus))...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Progress is published on installationStatus.
	go service.CheckEnvironment(ctx)

	config := &ServerConfig{
		Port:           port,
		DataDir:        service.Layout().Root,
		AllowedOrigins: origins,
		Watch:          watch,
	}

	server := NewServer(service, bus, config)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
