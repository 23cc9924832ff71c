package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"kitegraph/graphdb"
)

// replState holds the state of the REPL
type replState struct {
	config    graphdb.Config
	store     *graphdb.Store
	exec      *Executor
	dbName    string
	dbDir     string
	out       io.Writer
	logger    *logrus.Logger
	stmtNum   int
	isRunning bool
}

// newReplState initializes the REPL state
func newReplState(cfg graphdb.Config, dbDir string, out io.Writer, logger *logrus.Logger) *replState {
	return &replState{
		config:    cfg,
		dbDir:     dbDir,
		out:       out,
		logger:    logger,
		isRunning: true,
	}
}

func (rs *replState) log() *logrus.Entry {
	return rs.logger.WithField("component", "Main")
}

// dbPath maps a database name to its location for the configured backend.
func (rs *replState) dbPath(dbName string) string {
	switch rs.config.Backend {
	case graphdb.BackendBadger:
		return filepath.Join(rs.dbDir, dbName+".badger")
	default:
		return filepath.Join(rs.dbDir, dbName+".db")
	}
}

func (rs *replState) openDB(dbName string, mode graphdb.OpenOptions) error {
	rs.closeDB()
	store, err := graphdb.Open(rs.dbPath(dbName), mode,
		graphdb.WithConfig(rs.config), graphdb.WithLogger(rs.logger))
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", dbName, err)
	}
	rs.store = store
	rs.exec = NewExecutor(store, rs.out, rs.logger.WithField("db", dbName))
	rs.dbName = dbName
	rs.log().Infof("Using database: %s", dbName)
	return nil
}

func (rs *replState) closeDB() {
	if rs.store == nil {
		return
	}
	rs.exec.Close()
	if err := rs.store.Close(); err != nil {
		rs.log().WithError(err).Warn("Failed to close database")
	}
	rs.store, rs.exec, rs.dbName = nil, nil, ""
}

func (rs *replState) exists(dbName string) bool {
	_, err := os.Stat(rs.dbPath(dbName))
	return err == nil
}

// createDatabase creates a new, empty database
func (rs *replState) createDatabase(dbName string) error {
	if rs.config.Backend == graphdb.BackendMemory {
		return rs.openDB(dbName, graphdb.OpenCreate)
	}
	if err := os.MkdirAll(rs.dbDir, 0o755); err != nil {
		return fmt.Errorf("failed to create databases directory: %w", err)
	}
	if rs.exists(dbName) {
		return fmt.Errorf("database %s already exists", dbName)
	}
	if err := rs.openDB(dbName, graphdb.OpenCreate); err != nil {
		return err
	}
	rs.log().Infof("Created database: %s", dbName)
	return nil
}

// useDatabase switches to the specified database
func (rs *replState) useDatabase(dbName string) error {
	if rs.config.Backend != graphdb.BackendMemory && !rs.exists(dbName) {
		return fmt.Errorf("database %s does not exist", dbName)
	}
	return rs.openDB(dbName, graphdb.OpenNone)
}

// showDatabases lists all databases
func (rs *replState) showDatabases() ([]string, error) {
	entries, err := os.ReadDir(rs.dbDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read databases directory: %w", err)
	}
	var dbs []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case !entry.IsDir() && strings.HasSuffix(name, ".db"):
			dbs = append(dbs, strings.TrimSuffix(name, ".db"))
		case entry.IsDir() && strings.HasSuffix(name, ".badger"):
			dbs = append(dbs, strings.TrimSuffix(name, ".badger"))
		}
	}
	sort.Strings(dbs)
	return dbs, nil
}

// dropDatabase deletes the specified database
func (rs *replState) dropDatabase(dbName string) error {
	if !rs.exists(dbName) {
		return fmt.Errorf("database %s does not exist", dbName)
	}
	if rs.dbName == dbName {
		rs.closeDB()
	}
	path := rs.dbPath(dbName)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", dbName, err)
	}
	if err := os.Remove(path + ".wal"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to drop database %s: %w", dbName, err)
	}
	rs.log().Infof("Dropped database: %s", dbName)
	return nil
}

// printHelp displays the help message
func (rs *replState) printHelp() {
	fmt.Fprintln(rs.out, `KiteGraph REPL Commands:
  .help                               Show this help message
  .exit                               Exit the REPL
  CREATE DATABASE <name>              Create a new database and use it
  USE DATABASE <name>                 Switch to the specified database
  SHOW DATABASES                      List all databases
  DROP DATABASE <name>                Delete the specified database
Statements (each runs in its own transaction unless BEGIN was issued):
  BEGIN [EXCLUSIVE|SHARED|READONLY]   Open an explicit transaction
  COMMIT | ABORT                      Finish the explicit transaction
  ADD NODE [tag]                      Create a node
  ADD EDGE <src> <dst> [tag]          Create an edge between two nodes
  SET NODE|EDGE <id> <key> <value>    Set a property (string, number, true, false, null)
  GET NODE|EDGE <id> <key>            Read a property
  UNSET NODE|EDGE <id> <key>          Remove a property
  REMOVE NODE|EDGE <id>               Remove an element (a node takes its edges along)
  SHOW NODES [tag] | SHOW EDGES [tag] List elements
  SHOW PROPS NODE|EDGE <id>           List the properties of an element
  SHOW NEIGHBORS <id> [OUT|IN|ANY] [tag]
  FIND NODES|EDGES [tag] WHERE <key> <op> <value> | WHERE <key> EXISTS
  DUMP                                Print the whole graph
  IMPORT "<file>"                     Load a GraphSON document
  STATS                               Show store statistics`)
}

// processCommand processes a REPL command or statement
func (rs *replState) processCommand(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	if strings.HasPrefix(input, ".") || strings.EqualFold(input, "quit") {
		switch strings.ToLower(input) {
		case ".help":
			rs.printHelp()
			return nil
		case ".exit", "quit":
			rs.isRunning = false
			return nil
		default:
			return fmt.Errorf("unknown command: %s; type '.help' for assistance", input)
		}
	}

	fields := strings.Fields(input)
	if len(fields) >= 2 && strings.EqualFold(fields[1], "database") || strings.EqualFold(input, "show databases") {
		return rs.databaseCommand(fields)
	}

	if rs.store == nil {
		return fmt.Errorf("no database selected; use 'USE DATABASE <name>'")
	}
	rs.stmtNum++
	log := rs.log().WithFields(logrus.Fields{"statement": input, "stmt_num": rs.stmtNum})
	stmt, err := ParseStatement(input)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	log.Debug("Executing statement")
	if err := rs.exec.Execute(ctx, stmt); err != nil {
		log.WithError(err).Debug("Statement failed")
		return err
	}
	return nil
}

// checkDatabaseName keeps database names inside the databases directory.
func checkDatabaseName(name string) error {
	if name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) ||
		filepath.Base(name) != name || filepath.IsAbs(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	return nil
}

func (rs *replState) databaseCommand(fields []string) error {
	verb := strings.ToUpper(fields[0])
	if verb == "SHOW" {
		dbs, err := rs.showDatabases()
		if err != nil {
			return err
		}
		if len(dbs) == 0 {
			fmt.Fprintln(rs.out, "No databases found")
			return nil
		}
		fmt.Fprintln(rs.out, "Databases:")
		for _, db := range dbs {
			fmt.Fprintf(rs.out, "  %s\n", db)
		}
		return nil
	}
	if len(fields) != 3 {
		return fmt.Errorf("database name required")
	}
	if err := checkDatabaseName(fields[2]); err != nil {
		return err
	}
	switch verb {
	case "CREATE":
		return rs.createDatabase(fields[2])
	case "USE":
		return rs.useDatabase(fields[2])
	case "DROP":
		return rs.dropDatabase(fields[2])
	}
	return fmt.Errorf("unknown database command %q", fields[0])
}

func (rs *replState) prompt() string {
	prompt := "kitegraph"
	if rs.dbName != "" {
		prompt = fmt.Sprintf("kitegraph(%s)", rs.dbName)
	}
	if rs.exec != nil && rs.exec.InTransaction() {
		prompt += "*"
	}
	return color.GreenString(prompt) + "> "
}

// runREPL runs the REPL loop
func (rs *replState) runREPL(ctx context.Context, in io.Reader) {
	rs.log().Info("Starting KiteGraph REPL")
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(rs.out, "Welcome to KiteGraph. Type '.help' for commands or 'quit' to exit.")

	for rs.isRunning {
		fmt.Fprint(rs.out, rs.prompt())
		if !scanner.Scan() {
			break
		}
		if err := rs.processCommand(ctx, scanner.Text()); err != nil {
			fmt.Fprintf(rs.out, "%s %v\n", color.RedString("Error:"), err)
		}
	}

	rs.closeDB()
	fmt.Fprintln(rs.out, "Goodbye!")
}

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	dbDir := flag.String("dir", "databases", "directory holding the databases")
	backend := flag.String("backend", "", "storage backend: pagefile, badger or memory")
	flag.Parse()

	cfg := graphdb.DefaultConfig()
	if *configPath != "" {
		loaded, err := graphdb.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.Backend = graphdb.BackendKind(*backend)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// Validate has already checked the level.
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)

	rs := newReplState(cfg, *dbDir, os.Stdout, logger)
	rs.runREPL(context.Background(), os.Stdin)
}
