package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/impex"
	"github.com/mnohosten/memdb/pkg/logger"
)

const (
	version = "0.1.0"
	banner  = `memdb shell v%s
Type 'help' for available commands, 'exit' to quit.

`
)

var errExit = errors.New("exit")

var commands = []string{
	"help", "exit", "quit", "use", "show", "insert", "find", "findone", "count",
	"distinct", "update", "remove", "aggregate", "createindex", "getindexes",
	"dropindex", "stats", "drop", "import", "export", "version",
}

// Shell runs commands against an embedded database
type Shell struct {
	db      *database.Database
	current string
	out     io.Writer
}

// NewShell creates a shell over db writing to out
func NewShell(db *database.Database, out io.Writer) *Shell {
	return &Shell{db: db, out: out}
}

func (s *Shell) prompt() string {
	if s.current != "" {
		return "memdb:" + s.current + "> "
	}
	return "memdb> "
}

// Run reads lines until exit or end of input
func (s *Shell) Run(line *liner.State) error {
	fmt.Fprintf(s.out, banner, version)

	for {
		input, err := line.Prompt(s.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if err := s.Execute(input); err != nil {
			if errors.Is(err, errExit) {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// complete offers command and collection names
func (s *Shell) complete(input string) []string {
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(input)) {
			out = append(out, c)
		}
	}
	if rest, ok := strings.CutPrefix(input, "use "); ok {
		for _, name := range s.db.CollectionNames() {
			if strings.HasPrefix(name, rest) {
				out = append(out, "use "+name)
			}
		}
	}
	return out
}

// Execute runs one command line. Commands act on the current collection;
// coll.method(args) names the collection inline.
func (s *Shell) Execute(input string) error {
	cmd, rest, _ := strings.Cut(input, " ")
	cmd = strings.ToLower(cmd)

	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, help)
		return nil
	case "exit", "quit":
		return errExit
	case "version":
		fmt.Fprintf(s.out, "memdb shell version %s\n", version)
		return nil
	case "use":
		name := strings.TrimSpace(rest)
		if name == "" {
			return fmt.Errorf("usage: use <collection>")
		}
		s.current = name
		fmt.Fprintf(s.out, "switched to collection %s\n", name)
		return nil
	case "show":
		return s.show(strings.TrimSpace(rest))
	}

	if i := strings.Index(input, "("); i > 0 && strings.HasSuffix(input, ")") && !strings.Contains(input[:i], " ") {
		if dot := strings.LastIndex(input[:i], "."); dot > 0 {
			args, err := parseArgs(input[i+1 : len(input)-1])
			if err != nil {
				return err
			}
			return s.run(s.db.Collection(input[:dot]), strings.ToLower(input[dot+1:i]), args)
		}
	}

	if s.current == "" {
		return fmt.Errorf("unknown command %q, or no collection selected (use <collection>)", cmd)
	}
	args, err := parseArgs(rest)
	if err != nil {
		return err
	}
	return s.run(s.db.Collection(s.current), cmd, args)
}

func (s *Shell) show(what string) error {
	switch what {
	case "collections", "colls":
		names := s.db.CollectionNames()
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(s.out, name)
		}
		return nil
	case "stats":
		return s.print(s.db.Stats())
	default:
		return fmt.Errorf("usage: show collections|stats")
	}
}

// run dispatches a collection method. args are extended JSON values.
func (s *Shell) run(coll *database.Collection, method string, args []*document.Value) error {
	switch method {
	case "insert", "insertone", "insertmany":
		var docs []*document.Document
		for _, a := range args {
			switch {
			case a.IsDocument():
				docs = append(docs, a.Document())
			case a.IsArray():
				for _, item := range a.Array() {
					if !item.IsDocument() {
						return fmt.Errorf("insert expects documents, got %s", item)
					}
					docs = append(docs, item.Document())
				}
			default:
				return fmt.Errorf("insert expects documents, got %s", a)
			}
		}
		if len(docs) == 0 {
			return fmt.Errorf("usage: insert <document>")
		}
		ids, err := coll.Insert(docs...)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "inserted %d document(s)\n", len(ids))
		return s.print(ids)

	case "find":
		docs, err := coll.Find(docArg(args, 0), &database.FindOptions{Projection: docArg(args, 1)})
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Fprintln(s.out, d.String())
		}
		fmt.Fprintf(s.out, "%d document(s)\n", len(docs))
		return nil

	case "findone":
		doc, err := coll.FindOne(docArg(args, 0), &database.FindOptions{Projection: docArg(args, 1)})
		if errors.Is(err, database.ErrNoDocuments) {
			fmt.Fprintln(s.out, "null")
			return nil
		}
		if err != nil {
			return err
		}
		return s.print(doc)

	case "count":
		n, err := coll.Count(docArg(args, 0), 0, 0)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, n)
		return nil

	case "distinct":
		if len(args) == 0 {
			return fmt.Errorf(`usage: distinct "field" [filter]`)
		}
		field, ok := args[0].StringValue()
		if !ok {
			return fmt.Errorf("distinct field must be a string")
		}
		values, err := coll.Distinct(field, docArg(args, 1))
		if err != nil {
			return err
		}
		return s.print(values)

	case "update":
		if len(args) < 2 {
			return fmt.Errorf("usage: update <filter> <update> [upsert] [multi]")
		}
		upsert := boolArg(args, 2)
		multi := boolArg(args, 3)
		res, err := coll.Update(docArg(args, 0), docArg(args, 1), upsert, multi)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "matched %d, modified %d\n", res.Matched, res.Modified)
		if res.UpsertedID != nil {
			fmt.Fprintf(s.out, "upserted %s\n", res.UpsertedID)
		}
		return nil

	case "remove", "delete":
		n, err := coll.Remove(docArg(args, 0), boolArg(args, 1))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "removed %d document(s)\n", n)
		return nil

	case "aggregate":
		var pipeline []*document.Document
		for _, a := range args {
			if a.IsArray() {
				for _, st := range a.Array() {
					pipeline = append(pipeline, st.Document())
				}
			} else {
				pipeline = append(pipeline, a.Document())
			}
		}
		docs, err := coll.Aggregate(pipeline)
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Fprintln(s.out, d.String())
		}
		return nil

	case "createindex", "ensureindex":
		key := docArg(args, 0)
		if key == nil {
			return fmt.Errorf("usage: createindex <key> [options]")
		}
		opts := database.IndexOptions{}
		if o := docArg(args, 1); o != nil {
			if v, ok := o.GetValue("unique"); ok {
				opts.Unique = v.Truthy()
			}
			if v, ok := o.GetValue("sparse"); ok {
				opts.Sparse = v.Truthy()
			}
			if v, ok := o.GetValue("name"); ok {
				opts.Name, _ = v.StringValue()
			}
		}
		name, err := coll.CreateIndex(key, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "created index %s\n", name)
		return nil

	case "getindexes":
		ns := s.db.Name() + "." + coll.Name()
		for _, info := range coll.Indexes() {
			fmt.Fprintln(s.out, info.ToDocument(ns).String())
		}
		return nil

	case "dropindex":
		if len(args) == 0 {
			return fmt.Errorf(`usage: dropindex "name"`)
		}
		name, _ := args[0].StringValue()
		if err := coll.DropIndex(name); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "dropped index %s\n", name)
		return nil

	case "stats":
		st := coll.Stats()
		return s.print(map[string]interface{}{
			"count":    st.Count,
			"size":     st.Size,
			"nindexes": st.Indexes,
		})

	case "import":
		path, ok := stringArg(args, 0)
		if !ok {
			return fmt.Errorf(`usage: import "file.json|.ndjson|.csv" [{"drop": true}]`)
		}
		drop := false
		if o := docArg(args, 1); o != nil {
			if v, ok := o.GetValue("drop"); ok {
				drop = v.Truthy()
			}
		}
		n, err := impex.ImportFile(s.db, coll.Name(), path, impex.Options{Drop: drop})
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "imported %d document(s) into %s\n", n, coll.Name())
		return nil

	case "export":
		path, ok := stringArg(args, 0)
		if !ok {
			return fmt.Errorf(`usage: export "file.json|.ndjson|.csv" [filter]`)
		}
		n, err := impex.ExportFile(s.db, coll.Name(), path, docArg(args, 1), impex.Options{Pretty: true})
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "exported %d document(s) to %s\n", n, path)
		return nil

	case "drop":
		if err := coll.Drop(); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "dropped %s\n", coll.Name())
		if s.current == coll.Name() {
			s.current = ""
		}
		return nil
	}
	return fmt.Errorf("unknown command %q (type 'help')", method)
}

func (s *Shell) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

// parseArgs reads extended JSON values separated by whitespace or commas
func parseArgs(input string) ([]*document.Value, error) {
	var args []*document.Value
	rest := input
	for {
		rest = strings.TrimLeft(rest, " \t,")
		if rest == "" {
			return args, nil
		}
		dec := json.NewDecoder(strings.NewReader(rest))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", rest, err)
		}
		v := new(document.Value)
		if err := v.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("invalid argument: %w", err)
		}
		args = append(args, v)
		rest = rest[dec.InputOffset():]
	}
}

func docArg(args []*document.Value, i int) *document.Document {
	if i < len(args) && args[i].IsDocument() {
		return args[i].Document()
	}
	return nil
}

func stringArg(args []*document.Value, i int) (string, bool) {
	if i < len(args) {
		return args[i].StringValue()
	}
	return "", false
}

func boolArg(args []*document.Value, i int) bool {
	return i < len(args) && args[i].Truthy()
}

const help = `Commands (act on the collection selected with 'use'):
  use <collection>                 switch collection
  show collections | stats         list collections or database stats
  insert <doc> [doc...]            insert documents (or an array of them)
  find [filter] [projection]       list matching documents
  findOne [filter] [projection]    first matching document
  count [filter]                   count matching documents
  distinct "field" [filter]        distinct values of a field
  update <filter> <update> [upsert] [multi]
  remove [filter] [justOne]
  aggregate [stage, ...]           run a pipeline
  createIndex <key> [options]      e.g. createIndex {"a": 1} {"unique": true}
  getIndexes | dropIndex "name"
  import "path" [{"drop": true}]   load .json, .ndjson or .csv (optionally .gz/.zst)
  export "path" [filter]           write matching documents, format from the extension
  stats | drop
  help | version | exit

The same methods can be called as <collection>.<method>(args), e.g.
  users.find({"age": {"$gte": 21}}, {"name": 1})
Arguments are extended JSON: {"$oid": ...}, {"$date": ...}, {"$numberLong": ...}.
`

var (
	dbName  string
	history string
)

var rootCmd = &cobra.Command{
	Use:          "memdb-shell",
	Short:        "Interactive shell over an in-memory document database",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		db := database.New(database.Config{Name: dbName, Logger: logger.Discard()})
		defer db.Close()
		shell := NewShell(db, os.Stdout)

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)
		line.SetCompleter(shell.complete)

		if history != "" {
			if f, err := os.Open(history); err == nil {
				line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.Create(history); err == nil {
					line.WriteHistory(f)
					f.Close()
				}
			}()
		}

		return shell.Run(line)
	},
}

func main() {
	home, _ := os.UserHomeDir()
	rootCmd.Flags().StringVar(&dbName, "db", "test", "database name")
	rootCmd.Flags().StringVar(&history, "history", filepath.Join(home, ".memdb_history"), "history file; empty disables")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
