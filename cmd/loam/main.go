// Loam CLI
// Command-line access to a loam document store
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loamdb/loam/internal/logger"
	"github.com/loamdb/loam/pkg/document"
	"github.com/loamdb/loam/pkg/index"
	"github.com/loamdb/loam/pkg/query"
	"github.com/loamdb/loam/pkg/store"
)

var (
	dbPath   = flag.String("db", "loam.db", "Store base path")
	logLevel = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pretty   = flag.Bool("pretty", true, "Human-readable log output")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: loam [flags] <command> [args]

Commands:
  put [id]               Insert or replace a document (JSON object on stdin)
  get <id>               Print a document
  del <id>               Delete a document
  query <field> [flags]  Query by field value (see query -h)
  watch <field> [flags]  Query by field value and re-print after each
                         JSON document read from stdin is put
  compact                Rewrite the log down to the live set

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: *logLevel, Pretty: *pretty})
	st, err := store.Open(*dbPath, store.Options{Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	if err := run(st, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(st *store.Store, cmd string, args []string) error {
	switch cmd {
	case "put":
		return cmdPut(st, args)
	case "get":
		return cmdGet(st, args)
	case "del":
		return cmdDel(st, args)
	case "query":
		return cmdQuery(st, args)
	case "watch":
		return cmdWatch(st, args)
	case "compact":
		return st.Compact()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdPut(st *store.Store, args []string) error {
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	fields, err := readFields(os.Stdin)
	if err != nil {
		return err
	}
	id, err = st.Put(id, fields)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func cmdGet(st *store.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <id>")
	}
	doc, err := st.Get(args[0])
	if err != nil {
		return err
	}
	return printDoc(doc)
}

func cmdDel(st *store.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del <id>")
	}
	return st.Delete(args[0])
}

func cmdQuery(st *store.Store, args []string) error {
	desc, err := parseQuery(st, args)
	if err != nil {
		return err
	}
	results, err := st.Query(*desc)
	if err != nil {
		return err
	}
	for _, doc := range results {
		if err := printDoc(doc); err != nil {
			return err
		}
	}
	return nil
}

// cmdWatch subscribes to the query, then treats each stdin line as a JSON
// document to put, printing the result set after every delivery
func cmdWatch(st *store.Store, args []string) error {
	desc, err := parseQuery(st, args)
	if err != nil {
		return err
	}

	sub, err := st.Subscribe(*desc, func(results []*document.Document) {
		fmt.Printf("--- %d results\n", len(results))
		for _, doc := range results {
			_ = printDoc(doc)
		}
	})
	if err != nil {
		return err
	}
	defer st.Unsubscribe(sub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sigChan:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			var raw map[string]interface{}
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				fmt.Fprintf(os.Stderr, "bad document: %v\n", err)
				continue
			}
			fields := make(map[string]document.Value, len(raw))
			for name, v := range raw {
				fields[name] = document.ValueOf(v)
			}
			if _, err := st.Put("", fields); err != nil {
				fmt.Fprintf(os.Stderr, "put: %v\n", err)
			}
		}
	}
}

// parseQuery registers a single-field index and builds a descriptor from
// the query flags. Indexes live only for the process, so registering per
// invocation is cheap: the backfill is the cost of the scan anyway.
func parseQuery(st *store.Store, args []string) (*query.Descriptor, error) {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	key := fs.String("key", "", "Exact key match (JSON scalar)")
	low := fs.String("low", "", "Range lower bound, inclusive (JSON scalar)")
	high := fs.String("high", "", "Range upper bound, inclusive (JSON scalar)")
	desc := fs.Bool("desc", false, "Descending order")
	limit := fs.Int("limit", 0, "Maximum results (0 = unlimited)")

	if len(args) == 0 {
		return nil, fmt.Errorf("usage: query <field> [flags]")
	}
	field := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	if err := st.RegisterIndex(field, index.Field(field)); err != nil {
		return nil, err
	}

	d := &query.Descriptor{Index: field, Descending: *desc, Limit: *limit}
	if *key != "" {
		v, err := parseScalar(*key)
		if err != nil {
			return nil, err
		}
		d.Key = v
	}
	if *low != "" || *high != "" {
		r := &query.Range{}
		if *low != "" {
			v, err := parseScalar(*low)
			if err != nil {
				return nil, err
			}
			r.Low = v
		}
		if *high != "" {
			v, err := parseScalar(*high)
			if err != nil {
				return nil, err
			}
			r.High = v
		}
		d.Range = r
	}
	return d, nil
}

func parseScalar(s string) (*document.Value, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("bad key %q: %v", s, err)
	}
	v := document.ValueOf(raw)
	if !v.IsKey() {
		return nil, fmt.Errorf("key %q is not a scalar", s)
	}
	return &v, nil
}

func readFields(r *os.File) (map[string]document.Value, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("bad document: %v", err)
	}
	fields := make(map[string]document.Value, len(raw))
	for name, v := range raw {
		fields[name] = document.ValueOf(v)
	}
	return fields, nil
}

func printDoc(doc *document.Document) error {
	raw := make(map[string]interface{}, len(doc.Fields)+2)
	for name, v := range doc.Fields {
		raw[name] = v.Interface()
	}
	raw["_id"] = doc.ID
	raw["_rev"] = doc.Rev
	out, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
