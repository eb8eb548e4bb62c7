// Package datarecording keeps the records of a controller run in a SQLite
// file: the issued DRAM commands, the replies, the end-of-run statistics and
// the parameters the run used. Each record kind is a table whose columns are
// the fields of a flat struct.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/fatih/structs"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder stores records of a simulation run. Tracers attached to a
// controller insert one record per command or reply, and the controller adds
// its statistics when the run ends.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry. Creating the same table again with the same entry type
	// is a no-op.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers a record for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created so far.
	ListTables() []string

	// Flush writes all the buffered records into the database.
	Flush()
}

// flushThreshold is how many buffered records trigger a flush.
const flushThreshold = 100000

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New creates a DataRecorder that writes to path.sqlite3. An empty path picks
// a unique name. The file must not exist yet. Buffered records are flushed
// when the program exits through atexit.
func New(path string) DataRecorder {
	if path == "" {
		path = "rowarmor_" + xid.New().String()
	}

	r := &sqliteRecorder{
		filename: path + ".sqlite3",
		tables:   make(map[string]*recordTable),
	}
	r.open()

	atexit.Register(r.Flush)

	return r
}

type recordTable struct {
	entryType reflect.Type
	pending   []any
}

type sqliteRecorder struct {
	db       *sql.DB
	filename string
	tables   map[string]*recordTable
	pending  int
}

func (r *sqliteRecorder) open() {
	if _, err := os.Stat(r.filename); err == nil {
		panic(fmt.Errorf("file %s already exists", r.filename))
	}

	db, err := sql.Open("sqlite3", r.filename)
	if err != nil {
		panic(err)
	}

	// SQLite serializes writers; a second connection would only wait on
	// the file lock.
	db.SetMaxOpenConns(1)

	r.db = db

	fmt.Fprintf(os.Stderr, "Recording into %s\n", r.filename)
}

// columnType maps a field kind to the SQLite column affinity it is stored
// with. Kinds that do not fit in a single column are rejected.
func columnType(kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.String:
		return "TEXT", true
	default:
		return "", false
	}
}

func columnDefs(entryType reflect.Type) ([]string, error) {
	defs := make([]string, 0, entryType.NumField())

	for i := 0; i < entryType.NumField(); i++ {
		field := entryType.Field(i)
		if !field.IsExported() {
			continue
		}

		sqlType, ok := columnType(field.Type.Kind())
		if !ok {
			return nil, fmt.Errorf("field %s of %s cannot be stored in a column",
				field.Name, entryType.Name())
		}

		defs = append(defs, fmt.Sprintf("%q %s", field.Name, sqlType))
	}

	return defs, nil
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	entryType := reflect.TypeOf(sampleEntry)

	if existing, ok := r.tables[tableName]; ok {
		if existing.entryType != entryType {
			panic(fmt.Sprintf("table %s exists with another type", tableName))
		}

		return
	}

	if !tableNamePattern.MatchString(tableName) {
		panic(fmt.Sprintf("invalid table name %q", tableName))
	}

	if entryType == nil || entryType.Kind() != reflect.Struct {
		panic(fmt.Sprintf("table %s needs a struct entry", tableName))
	}

	defs, err := columnDefs(entryType)
	if err != nil {
		panic(err)
	}

	r.mustExec(fmt.Sprintf("CREATE TABLE %s (\n\t%s\n);",
		tableName, strings.Join(defs, ",\n\t")))

	r.tables[tableName] = &recordTable{entryType: entryType}
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) {
	t, ok := r.tables[tableName]
	if !ok {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.entryType {
		panic(fmt.Sprintf("table %s stores %s, not %T",
			tableName, t.entryType.Name(), entry))
	}

	t.pending = append(t.pending, entry)

	r.pending++
	if r.pending >= flushThreshold {
		r.Flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Flush writes the pending records of every table in one transaction.
func (r *sqliteRecorder) Flush() {
	if r.pending == 0 {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		panic(err)
	}

	for _, name := range r.ListTables() {
		t := r.tables[name]
		if len(t.pending) == 0 {
			continue
		}

		if err := insertAll(tx, name, t.pending); err != nil {
			_ = tx.Rollback()
			panic(err)
		}

		t.pending = nil
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	r.pending = 0
}

func insertAll(tx *sql.Tx, tableName string, entries []any) error {
	columns := structs.Names(entries[0])
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	stmt, err := tx.Prepare(
		"INSERT INTO " + tableName + " VALUES (" + marks + ")")
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(structs.Values(e)...); err != nil {
			return fmt.Errorf("insert into %s: %w", tableName, err)
		}
	}

	return nil
}

func (r *sqliteRecorder) mustExec(query string) {
	if _, err := r.db.Exec(query); err != nil {
		panic(fmt.Errorf("%s: %w", query, err))
	}
}
