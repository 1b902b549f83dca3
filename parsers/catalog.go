package parsers

import "sync"

// Catalog lists the well-known taint sources, sinks and sanitizers of one
// language. The engine's taint rules add their own patterns on top; the
// catalog is what lets parsers mark sanitized assignments at build time.
type Catalog struct {
	Sources    map[string]struct{}
	Sinks      map[string]struct{}
	Sanitizers map[string]struct{}
}

var (
	catalogMu sync.RWMutex
	catalogs  = map[string]*Catalog{
		LangPython: {
			Sources: set(
				"input",
				"sys.stdin.readline",
				"request.args", "request.args.get",
				"request.form", "request.form.get",
				"request.values", "request.values.get",
				"flask.request.args", "flask.request.args.get",
				"flask.request.form", "flask.request.form.get",
				"flask.request.values", "flask.request.values.get",
				"os.environ.get",
			),
			Sinks: set(
				"eval", "exec",
				"os.system", "os.popen",
				"os.execv", "os.execve", "os.execvp", "os.execvpe",
				"os.execl", "os.execle", "os.execlp", "os.execlpe",
				"subprocess.call", "subprocess.run", "subprocess.Popen",
				"subprocess.check_call", "subprocess.check_output",
				"cursor.execute", "sqlite3.Cursor.execute",
			),
			Sanitizers: set(
				"sanitize", "clean", "escape",
				"html.escape", "bleach.clean",
				"shlex.quote", "urllib.parse.quote",
			),
		},
		LangJavaScript: {
			Sources: set(
				"prompt", "process.argv", "process.env",
				"req.query", "req.body", "req.params",
				"document.location", "location.search",
			),
			Sinks: set(
				"eval", "Function",
				"child_process.exec", "child_process.execSync",
				"child_process.spawn",
				"document.write", "element.innerHTML", "res.send",
			),
			Sanitizers: set(
				"encodeURIComponent", "escape", "sanitize",
				"DOMPurify.sanitize", "validator.escape",
			),
		},
		LangGo: {
			Sources: set(
				"os.Getenv", "os.Args",
				"r.URL.Query", "r.FormValue", "r.PostFormValue",
				"bufio.NewReader",
			),
			Sinks: set(
				"exec.Command", "exec.CommandContext",
				"os.StartProcess", "syscall.Exec",
				"db.Query", "db.Exec", "fmt.Fprintf",
			),
			Sanitizers: set(
				"html.EscapeString", "url.QueryEscape",
				"filepath.Clean", "template.HTMLEscapeString",
			),
		},
	}
)

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// ExtendCatalog adds entries at process start-up. The catalog is treated
// as immutable once the first rule evaluation begins.
func ExtendCatalog(language string, sources, sinks, sanitizers []string) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	c, ok := catalogs[language]
	if !ok {
		c = &Catalog{Sources: set(), Sinks: set(), Sanitizers: set()}
		catalogs[language] = c
	}
	for _, s := range sources {
		c.Sources[s] = struct{}{}
	}
	for _, s := range sinks {
		c.Sinks[s] = struct{}{}
	}
	for _, s := range sanitizers {
		c.Sanitizers[s] = struct{}{}
	}
}

func catalogHas(language, name string, field func(*Catalog) map[string]struct{}) bool {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	c, ok := catalogs[language]
	if !ok {
		return false
	}
	_, found := field(c)[name]
	return found
}

// IsSource reports whether name is a catalogued taint source.
func IsSource(language, name string) bool {
	return catalogHas(language, name, func(c *Catalog) map[string]struct{} { return c.Sources })
}

// IsSink reports whether name is a catalogued dangerous sink.
func IsSink(language, name string) bool {
	return catalogHas(language, name, func(c *Catalog) map[string]struct{} { return c.Sinks })
}

// IsSanitizer reports whether name neutralises taint.
func IsSanitizer(language, name string) bool {
	return catalogHas(language, name, func(c *Catalog) map[string]struct{} { return c.Sanitizers })
}
