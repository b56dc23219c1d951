package migrator

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change.
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.*)$`)
)

// Parse builds a Migration from a file name and its contents. Directives
// are read from the header comments that follow the Up marker; everything
// else after the marker is the SQL body.
func Parse(name string, content []byte) (Migration, error) {
	base := path.Base(name)
	m := filenameRegex.FindStringSubmatch(base)
	if m == nil {
		return Migration{}, fmt.Errorf("invalid migration filename %s (expected NNN_name.sql)", base)
	}
	version, _ := strconv.Atoi(m[1])

	mig := Migration{Version: version, Name: m[2]}
	lines := strings.Split(string(content), "\n")

	marker := -1
	for i, line := range lines {
		if sm := upMarkerRegex.FindStringSubmatch(strings.TrimSpace(line)); sm != nil {
			marker = i
			mig.NoTransaction = strings.TrimSpace(sm[1]) == "notransaction"
			break
		}
	}
	if marker < 0 {
		return Migration{}, fmt.Errorf("%s: missing '-- +migrate Up' marker", base)
	}

	var body []string
	inHeader := true
	for _, raw := range lines[marker+1:] {
		line := strings.TrimSpace(raw)
		if inHeader {
			if sm := dependsRegex.FindStringSubmatch(line); sm != nil {
				deps, err := parseDependencies(sm[1])
				if err != nil {
					return Migration{}, fmt.Errorf("%s: %w", base, err)
				}
				mig.Dependencies = append(mig.Dependencies, deps...)
				continue
			}
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			inHeader = false
		}
		body = append(body, raw)
	}

	mig.UpSQL = strings.TrimSpace(strings.Join(body, "\n"))
	if mig.UpSQL == "" {
		return Migration{}, fmt.Errorf("%s: no SQL statements", base)
	}
	return mig, nil
}

func parseDependencies(list string) ([]int, error) {
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty dependency list")
	}
	deps := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency version %q", f)
		}
		deps = append(deps, v)
	}
	return deps, nil
}

// Load reads every NNN_name.sql file at the root of fsys and returns the
// migrations in version order. Versions must start at 1 without gaps and
// dependencies must name existing, earlier versions.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}
		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		mig, err := Parse(entry.Name(), content)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, mig)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, mig := range migrations {
		if i > 0 && mig.Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", mig.Version)
		}
		if mig.Version != i+1 {
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", i+1, mig.Version)
		}
	}

	for _, mig := range migrations {
		for _, dep := range mig.Dependencies {
			switch {
			case dep == mig.Version:
				return nil, fmt.Errorf("migration %d depends on itself", mig.Version)
			case dep > mig.Version:
				return nil, fmt.Errorf("migration %d depends on later version %d", mig.Version, dep)
			case dep < 1:
				return nil, fmt.Errorf("migration %d depends on non-existent version %d", mig.Version, dep)
			}
		}
	}

	return migrations, nil
}
