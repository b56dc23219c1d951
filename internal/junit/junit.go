// Package junit reads JUnit XML test reports into test results.
package junit

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/livinlefevreloca/ghareport/internal/db"
)

// ErrNoSuites is returned for XML that holds neither testsuites nor
// testsuite.
var ErrNoSuites = errors.New("junit: no test suites found")

type testSuites struct {
	Suites []testSuite `xml:"testsuite"`
}

type testSuite struct {
	Name   string      `xml:"name,attr"`
	Suites []testSuite `xml:"testsuite"`
	Cases  []testCase  `xml:"testcase"`
}

type testCase struct {
	Name      string    `xml:"name,attr"`
	ClassName string    `xml:"classname,attr"`
	Time      string    `xml:"time,attr"`
	Failures  []message `xml:"failure"`
	Errors    []message `xml:"error"`
	Skipped   *message  `xml:"skipped"`
}

type message struct {
	Message string `xml:"message,attr"`
}

// Options controls how test case names are built
type Options struct {
	// Prefix test names with the class name, "Class.name"
	QualifyNames bool
}

// Parse reads one JUnit document and returns a result per test case for
// jobID. A test case repeated in the document keeps its worst outcome.
func Parse(r io.Reader, jobID int64, opts Options) ([]db.TestResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read junit report: %w", err)
	}

	suites, err := decode(data)
	if err != nil {
		return nil, err
	}

	var results []db.TestResult
	index := make(map[string]int)
	var walk func(s testSuite) error
	walk = func(s testSuite) error {
		for _, c := range s.Cases {
			res, err := toResult(c, jobID, opts)
			if err != nil {
				return err
			}
			if i, ok := index[res.Name]; ok {
				if severity(res.Result) > severity(results[i].Result) {
					results[i] = res
				}
				continue
			}
			index[res.Name] = len(results)
			results = append(results, res)
		}
		for _, nested := range s.Suites {
			if err := walk(nested); err != nil {
				return err
			}
		}
		return nil
	}

	for _, s := range suites {
		if err := walk(s); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ParseFile parses the JUnit report at path
func ParseFile(path string, jobID int64, opts Options) ([]db.TestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	results, err := Parse(f, jobID, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return results, nil
}

func decode(data []byte) ([]testSuite, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil, ErrNoSuites
		}
		if err != nil {
			return nil, fmt.Errorf("parse junit report: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "testsuites":
			var doc testSuites
			if err := decoder.DecodeElement(&doc, &start); err != nil {
				return nil, fmt.Errorf("parse junit report: %w", err)
			}
			return doc.Suites, nil
		case "testsuite":
			var suite testSuite
			if err := decoder.DecodeElement(&suite, &start); err != nil {
				return nil, fmt.Errorf("parse junit report: %w", err)
			}
			return []testSuite{suite}, nil
		default:
			return nil, ErrNoSuites
		}
	}
}

func toResult(c testCase, jobID int64, opts Options) (db.TestResult, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return db.TestResult{}, fmt.Errorf("parse junit report: test case without name")
	}
	if opts.QualifyNames && c.ClassName != "" {
		name = c.ClassName + "." + name
	}

	var ms int64
	if c.Time != "" {
		seconds, err := strconv.ParseFloat(strings.ReplaceAll(c.Time, ",", ""), 64)
		if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return db.TestResult{}, fmt.Errorf("parse junit report: invalid time %q for %s", c.Time, name)
		}
		ms = int64(math.Round(seconds * 1000))
	}

	result := db.ResultPassed
	switch {
	case len(c.Failures) > 0 || len(c.Errors) > 0:
		result = db.ResultFailed
	case c.Skipped != nil:
		result = db.ResultSkipped
	}

	return db.TestResult{
		JobID:      jobID,
		Name:       name,
		DurationMS: ms,
		Result:     result,
	}, nil
}

func severity(result string) int {
	switch result {
	case db.ResultFailed:
		return 2
	case db.ResultPassed:
		return 1
	default:
		return 0
	}
}
