package contract

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"apiprobe/internal/assert"
	"apiprobe/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Suite is one loaded test-case file.
type Suite struct {
	Name   string
	Source string
	Cases  []TestCase
}

// suiteDoc is the YAML shape of a suite file.
type suiteDoc struct {
	Suite     string            `yaml:"suite"`
	Variables map[string]string `yaml:"variables"`
	Cases     []caseDoc         `yaml:"cases"`
}

type caseDoc struct {
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Method         string            `yaml:"method"`
	URL            string            `yaml:"url"`
	Tags           []string          `yaml:"tags"`
	Skip           bool              `yaml:"skip"`
	Headers        map[string]string `yaml:"headers"`
	Params         map[string]string `yaml:"params"`
	Timeout        time.Duration     `yaml:"timeout"`
	Contract       *contractDoc      `yaml:"contract"`
	Mutations      []string          `yaml:"mutations"`
	ExpectedStatus int               `yaml:"expected_status"`
	Assertions     []assert.Spec     `yaml:"assertions"`
	DBAssertions   *assert.DBSpec    `yaml:"db_assertions"`
	Unauthed       bool              `yaml:"unauthed"`
}

type contractDoc struct {
	Schema       Schema                 `yaml:"schema"`
	ValidExample map[string]interface{} `yaml:"valid_example"`
}

// LoadSuites loads test-case files from path. A directory is walked
// recursively for .yaml/.yml files; suites are returned sorted by file
// path so run order is stable.
func LoadSuites(path string) ([]Suite, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := filepath.Ext(p)
			if ext == ".yaml" || ext == ".yml" {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	} else {
		files = []string{path}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no suite files found under %s", path)
	}

	var suites []Suite
	for _, file := range files {
		suite, err := loadSuiteFile(file)
		if err != nil {
			return nil, err
		}
		logging.Debug("Loader", "Loaded suite %s with %d cases from %s", suite.Name, len(suite.Cases), file)
		suites = append(suites, suite)
	}

	return suites, nil
}

func loadSuiteFile(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// The variables block is read first so the rest of the file can be
	// interpolated textually before the real decode.
	var header struct {
		Variables map[string]string `yaml:"variables"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return Suite{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	interpolated, err := interpolate(string(data), header.Variables)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}

	var doc suiteDoc
	if err := yaml.Unmarshal([]byte(interpolated), &doc); err != nil {
		return Suite{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	suite := Suite{Name: doc.Suite, Source: path}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	seen := make(map[string]bool)
	for i, cd := range doc.Cases {
		tc, err := cd.toTestCase()
		if err != nil {
			return Suite{}, fmt.Errorf("%s: case %d (%s): %w", path, i, cd.Name, err)
		}
		if seen[tc.Name] {
			return Suite{}, fmt.Errorf("%s: duplicate case name %q", path, tc.Name)
		}
		seen[tc.Name] = true
		suite.Cases = append(suite.Cases, tc)
	}

	if len(suite.Cases) == 0 {
		return Suite{}, fmt.Errorf("%s: suite has no cases", path)
	}

	return suite, nil
}

func (cd caseDoc) toTestCase() (TestCase, error) {
	if cd.Name == "" {
		return TestCase{}, fmt.Errorf("case name is required")
	}
	if cd.URL == "" {
		return TestCase{}, fmt.Errorf("url is required")
	}

	method := strings.ToUpper(cd.Method)
	if method == "" {
		method = "GET"
	}
	switch method {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
	default:
		return TestCase{}, fmt.Errorf("unsupported method %q", cd.Method)
	}

	tc := TestCase{
		Name:           cd.Name,
		Description:    cd.Description,
		Method:         method,
		URL:            cd.URL,
		Tags:           cd.Tags,
		Skip:           cd.Skip,
		Headers:        cd.Headers,
		Params:         cd.Params,
		Timeout:        cd.Timeout,
		ExpectedStatus: cd.ExpectedStatus,
		Unauthed:       cd.Unauthed,
	}

	tc.Assertions = cd.Assertions
	if cd.DBAssertions != nil {
		db := cd.DBAssertions
		if db.Collection == "" || db.MatchBy == "" || db.MatchField == "" {
			return TestCase{}, fmt.Errorf("db_assertions require collection, match_by and match_field")
		}
		tc.DBAssertions = db
	}

	if cd.Contract != nil {
		tc.Contract = &Contract{
			Schema:       cd.Contract.Schema,
			ValidExample: cd.Contract.ValidExample,
		}
		if err := tc.Contract.Validate(cd.Name); err != nil {
			return TestCase{}, err
		}
	}

	if len(cd.Mutations) > 0 {
		if tc.Contract == nil {
			return TestCase{}, fmt.Errorf("mutations require a contract")
		}
		tc.Mutations = make(map[string]bool, len(cd.Mutations))
		for _, name := range cd.Mutations {
			tc.Mutations[name] = true
		}
	}

	return tc, nil
}

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// interpolate replaces ${name} with suite variables and ${env.NAME} with
// environment values. An unresolved placeholder fails the load so typos
// surface before any request is made.
func interpolate(text string, variables map[string]string) (string, error) {
	var missing []string
	result := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if env, ok := strings.CutPrefix(name, "env."); ok {
			if value, found := os.LookupEnv(env); found {
				return value
			}
			missing = append(missing, name)
			return match
		}
		if value, ok := variables[name]; ok {
			return value
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", "))
	}
	return result, nil
}
