// Package quality drives a conversion session with scripted readings and
// scores its output against reference conversions.
package quality

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/cases.schema.json
var casesSchema []byte

const casesSchemaURL = "cases.schema.json"

// Case is one evaluation record.
type Case struct {
	Source   string `json:"source" yaml:"source"`
	Reading  string `json:"reading" yaml:"reading"`
	Expected string `json:"expected" yaml:"expected"`
}

type caseDocument struct {
	Version     int    `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Cases       []Case `json:"cases"`
}

// Format is a case file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTSV  Format = "tsv"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".tsv", ".txt":
		return FormatTSV, nil
	default:
		return "", fmt.Errorf("unsupported case file extension %q", filepath.Ext(path))
	}
}

// LoadCases reads a case file.
func LoadCases(path string) ([]Case, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	cases, err := ParseCases(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cases, nil
}

// ParseCases decodes and validates a case document. JSON and YAML documents
// are checked against the case schema; TSV lines are
// "source<TAB>reading<TAB>expected".
func ParseCases(data []byte, format Format) ([]Case, error) {
	switch format {
	case FormatTSV:
		return parseTSV(bytes.NewReader(data))
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		// Round-trip through JSON so the validator sees JSON types.
		js, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		return parseJSON(js)
	case FormatJSON:
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("unknown case format %q", format)
	}
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(casesSchemaURL, bytes.NewReader(casesSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(casesSchemaURL)
}

func parseJSON(data []byte) ([]Case, error) {
	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid case document: %w", err)
	}

	var doc caseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	return doc.Cases, nil
}

func parseTSV(r io.Reader) ([]Case, error) {
	var cases []Case
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 tab-separated fields, got %d", lineNo, len(fields))
		}
		c := Case{Source: fields[0], Reading: fields[1], Expected: fields[2]}
		if c.Source == "" || c.Reading == "" || c.Expected == "" {
			return nil, fmt.Errorf("line %d: empty field", lineNo)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	return cases, nil
}

// Reasons a reading cannot be typed.
var (
	ErrContainsAlphabet = errors.New("reading contains alphabet")
	ErrContainsKanji    = errors.New("reading contains kanji")
	ErrContainsKatakana = errors.New("reading contains katakana")
)

// CheckReading rejects readings that cannot be entered as romaji: latin
// letters, kanji, and katakana other than the prolonged sound mark and the
// middle dot.
func CheckReading(reading string) error {
	for _, r := range reading {
		switch {
		case unicode.In(r, unicode.Latin):
			return fmt.Errorf("%w: %q", ErrContainsAlphabet, reading)
		case unicode.In(r, unicode.Han):
			return fmt.Errorf("%w: %q", ErrContainsKanji, reading)
		case r == 'ー' || r == '・' || r == '･':
		case unicode.In(r, unicode.Katakana):
			return fmt.Errorf("%w: %q", ErrContainsKatakana, reading)
		}
	}
	return nil
}
