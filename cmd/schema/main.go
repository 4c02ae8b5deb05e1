package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"rewind-arena/server/internal/net/proto"
)

const defaultOut = "docs/protocol.schema.json"

// errStale reports a checked-in schema that no longer matches the messages.
var errStale = errors.New("protocol schema is out of date")

func main() {
	outPath := flag.String("out", defaultOut, "path of the protocol JSON schema")
	check := flag.Bool("check", false, "fail instead of writing when the file differs")
	flag.Parse()

	var err error
	if *check {
		err = checkSchema(*outPath, proto.Schema())
	} else {
		err = writeSchema(*outPath, proto.Schema())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "schema: %v\n", err)
		os.Exit(1)
	}
}

func render(schema *jsonschema.Schema) ([]byte, error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

// checkSchema compares the rendered schema with the file at path.
func checkSchema(path string, schema *jsonschema.Schema) error {
	want, err := render(schema)
	if err != nil {
		return err
	}
	have, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !bytes.Equal(have, want) {
		return fmt.Errorf("%s: %w; regenerate with -out %s", path, errStale, path)
	}
	return nil
}

// writeSchema replaces path atomically through a sibling temp file.
func writeSchema(path string, schema *jsonschema.Schema) error {
	data, err := render(schema)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".schema-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
