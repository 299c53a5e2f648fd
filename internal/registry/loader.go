// Package registry loads authored gate contract documents and serves them
// as an immutable, versioned catalog. Documents are YAML files validated
// against an embedded JSON Schema before they are compiled; the runtime
// catalog is swapped atomically so readers never observe a half-updated
// contract set.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/gatekit/gatekit/internal/model"
)

//go:embed gate.schema.json
var gateSchemaJSON string

var gateSchema = jsonschema.MustCompileString("gate.schema.json", gateSchemaJSON)

// LoadFile reads, validates, and compiles a single gate document.
func LoadFile(path string) (*model.GateContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gate document: %w", err)
	}
	contract, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return contract, nil
}

// Parse validates and compiles a gate document from YAML bytes.
// The document travels YAML → generic tree → JSON → schema validation →
// typed decode, so schema and decode see the exact same bytes.
func Parse(data []byte) (*model.GateContract, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	jsonBytes, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var instance any
	if err := json.Unmarshal(jsonBytes, &instance); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := gateSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var doc gateDocument
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return doc.compile()
}

// LoadDir loads every .yaml/.yml gate document in dir, sorted by file name
// so load order is stable, and cross-checks the set: (gate_id, version)
// keys and entry states must be unique.
func LoadDir(dir string) ([]*model.GateContract, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read gates dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	byKey := make(map[model.GateKey]string, len(names))
	byState := make(map[string]string, len(names))
	contracts := make([]*model.GateContract, 0, len(names))

	for _, name := range names {
		contract, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := byKey[contract.Key()]; dup {
			return nil, fmt.Errorf("%s: gate %s@%s already defined in %s",
				name, contract.GateID, contract.Version, prev)
		}
		if prev, dup := byState[contract.EntryState]; dup {
			return nil, fmt.Errorf("%s: entry state %s already guarded by %s",
				name, contract.EntryState, prev)
		}
		byKey[contract.Key()] = name
		byState[contract.EntryState] = name
		contracts = append(contracts, contract)
	}

	return contracts, nil
}
