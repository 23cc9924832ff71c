package graphdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// LoaderIDKey is the property under which imported elements keep the
// identity they had in the GraphSON document.
const LoaderIDKey = "kitegraph.loader.id"

// ImportStats counts what an import created.
type ImportStats struct {
	Nodes int
	Edges int
}

type graphsonDocument struct {
	Vertices []map[string]json.RawMessage `json:"vertices"`
	Edges    []map[string]json.RawMessage `json:"edges"`
}

// ImportGraphSONFile imports the GraphSON document at path.
func ImportGraphSONFile(ctx context.Context, s *Store, path string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, fmt.Errorf("open graphson: %w", err)
	}
	defer f.Close()
	return ImportGraphSON(ctx, s, f)
}

// ImportGraphSON loads a GraphSON document of the form
// {"vertices": [...], "edges": [...]}. Every element is imported in its own
// transaction and matched by LoaderIDKey, so importing the same document
// twice creates nothing new. Edges whose endpoints are missing create the
// endpoints untagged.
func ImportGraphSON(ctx context.Context, s *Store, r io.Reader) (ImportStats, error) {
	log := s.log.WithField("component", "GraphSON")
	var doc graphsonDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		log.WithError(err).Error("Failed to parse GraphSON")
		return ImportStats{}, fmt.Errorf("parse graphson: %w", err)
	}
	if doc.Vertices == nil {
		return ImportStats{}, errors.New("graphson: vertices not found")
	}
	if doc.Edges == nil {
		return ImportStats{}, errors.New("graphson: edges not found")
	}

	var stats ImportStats
	for i, raw := range doc.Vertices {
		err := s.Update(ctx, func(tx *Transaction) error {
			id, err := jsonInt(raw, "_id")
			if err != nil {
				return err
			}
			tag, err := jsonOptionalString(raw, "_label")
			if err != nil {
				return err
			}
			n, created, err := loaderNode(tx, id, tag)
			if err != nil {
				return err
			}
			if created {
				stats.Nodes++
			}
			return setJSONProperties(raw, n.SetProperty, "_id", "_type", "_label")
		})
		if err != nil {
			log.WithError(err).WithField("vertex", i).Error("Failed to import vertex")
			return stats, fmt.Errorf("vertex %d: %w", i, err)
		}
	}

	for i, raw := range doc.Edges {
		err := s.Update(ctx, func(tx *Transaction) error {
			id, err := jsonInt(raw, "_id")
			if err != nil {
				return err
			}
			outV, err := jsonInt(raw, "_outV")
			if err != nil {
				return err
			}
			inV, err := jsonInt(raw, "_inV")
			if err != nil {
				return err
			}
			tag, err := jsonOptionalString(raw, "_label")
			if err != nil {
				return err
			}
			e, created, err := loaderEdge(tx, id, outV, inV, tag, &stats)
			if err != nil {
				return err
			}
			if created {
				stats.Edges++
			}
			return setJSONProperties(raw, e.SetProperty, "_id", "_type", "_label", "_outV", "_inV")
		})
		if err != nil {
			log.WithError(err).WithField("edge", i).Error("Failed to import edge")
			return stats, fmt.Errorf("edge %d: %w", i, err)
		}
	}
	log.WithFields(logrus.Fields{"nodes": stats.Nodes, "edges": stats.Edges}).Info("GraphSON imported")
	return stats, nil
}

func loaderNode(tx *Transaction, id int64, tag string) (Node, bool, error) {
	it, err := tx.FindNodes("", Where(LoaderIDKey, OpEq, NewInt(id)))
	if err != nil {
		return Node{}, false, err
	}
	defer it.Close()
	if !it.Done() {
		n, err := it.Current()
		return n, false, err
	}
	n, err := tx.AddNode(tag)
	if err != nil {
		return Node{}, false, err
	}
	return n, true, n.SetProperty(LoaderIDKey, NewInt(id))
}

func loaderEdge(tx *Transaction, id, outV, inV int64, tag string, stats *ImportStats) (Edge, bool, error) {
	it, err := tx.FindEdges("", Where(LoaderIDKey, OpEq, NewInt(id)))
	if err != nil {
		return Edge{}, false, err
	}
	defer it.Close()
	if !it.Done() {
		e, err := it.Current()
		return e, false, err
	}
	src, created, err := loaderNode(tx, outV, "")
	if err != nil {
		return Edge{}, false, err
	}
	if created {
		stats.Nodes++
	}
	dst, created, err := loaderNode(tx, inV, "")
	if err != nil {
		return Edge{}, false, err
	}
	if created {
		stats.Nodes++
	}
	e, err := tx.AddEdge(src, dst, tag)
	if err != nil {
		return Edge{}, false, err
	}
	return e, true, e.SetProperty(LoaderIDKey, NewInt(id))
}

func jsonInt(obj map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("graphson: missing %s", key)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("graphson: %s is not a number", key)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("graphson: %s is not an integer", key)
	}
	return v, nil
}

func jsonOptionalString(obj map[string]json.RawMessage, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("graphson: %s is not a string", key)
	}
	return s, nil
}

// setJSONProperties stores every member of obj except the reserved keys.
// Arrays and objects have no property representation and are skipped.
func setJSONProperties(obj map[string]json.RawMessage, set func(string, Property) error, reserved ...string) error {
	skip := make(map[string]bool, len(reserved))
	for _, k := range reserved {
		skip[k] = true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		p, ok, err := jsonProperty(obj[k])
		if err != nil {
			return fmt.Errorf("graphson: property %s: %w", k, err)
		}
		if !ok {
			continue
		}
		if err := set(k, p); err != nil {
			return err
		}
	}
	return nil
}

func jsonProperty(raw json.RawMessage) (Property, bool, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Property{}, false, err
	}
	switch v := v.(type) {
	case nil:
		return NewEmpty(), true, nil
	case bool:
		return NewBool(v), true, nil
	case string:
		return NewString(v), true, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return NewInt(i), true, nil
		}
		f, err := v.Float64()
		if err != nil {
			return Property{}, false, err
		}
		return NewFloat(f), true, nil
	}
	return Property{}, false, nil
}
