package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitegraph/graphdb"
)

func TestTokenize(t *testing.T) {
	tokens, err := NewTokenizer(`set node 12 "full name" 'it\'s' -3.5 >= kitegraph.loader.id;`).Tokenize()
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Type: TokenKeyword, Value: "set"},
		{Type: TokenKeyword, Value: "node"},
		{Type: TokenNumber, Value: "12"},
		{Type: TokenString, Value: "full name"},
		{Type: TokenString, Value: "it's"},
		{Type: TokenNumber, Value: "-3.5"},
		{Type: TokenSymbol, Value: ">="},
		{Type: TokenIdentifier, Value: "kitegraph.loader.id"},
		{Type: TokenEOF},
	}, tokens)

	_, err = NewTokenizer(`GET NODE 1 "open`).Tokenize()
	assert.ErrorContains(t, err, "unterminated")
	_, err = NewTokenizer(`FIND NODES WHERE a ! 1`).Tokenize()
	assert.Error(t, err)
}

func TestParseStatement(t *testing.T) {
	tests := []struct {
		input string
		want  Statement
	}{
		{"BEGIN", Statement{Type: StmtBegin, Mode: graphdb.ModeSharedWrite}},
		{"begin readonly", Statement{Type: StmtBegin, Mode: graphdb.ModeReadOnly}},
		{"BEGIN EXCLUSIVE", Statement{Type: StmtBegin, Mode: graphdb.ModeExclusive}},
		{"COMMIT", Statement{Type: StmtCommit}},
		{"ROLLBACK", Statement{Type: StmtAbort}},
		{"ADD NODE Person", Statement{Type: StmtAddNode, Tag: "Person"}},
		{"ADD NODE", Statement{Type: StmtAddNode}},
		{"ADD EDGE 1 2 knows", Statement{Type: StmtAddEdge, ID: 1, Target: 2, Tag: "knows"}},
		{`SET NODE 3 Name "katelin"`, Statement{
			Type: StmtSetProperty, Kind: graphdb.KindNode, ID: 3, Key: "Name", Value: graphdb.NewString("katelin"),
		}},
		{"SET EDGE 4 weight = 0.5", Statement{
			Type: StmtSetProperty, Kind: graphdb.KindEdge, ID: 4, Key: "weight", Value: graphdb.NewFloat(0.5),
		}},
		{"SET NODE 1 Active true", Statement{
			Type: StmtSetProperty, Kind: graphdb.KindNode, ID: 1, Key: "Active", Value: graphdb.NewBool(true),
		}},
		{"GET NODE 1 in", Statement{Type: StmtGetProperty, Kind: graphdb.KindNode, ID: 1, Key: "in"}},
		{"UNSET EDGE 2 weight", Statement{Type: StmtUnsetProperty, Kind: graphdb.KindEdge, ID: 2, Key: "weight"}},
		{"REMOVE NODE 9", Statement{Type: StmtRemove, Kind: graphdb.KindNode, ID: 9}},
		{"SHOW NODES Person", Statement{Type: StmtShowNodes, Tag: "Person"}},
		{"SHOW EDGES", Statement{Type: StmtShowEdges}},
		{"SHOW PROPS EDGE 5", Statement{Type: StmtShowProps, Kind: graphdb.KindEdge, ID: 5}},
		{"SHOW NEIGHBORS 1 OUT knows", Statement{
			Type: StmtShowNeighbors, Kind: graphdb.KindNode, ID: 1, Dir: graphdb.Outgoing, Tag: "knows",
		}},
		{"FIND NODES Person WHERE Age >= 21", Statement{
			Type: StmtFind, Kind: graphdb.KindNode, Tag: "Person",
			Pred: graphdb.Where("Age", graphdb.OpGe, graphdb.NewInt(21)),
		}},
		{"FIND EDGES WHERE weight EXISTS", Statement{
			Type: StmtFind, Kind: graphdb.KindEdge,
			Pred: graphdb.Where("weight", graphdb.OpExists, graphdb.NewEmpty()),
		}},
		{`IMPORT "graph.json"`, Statement{Type: StmtImport, Path: "graph.json"}},
		{"DUMP", Statement{Type: StmtDump}},
		{"STATS", Statement{Type: StmtStats}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatement(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatementErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"FLY away",
		"ADD VERTEX",
		"ADD EDGE 1",
		"GET NODE x Name",
		"REMOVE NODE 0",
		"SET NODE 1 Name",
		"FIND NODES WHERE Age",
		"COMMIT now",
		"IMPORT 12",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseStatement(input)
			assert.Error(t, err)
		})
	}
}
