package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"kitegraph/graphdb"
)

// StatementType identifies a shell statement.
type StatementType int

const (
	StmtBegin StatementType = iota
	StmtCommit
	StmtAbort
	StmtAddNode
	StmtAddEdge
	StmtSetProperty
	StmtGetProperty
	StmtUnsetProperty
	StmtRemove
	StmtShowNodes
	StmtShowEdges
	StmtShowProps
	StmtShowNeighbors
	StmtFind
	StmtDump
	StmtImport
	StmtStats
)

// Statement is the parsed form of one shell line.
type Statement struct {
	Type   StatementType
	Mode   graphdb.Mode
	Kind   graphdb.ElementKind
	ID     int64
	Target int64
	Tag    string
	Key    string
	Value  graphdb.Property
	Dir    graphdb.Direction
	Pred   graphdb.PropertyPredicate
	Path   string
}

// Parser converts tokens into a Statement
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser initializes a new Parser
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// ParseStatement tokenizes and parses a single line.
func ParseStatement(input string) (Statement, error) {
	tokens, err := NewTokenizer(input).Tokenize()
	if err != nil {
		return Statement{}, err
	}
	return NewParser(tokens).Parse()
}

// Parse parses the tokens into a Statement
func (p *Parser) Parse() (Statement, error) {
	log := logrus.WithField("component", "Parser")
	if p.peek().Type == TokenEOF {
		return Statement{}, fmt.Errorf("empty statement")
	}
	stmt, err := p.statement()
	if err != nil {
		log.WithError(err).Debug("Failed to parse statement")
		return Statement{}, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return Statement{}, fmt.Errorf("unexpected %s %q at token %d", tok.Type, tok.Value, p.pos)
	}
	return stmt, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// accept consumes the next token if it is the given keyword.
func (p *Parser) accept(keyword string) bool {
	tok := p.peek()
	if tok.Type == TokenKeyword && strings.EqualFold(tok.Value, keyword) {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) expect(keywords ...string) (string, error) {
	tok := p.peek()
	for _, kw := range keywords {
		if p.accept(kw) {
			return kw, nil
		}
	}
	return "", fmt.Errorf("expected %s, got %s %q", strings.Join(keywords, " or "), tok.Type, tok.Value)
}

func (p *Parser) statement() (Statement, error) {
	kw, err := p.expect("BEGIN", "COMMIT", "ABORT", "ROLLBACK", "ADD", "SET", "GET", "UNSET",
		"REMOVE", "SHOW", "FIND", "DUMP", "IMPORT", "STATS")
	if err != nil {
		return Statement{}, err
	}
	switch kw {
	case "BEGIN":
		return p.beginClause()
	case "COMMIT":
		return Statement{Type: StmtCommit}, nil
	case "ABORT", "ROLLBACK":
		return Statement{Type: StmtAbort}, nil
	case "ADD":
		return p.addClause()
	case "SET":
		return p.propertyClause(StmtSetProperty, true)
	case "GET":
		return p.propertyClause(StmtGetProperty, false)
	case "UNSET":
		return p.propertyClause(StmtUnsetProperty, false)
	case "REMOVE":
		kind, err := p.kind()
		if err != nil {
			return Statement{}, err
		}
		id, err := p.id()
		return Statement{Type: StmtRemove, Kind: kind, ID: id}, err
	case "SHOW":
		return p.showClause()
	case "FIND":
		return p.findClause()
	case "DUMP":
		return Statement{Type: StmtDump}, nil
	case "IMPORT":
		tok := p.next()
		if tok.Type != TokenString && tok.Type != TokenIdentifier {
			return Statement{}, fmt.Errorf("IMPORT expects a file path")
		}
		return Statement{Type: StmtImport, Path: tok.Value}, nil
	default:
		return Statement{Type: StmtStats}, nil
	}
}

func (p *Parser) beginClause() (Statement, error) {
	stmt := Statement{Type: StmtBegin, Mode: graphdb.ModeSharedWrite}
	switch {
	case p.accept("EXCLUSIVE"):
		stmt.Mode = graphdb.ModeExclusive
	case p.accept("READONLY"):
		stmt.Mode = graphdb.ModeReadOnly
	case p.accept("SHARED"):
	}
	return stmt, nil
}

// addClause parses ADD NODE [tag] and ADD EDGE <src> <dst> [tag].
func (p *Parser) addClause() (Statement, error) {
	kind, err := p.kind()
	if err != nil {
		return Statement{}, err
	}
	if kind == graphdb.KindNode {
		return Statement{Type: StmtAddNode, Tag: p.optionalName()}, nil
	}
	src, err := p.id()
	if err != nil {
		return Statement{}, err
	}
	dst, err := p.id()
	if err != nil {
		return Statement{}, err
	}
	return Statement{Type: StmtAddEdge, ID: src, Target: dst, Tag: p.optionalName()}, nil
}

// propertyClause parses <NODE|EDGE> <id> <key> [value].
func (p *Parser) propertyClause(typ StatementType, withValue bool) (Statement, error) {
	kind, err := p.kind()
	if err != nil {
		return Statement{}, err
	}
	id, err := p.id()
	if err != nil {
		return Statement{}, err
	}
	key, err := p.name()
	if err != nil {
		return Statement{}, err
	}
	stmt := Statement{Type: typ, Kind: kind, ID: id, Key: key}
	if withValue {
		if p.peek().Type == TokenSymbol && p.peek().Value == "=" {
			p.pos++
		}
		if stmt.Value, err = p.value(); err != nil {
			return Statement{}, err
		}
	}
	return stmt, nil
}

func (p *Parser) showClause() (Statement, error) {
	kw, err := p.expect("NODES", "EDGES", "PROPS", "NEIGHBORS")
	if err != nil {
		return Statement{}, err
	}
	switch kw {
	case "NODES":
		return Statement{Type: StmtShowNodes, Tag: p.optionalName()}, nil
	case "EDGES":
		return Statement{Type: StmtShowEdges, Tag: p.optionalName()}, nil
	case "PROPS":
		kind, err := p.kind()
		if err != nil {
			return Statement{}, err
		}
		id, err := p.id()
		return Statement{Type: StmtShowProps, Kind: kind, ID: id}, err
	default:
		id, err := p.id()
		if err != nil {
			return Statement{}, err
		}
		stmt := Statement{Type: StmtShowNeighbors, Kind: graphdb.KindNode, ID: id, Dir: graphdb.Any}
		switch {
		case p.accept("OUT"):
			stmt.Dir = graphdb.Outgoing
		case p.accept("IN"):
			stmt.Dir = graphdb.Incoming
		case p.accept("ANY"):
		}
		stmt.Tag = p.optionalName()
		return stmt, nil
	}
}

// findClause parses FIND NODES|EDGES [tag] [WHERE <key> <op> <value> | WHERE <key> EXISTS].
func (p *Parser) findClause() (Statement, error) {
	kw, err := p.expect("NODES", "EDGES")
	if err != nil {
		return Statement{}, err
	}
	stmt := Statement{Type: StmtFind, Kind: graphdb.KindNode}
	if kw == "EDGES" {
		stmt.Kind = graphdb.KindEdge
	}
	if !p.accept("WHERE") {
		stmt.Tag = p.optionalName()
		if !p.accept("WHERE") {
			return stmt, nil
		}
	}
	key, err := p.name()
	if err != nil {
		return Statement{}, err
	}
	if p.accept("EXISTS") {
		stmt.Pred = graphdb.Where(key, graphdb.OpExists, graphdb.NewEmpty())
		return stmt, nil
	}
	tok := p.next()
	op, ok := comparison[tok.Value]
	if tok.Type != TokenSymbol || !ok {
		return Statement{}, fmt.Errorf("expected comparison operator, got %s %q", tok.Type, tok.Value)
	}
	value, err := p.value()
	if err != nil {
		return Statement{}, err
	}
	stmt.Pred = graphdb.Where(key, op, value)
	return stmt, nil
}

var comparison = map[string]graphdb.PredicateOp{
	"=":  graphdb.OpEq,
	"!=": graphdb.OpNe,
	"<":  graphdb.OpLt,
	"<=": graphdb.OpLe,
	">":  graphdb.OpGt,
	">=": graphdb.OpGe,
}

func (p *Parser) kind() (graphdb.ElementKind, error) {
	kw, err := p.expect("NODE", "EDGE")
	if err != nil {
		return graphdb.KindNone, err
	}
	if kw == "EDGE" {
		return graphdb.KindEdge, nil
	}
	return graphdb.KindNode, nil
}

func (p *Parser) id() (int64, error) {
	tok := p.next()
	if tok.Type != TokenNumber {
		return 0, fmt.Errorf("expected element id, got %s %q", tok.Type, tok.Value)
	}
	id, err := strconv.ParseInt(tok.Value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid element id %q", tok.Value)
	}
	return id, nil
}

// name reads a tag or property key. Keywords are allowed so that keys such
// as "in" or "set" stay usable.
func (p *Parser) name() (string, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenIdentifier, TokenString, TokenKeyword:
		p.pos++
		return tok.Value, nil
	}
	return "", fmt.Errorf("expected name, got %s %q", tok.Type, tok.Value)
}

func (p *Parser) optionalName() string {
	tok := p.peek()
	if tok.Type == TokenIdentifier || tok.Type == TokenString {
		p.pos++
		return tok.Value
	}
	return ""
}

func (p *Parser) value() (graphdb.Property, error) {
	tok := p.next()
	switch tok.Type {
	case TokenString:
		return graphdb.NewString(tok.Value), nil
	case TokenNumber:
		if strings.Contains(tok.Value, ".") {
			f, err := strconv.ParseFloat(tok.Value, 64)
			if err != nil {
				return graphdb.Property{}, fmt.Errorf("invalid number %q", tok.Value)
			}
			return graphdb.NewFloat(f), nil
		}
		i, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return graphdb.Property{}, fmt.Errorf("invalid integer %q", tok.Value)
		}
		return graphdb.NewInt(i), nil
	case TokenKeyword:
		switch strings.ToUpper(tok.Value) {
		case "TRUE":
			return graphdb.NewBool(true), nil
		case "FALSE":
			return graphdb.NewBool(false), nil
		case "NULL":
			return graphdb.NewEmpty(), nil
		}
	}
	return graphdb.Property{}, fmt.Errorf("expected value, got %s %q", tok.Type, tok.Value)
}
