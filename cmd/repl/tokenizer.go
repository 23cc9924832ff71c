package main

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
)

// TokenType defines types of tokens
type TokenType int

const (
	TokenKeyword TokenType = iota
	TokenIdentifier
	TokenString
	TokenNumber
	TokenSymbol
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenKeyword:
		return "keyword"
	case TokenIdentifier:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenSymbol:
		return "symbol"
	case TokenEOF:
		return "end of input"
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value string
}

var keywords = map[string]bool{
	"BEGIN": true, "COMMIT": true, "ABORT": true, "ROLLBACK": true,
	"EXCLUSIVE": true, "SHARED": true, "READONLY": true,
	"ADD": true, "SET": true, "GET": true, "UNSET": true, "REMOVE": true,
	"NODE": true, "EDGE": true, "NODES": true, "EDGES": true,
	"SHOW": true, "PROPS": true, "NEIGHBORS": true, "FIND": true, "WHERE": true,
	"EXISTS": true, "OUT": true, "IN": true, "ANY": true,
	"DUMP": true, "IMPORT": true, "STATS": true,
	"TRUE": true, "FALSE": true, "NULL": true,
}

// Tokenizer breaks a shell statement into tokens
type Tokenizer struct {
	input  string
	pos    int
	tokens []Token
}

// NewTokenizer initializes a new Tokenizer
func NewTokenizer(input string) *Tokenizer {
	return &Tokenizer{
		input:  input,
		tokens: []Token{},
	}
}

// Tokenize processes the input into tokens
func (t *Tokenizer) Tokenize() ([]Token, error) {
	log := logrus.WithField("component", "Tokenizer")
	for t.pos < len(t.input) {
		c := t.input[t.pos]
		switch {
		case unicode.IsSpace(rune(c)):
			t.pos++
		case unicode.IsLetter(rune(c)) || c == '_':
			t.readIdentifierOrKeyword()
		case c == '"' || c == '\'':
			if err := t.readString(c); err != nil {
				log.WithError(err).Debug("Tokenization failed")
				return nil, err
			}
		case unicode.IsDigit(rune(c)) || (c == '-' && t.pos+1 < len(t.input) && unicode.IsDigit(rune(t.input[t.pos+1]))):
			t.readNumber()
		default:
			if err := t.readSymbol(); err != nil {
				log.WithError(err).Debug("Tokenization failed")
				return nil, err
			}
		}
	}
	t.tokens = append(t.tokens, Token{Type: TokenEOF})
	log.WithField("token_count", len(t.tokens)).Debug("Tokenization complete")
	return t.tokens, nil
}

// readIdentifierOrKeyword reads an identifier or keyword. Dots are allowed
// so that dotted property keys stay one token.
func (t *Tokenizer) readIdentifierOrKeyword() {
	start := t.pos
	for t.pos < len(t.input) {
		c := rune(t.input[t.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' && c != '.' {
			break
		}
		t.pos++
	}
	value := t.input[start:t.pos]
	tokenType := TokenIdentifier
	if keywords[strings.ToUpper(value)] {
		tokenType = TokenKeyword
	}
	t.tokens = append(t.tokens, Token{Type: tokenType, Value: value})
}

// readString reads a quoted string; a backslash escapes the next byte.
func (t *Tokenizer) readString(quote byte) error {
	start := t.pos
	t.pos++
	var sb strings.Builder
	for t.pos < len(t.input) {
		c := t.input[t.pos]
		switch {
		case c == '\\' && t.pos+1 < len(t.input):
			sb.WriteByte(t.input[t.pos+1])
			t.pos += 2
		case c == quote:
			t.pos++
			t.tokens = append(t.tokens, Token{Type: TokenString, Value: sb.String()})
			return nil
		default:
			sb.WriteByte(c)
			t.pos++
		}
	}
	return fmt.Errorf("unterminated string starting at position %d", start)
}

// readNumber reads an integer or decimal number, optionally negative.
func (t *Tokenizer) readNumber() {
	start := t.pos
	if t.input[t.pos] == '-' {
		t.pos++
	}
	seenDot := false
	for t.pos < len(t.input) {
		c := t.input[t.pos]
		if c == '.' && !seenDot {
			seenDot = true
		} else if !unicode.IsDigit(rune(c)) {
			break
		}
		t.pos++
	}
	t.tokens = append(t.tokens, Token{Type: TokenNumber, Value: t.input[start:t.pos]})
}

// readSymbol reads a comparison operator.
func (t *Tokenizer) readSymbol() error {
	c := t.input[t.pos]
	switch c {
	case '=':
		t.pos++
		if t.pos < len(t.input) && t.input[t.pos] == '=' {
			t.pos++
		}
		t.tokens = append(t.tokens, Token{Type: TokenSymbol, Value: "="})
	case '!', '<', '>':
		if t.pos+1 < len(t.input) && t.input[t.pos+1] == '=' {
			t.tokens = append(t.tokens, Token{Type: TokenSymbol, Value: string(c) + "="})
			t.pos += 2
			return nil
		}
		if c == '!' {
			return fmt.Errorf("unexpected '!' at position %d", t.pos)
		}
		t.tokens = append(t.tokens, Token{Type: TokenSymbol, Value: string(c)})
		t.pos++
	case ';':
		t.pos++
	default:
		return fmt.Errorf("unexpected character %q at position %d", c, t.pos)
	}
	return nil
}
