package script

import "strings"

type Token struct {
	Type  TokenType
	Value string
}

type TokenType int

const (
	Identifier TokenType = iota
	From
	Empty
	As
	Import
	Mount
	SQL
	File
	All
	Colon
	Comma
	String
	Block
	EOF
	Unknown
)

func (t TokenType) String() string {
	switch t {
	case Identifier:
		return "identifier"
	case From:
		return "FROM"
	case Empty:
		return "EMPTY"
	case As:
		return "AS"
	case Import:
		return "IMPORT"
	case Mount:
		return "MOUNT"
	case SQL:
		return "SQL"
	case File:
		return "FILE"
	case All:
		return "ALL"
	case Colon:
		return "':'"
	case Comma:
		return "','"
	case String:
		return "quoted string"
	case Block:
		return "{...} block"
	case EOF:
		return "end of command"
	default:
		return "unknown"
	}
}

// Lexer tokenizes a single command. Keywords are upper case; a lower case
// "from" is an identifier.
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(input string) *Lexer {
	lexer := &Lexer{input: input}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.input) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.input[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) NextToken() Token {
	var token Token

	lexer.skipWhitespace()

	switch lexer.ch {
	case ',':
		token = Token{Type: Comma, Value: ","}
	case ':':
		token = Token{Type: Colon, Value: ":"}
	case 0:
		return Token{Type: EOF}
	case '\'':
		value, ok := lexer.readDelimited('\'')
		if !ok {
			return Token{Type: Unknown, Value: "'" + value}
		}
		return Token{Type: String, Value: value}
	case '{':
		value, ok := lexer.readDelimited('}')
		if !ok {
			return Token{Type: Unknown, Value: "{" + value}
		}
		return Token{Type: Block, Value: value}
	default:
		if isIdentifierChar(lexer.ch) {
			literal := lexer.readIdentifier()
			return Token{Type: lookupIdentifier(literal), Value: literal}
		}
		token = Token{Type: Unknown, Value: string(lexer.ch)}
	}

	lexer.readChar()
	return token
}

func (lexer *Lexer) PeekToken() Token {
	savedPosition := lexer.position
	savedReadPosition := lexer.readPosition
	savedCh := lexer.ch

	token := lexer.NextToken()

	lexer.position = savedPosition
	lexer.readPosition = savedReadPosition
	lexer.ch = savedCh

	return token
}

// Rest returns the unread input with surrounding whitespace removed.
func (lexer *Lexer) Rest() string {
	lexer.skipWhitespace()
	if lexer.position >= len(lexer.input) {
		return ""
	}
	return strings.TrimSpace(lexer.input[lexer.position:])
}

func (lexer *Lexer) skipWhitespace() {
	for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
		lexer.readChar()
	}
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for isIdentifierChar(lexer.ch) {
		lexer.readChar()
	}
	return lexer.input[position:lexer.position]
}

// readDelimited reads up to the closing delimiter. A backslash escapes the
// delimiter and is dropped from the value.
func (lexer *Lexer) readDelimited(closing byte) (string, bool) {
	lexer.readChar() // skip the opening delimiter
	var value []byte
	for lexer.ch != closing {
		if lexer.ch == 0 {
			return string(value), false
		}
		if lexer.ch == '\\' && lexer.peekChar() == closing {
			lexer.readChar()
		}
		value = append(value, lexer.ch)
		lexer.readChar()
	}
	lexer.readChar() // skip the closing delimiter
	return string(value), true
}

func (lexer *Lexer) peekChar() byte {
	if lexer.readPosition >= len(lexer.input) {
		return 0
	}
	return lexer.input[lexer.readPosition]
}

func isIdentifierChar(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9') ||
		ch == '_' || ch == '-' || ch == '/' || ch == '.'
}

func lookupIdentifier(id string) TokenType {
	switch id {
	case "FROM":
		return From
	case "EMPTY":
		return Empty
	case "AS":
		return As
	case "IMPORT":
		return Import
	case "MOUNT":
		return Mount
	case "SQL":
		return SQL
	case "FILE":
		return File
	case "ALL":
		return All
	default:
		return Identifier
	}
}

func tokenize(input string) []Token {
	lexer := NewLexer(input)

	var tokens []Token

	for {
		token := lexer.NextToken()
		tokens = append(tokens, token)
		if token.Type == EOF || token.Type == Unknown {
			return tokens
		}
	}
}
