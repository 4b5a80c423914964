package sqlguard

import "fmt"

// lexer splits SQL text into tokens. Comments and whitespace are dropped.
type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func tokenize(input string) ([]token, error) {
	l := &lexer{input: input}
	l.readChar()

	var out []token
	for {
		if err := l.skipWhitespaceAndComments(); err != nil {
			return nil, err
		}
		if l.ch == 0 && l.pos >= len(l.input) {
			return out, nil
		}
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) skipWhitespaceAndComments() error {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.pos < len(l.input) {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			start := l.pos
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.pos >= len(l.input) {
					return fmt.Errorf("unterminated comment at offset %d", start)
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		default:
			return nil
		}
	}
}

func (l *lexer) next() (token, error) {
	start := l.pos
	switch {
	case l.ch == '\'':
		text, err := l.readQuoted('\'')
		if err != nil {
			return token{}, fmt.Errorf("unterminated string literal at offset %d", start)
		}
		return token{kind: tokString, text: text, pos: start}, nil
	case l.ch == '"' || l.ch == '`':
		text, err := l.readQuoted(l.ch)
		if err != nil {
			return token{}, fmt.Errorf("unterminated quoted identifier at offset %d", start)
		}
		return token{kind: tokQuotedIdent, text: text, pos: start}, nil
	case l.ch == '[':
		text, err := l.readQuoted(']')
		if err != nil {
			return token{}, fmt.Errorf("unterminated quoted identifier at offset %d", start)
		}
		return token{kind: tokQuotedIdent, text: text, pos: start}, nil
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return token{kind: tokNumber, text: l.readNumber(), pos: start}, nil
	case isLetter(l.ch) || l.ch == '_':
		return token{kind: tokWord, text: l.readWord(), pos: start}, nil
	case l.ch == '?':
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
		return token{kind: tokParam, text: l.input[start:l.pos], pos: start}, nil
	case (l.ch == '$' || l.ch == '@') && (isDigit(l.peekChar()) || isLetter(l.peekChar())):
		l.readChar()
		l.readWord()
		return token{kind: tokParam, text: l.input[start:l.pos], pos: start}, nil
	case l.ch == ':' && isLetter(l.peekChar()):
		l.readChar()
		l.readWord()
		return token{kind: tokParam, text: l.input[start:l.pos], pos: start}, nil
	}

	for _, symbol := range []string{"->>", "::", "<=", ">=", "<>", "!=", "==", "||", "->", "<<", ">>"} {
		if len(l.input)-start >= len(symbol) && l.input[start:start+len(symbol)] == symbol {
			for range symbol {
				l.readChar()
			}
			return token{kind: tokSymbol, text: symbol, pos: start}, nil
		}
	}
	switch l.ch {
	case '(', ')', ',', '.', ';', '*', '+', '-', '/', '%', '=', '<', '>', '|', '&', '~', '^', '!', ':':
		symbol := string(l.ch)
		l.readChar()
		return token{kind: tokSymbol, text: symbol, pos: start}, nil
	}
	return token{}, fmt.Errorf("illegal character %q at offset %d", l.ch, start)
}

// readQuoted consumes a quoted run. A doubled closer is an escaped closer.
func (l *lexer) readQuoted(closer byte) (string, error) {
	l.readChar()
	var buf []byte
	for {
		if l.pos >= len(l.input) {
			return "", fmt.Errorf("unterminated")
		}
		if l.ch == closer {
			if closer != ']' && l.peekChar() == closer {
				buf = append(buf, closer)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			return string(buf), nil
		}
		buf = append(buf, l.ch)
		l.readChar()
	}
}

func (l *lexer) readNumber() string {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHex(l.ch) {
			l.readChar()
		}
		return l.input[start:l.pos]
	}
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

func (l *lexer) readWord() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch >= 0x80
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHex(ch byte) bool {
	return isDigit(ch) || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}
