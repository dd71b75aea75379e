package xmlstream

// lexer scans the body of a markup declaration.
type lexer struct {
	s   string
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '_' || c == ':' || c == '.' || c == '-' || c == '#':
		return true
	case c >= 0x80:
		return true
	}
	return false
}

func (l *lexer) eof() bool { return l.pos >= len(l.s) }

func (l *lexer) peek() byte {
	if l.eof() {
		return 0
	}
	return l.s[l.pos]
}

func (l *lexer) rest() string { return l.s[l.pos:] }

func (l *lexer) skipSpace() {
	for !l.eof() && isSpace(l.s[l.pos]) {
		l.pos++
	}
}

// name scans a name token; keywords like #PCDATA or #REQUIRED are names too.
func (l *lexer) name() string {
	start := l.pos
	for !l.eof() && isNameByte(l.s[l.pos]) {
		l.pos++
	}
	return l.s[start:l.pos]
}

// keyword consumes kw, if it is the next complete token.
func (l *lexer) keyword(kw string) bool {
	end := l.pos + len(kw)
	if end > len(l.s) || l.s[l.pos:end] != kw {
		return false
	}
	if end < len(l.s) && isNameByte(l.s[end]) {
		return false
	}
	l.pos = end
	return true
}

// quoted scans a single or double quoted literal and returns its content.
func (l *lexer) quoted() (string, bool) {
	q := l.peek()
	if q != '"' && q != '\'' {
		return "", false
	}
	for i := l.pos + 1; i < len(l.s); i++ {
		if l.s[i] == q {
			v := l.s[l.pos+1 : i]
			l.pos = i + 1
			return v, true
		}
	}
	return "", false
}

// enumeration scans "(a|b|c)".
func (l *lexer) enumeration() ([]string, bool) {
	if l.peek() != '(' {
		return nil, false
	}
	l.pos++
	var values []string
	for {
		l.skipSpace()
		v := l.name()
		if v == "" {
			return nil, false
		}
		values = append(values, v)
		l.skipSpace()
		switch l.peek() {
		case '|':
			l.pos++
		case ')':
			l.pos++
			return values, true
		default:
			return nil, false
		}
	}
}
