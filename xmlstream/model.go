package xmlstream

import (
	"errors"
	"fmt"
	"strings"
)

type modelKind int

const (
	modelEmpty modelKind = iota
	modelAny
	modelMixed
	modelChildren
)

// contentModel is the compiled content specification of an element type.
type contentModel struct {
	kind  modelKind
	names map[string]bool // allowed children of mixed content
	nfa   *nfa            // element content
	spec  string
}

func (m *contentModel) String() string { return m.spec }

// particle is a node of an element content specification, e.g. "(a,(b|c)*)".
type particle struct {
	name     string // leaf, if not empty
	choice   bool   // children are alternatives, otherwise a sequence
	children []*particle
	occur    byte // 0, '?', '*' or '+'
}

// parseContentModel parses a contentspec: EMPTY, ANY, mixed content or
// element content.
func parseContentModel(l *lexer) (*contentModel, error) {
	l.skipSpace()
	start := l.pos
	switch {
	case l.keyword("EMPTY"):
		return &contentModel{kind: modelEmpty, spec: "EMPTY"}, nil
	case l.keyword("ANY"):
		return &contentModel{kind: modelAny, spec: "ANY"}, nil
	case l.peek() != '(':
		return nil, fmt.Errorf("invalid content specification: %q", l.rest())
	}
	l.pos++
	l.skipSpace()
	if l.keyword("#PCDATA") {
		names, err := parseMixed(l)
		if err != nil {
			return nil, err
		}
		return &contentModel{kind: modelMixed, names: names, spec: l.s[start:l.pos]}, nil
	}
	l.pos = start
	p, err := parseParticle(l)
	if err != nil {
		return nil, err
	}
	return &contentModel{kind: modelChildren, nfa: compile(p), spec: l.s[start:l.pos]}, nil
}

// parseMixed parses the remainder of "(#PCDATA|a|b)*" after "#PCDATA".
func parseMixed(l *lexer) (map[string]bool, error) {
	names := make(map[string]bool)
	for {
		l.skipSpace()
		switch l.peek() {
		case ')':
			l.pos++
			if l.peek() == '*' {
				l.pos++
			} else if len(names) > 0 {
				return nil, errors.New("mixed content with elements must end with ')*'")
			}
			return names, nil
		case '|':
			l.pos++
			l.skipSpace()
			name := l.name()
			if name == "" {
				return nil, fmt.Errorf("missing name in mixed content: %q", l.rest())
			}
			names[name] = true
		default:
			return nil, fmt.Errorf("invalid mixed content: %q", l.rest())
		}
	}
}

func parseParticle(l *lexer) (*particle, error) {
	l.skipSpace()
	var p *particle
	if l.peek() == '(' {
		l.pos++
		var (
			sep  byte
			done bool
		)
		p = &particle{}
		for !done {
			c, err := parseParticle(l)
			if err != nil {
				return nil, err
			}
			p.children = append(p.children, c)
			l.skipSpace()
			switch ch := l.peek(); ch {
			case ')':
				l.pos++
				done = true
			case '|', ',':
				if sep != 0 && sep != ch {
					return nil, errors.New("cannot mix ',' and '|' in a group")
				}
				sep = ch
				l.pos++
			default:
				return nil, fmt.Errorf("unexpected %q in content model", l.rest())
			}
		}
		p.choice = sep == '|'
	} else {
		name := l.name()
		if name == "" || strings.HasPrefix(name, "#") {
			return nil, fmt.Errorf("invalid element name in content model: %q", l.rest())
		}
		p = &particle{name: name}
	}
	switch c := l.peek(); c {
	case '?', '*', '+':
		p.occur = c
		l.pos++
	}
	return p, nil
}

// nfa is a Thompson automaton over child element names. It is immutable
// after compilation and can be shared.
type nfa struct {
	states []nfaState
	start  int
	accept int
}

type nfaState struct {
	label string // transition to next on this element name, if not empty
	next  int
	eps   []int
}

func compile(p *particle) *nfa {
	m := &nfa{}
	m.start, m.accept = m.build(p)
	return m
}

func (m *nfa) newState() int {
	m.states = append(m.states, nfaState{next: -1})
	return len(m.states) - 1
}

func (m *nfa) epsilon(from, to int) {
	m.states[from].eps = append(m.states[from].eps, to)
}

func (m *nfa) build(p *particle) (start, end int) {
	switch {
	case p.name != "":
		start, end = m.newState(), m.newState()
		m.states[start].label = p.name
		m.states[start].next = end
	case p.choice:
		start, end = m.newState(), m.newState()
		for _, c := range p.children {
			s, e := m.build(c)
			m.epsilon(start, s)
			m.epsilon(e, end)
		}
	default:
		start = m.newState()
		end = start
		for _, c := range p.children {
			s, e := m.build(c)
			m.epsilon(end, s)
			end = e
		}
	}
	if p.occur == 0 {
		return start, end
	}
	s, e := m.newState(), m.newState()
	m.epsilon(s, start)
	m.epsilon(end, e)
	switch p.occur {
	case '?':
		m.epsilon(s, e)
	case '*':
		m.epsilon(s, e)
		m.epsilon(end, start)
	case '+':
		m.epsilon(end, start)
	}
	return s, e
}

// stateSet marks active states; it is sized to the automaton.
type stateSet []bool

// init resets set to the epsilon closure of the start state, reusing the
// backing array if possible.
func (m *nfa) init(set stateSet) stateSet {
	if cap(set) < len(m.states) {
		set = make(stateSet, len(m.states))
	}
	set = set[:len(m.states)]
	clear(set)
	m.closure(set, m.start)
	return set
}

func (m *nfa) closure(set stateSet, s int) {
	if set[s] {
		return
	}
	set[s] = true
	for _, t := range m.states[s].eps {
		m.closure(set, t)
	}
}

// step advances cur on a child named label, writing the successor states to
// next. It reports whether any state is still active.
func (m *nfa) step(cur, next stateSet, label string) bool {
	clear(next)
	var ok bool
	for s, active := range cur {
		if !active || m.states[s].label != label {
			continue
		}
		m.closure(next, m.states[s].next)
		ok = true
	}
	return ok
}

func (m *nfa) accepts(set stateSet) bool {
	return set[m.accept]
}
