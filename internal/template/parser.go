package template

import "fmt"

type node interface{}

type textNode struct{ text string }

type varNode struct{ path []string }

type forNode struct {
	iterVar  string
	listPath []string
	body     []node
}

type ifNode struct {
	condPath []string
	negate   bool
	thenBody []node
	elseBody []node
}

type parser struct {
	toks []token
	pos  int
}

func parse(src string) ([]node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	nodes, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("template: unexpected trailing content")
	}
	return nodes, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// parseBlock consumes nodes until EOF or a statement keyword that closes
// the caller's block (endfor/endif/else), which it leaves unconsumed.
func (p *parser) parseBlock() ([]node, error) {
	var nodes []node
	for {
		switch p.peek().kind {
		case tokEOF:
			return nodes, nil
		case tokText:
			nodes = append(nodes, textNode{text: p.next().text})
		case tokExprOpen:
			p.next()
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if p.peek().kind != tokExprClose {
				return nil, fmt.Errorf("template: expected }}")
			}
			p.next()
			nodes = append(nodes, varNode{path: path})
		case tokStmtOpen:
			kw := p.peekKeyword()
			if kw == "endfor" || kw == "endif" || kw == "else" {
				return nodes, nil
			}
			n, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		default:
			return nil, fmt.Errorf("template: unexpected token")
		}
	}
}

// peekKeyword looks at the identifier immediately following an
// as-yet-unconsumed {% without advancing the parser.
func (p *parser) peekKeyword() string {
	if p.toks[p.pos].kind != tokStmtOpen {
		return ""
	}
	if p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokIdent {
		return p.toks[p.pos+1].text
	}
	return ""
}

func (p *parser) parseStatement() (node, error) {
	p.next() // consume tokStmtOpen
	kw := p.next()
	if kw.kind != tokIdent {
		return nil, fmt.Errorf("template: expected statement keyword")
	}

	switch kw.text {
	case "for":
		iterTok := p.next()
		if iterTok.kind != tokIdent {
			return nil, fmt.Errorf("template: expected loop variable after 'for'")
		}
		inTok := p.next()
		if inTok.kind != tokIdent || inTok.text != "in" {
			return nil, fmt.Errorf("template: expected 'in' in for-loop")
		}
		listPath, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if err := p.expectStmtClose(); err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		if p.peekKeyword() != "endfor" {
			return nil, fmt.Errorf("template: expected {%% endfor %%}")
		}
		p.next() // tokStmtOpen
		p.next() // "endfor"
		if err := p.expectStmtClose(); err != nil {
			return nil, err
		}
		return forNode{iterVar: iterTok.text, listPath: listPath, body: body}, nil

	case "if":
		negate := false
		if p.peek().kind == tokIdent && p.peek().text == "not" {
			p.next()
			negate = true
		}
		condPath, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if err := p.expectStmtClose(); err != nil {
			return nil, err
		}
		thenBody, err := p.parseBlock()
		if err != nil {
			return nil, err
		}

		var elseBody []node
		if p.peekKeyword() == "else" {
			p.next()
			p.next()
			if err := p.expectStmtClose(); err != nil {
				return nil, err
			}
			elseBody, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
		if p.peekKeyword() != "endif" {
			return nil, fmt.Errorf("template: expected {%% endif %%}")
		}
		p.next()
		p.next()
		if err := p.expectStmtClose(); err != nil {
			return nil, err
		}
		return ifNode{condPath: condPath, negate: negate, thenBody: thenBody, elseBody: elseBody}, nil

	default:
		return nil, fmt.Errorf("template: unknown statement %q", kw.text)
	}
}

func (p *parser) expectStmtClose() error {
	if p.peek().kind != tokStmtClose {
		return fmt.Errorf("template: expected %%}")
	}
	p.next()
	return nil
}

func (p *parser) parsePath() ([]string, error) {
	first := p.next()
	if first.kind != tokIdent {
		return nil, fmt.Errorf("template: expected identifier")
	}
	path := []string{first.text}
	for p.peek().kind == tokDot {
		p.next()
		id := p.next()
		if id.kind != tokIdent {
			return nil, fmt.Errorf("template: expected identifier after '.'")
		}
		path = append(path, id.text)
	}
	return path, nil
}
