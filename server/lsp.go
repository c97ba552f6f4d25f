package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/h2co3/sparkling/compiler"
	"github.com/h2co3/sparkling/vm"
	"github.com/h2co3/sparkling/vm/dist"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "sparkling-lsp"

// LspServer bridges LSP editor features to the compiler and to a VM
// holding the runtime library, accessed via VMWorker.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. Globals of v are offered for completion
// and hover, and programs may use them without a warning.
func NewLSP(v *vm.VM) *LspServer {
	worker := NewVMWorker(v)
	s := &LspServer{
		worker:  worker,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("Sparkling LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDocument(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDocument(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) setDocument(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.complete(text, params.Position), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.hover(text, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	locs := s.definition(uri, text, params.Position)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	return s.references(uri, text, params.Position), nil
}

// complete offers keywords, globals of the runtime VM and names declared
// in the document. After "lib." only members of lib are offered.
func (s *LspServer) complete(text string, pos protocol.Position) []protocol.CompletionItem {
	prefix := extractPrefix(text, pos)
	if prefix == "" {
		return nil
	}

	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label, kind, detail string) {
		if seen[label] {
			return
		}
		seen[label] = true
		k := lspCompletionKind(kind)
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &k,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	qualified := strings.Contains(prefix, ".")
	if !qualified {
		for _, d := range declarations(text) {
			if strings.HasPrefix(d.Name, prefix) {
				add(d.Name, d.completionKind(), d.signature())
			}
		}
		for _, kw := range compiler.Keywords() {
			if strings.HasPrefix(kw, prefix) {
				add(kw, kindKeyword, "keyword")
			}
		}
	}

	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		return completeGlobals(v, prefix)
	})
	if err == nil {
		for _, c := range result.([]completion) {
			add(c.Label, c.Kind, c.Detail)
		}
	}

	if len(items) > maxCompletions {
		items = items[:maxCompletions]
	}
	return items
}

// hover describes the function or global under the cursor. Declarations in
// the document take precedence over runtime globals.
func (s *LspServer) hover(text string, pos protocol.Position) *protocol.Hover {
	qualifier, word := extractQualifiedWord(text, pos)
	if word == "" {
		return nil
	}

	if qualifier == "" {
		for _, d := range declarations(text) {
			if d.Name == word && d.Kind != declLocal {
				return markdownHover("**" + d.signature() + "**")
			}
		}
	}

	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		md, ok := describeGlobal(v, qualifier, word)
		if !ok {
			return nil
		}
		return md
	})
	if err != nil || result == nil {
		return nil
	}
	return markdownHover(result.(string))
}

func markdownHover(md string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: md,
		},
	}
}

// definition returns the declarations of the identifier under the cursor.
// Scoping is not modelled: every declaration with that name is returned.
func (s *LspServer) definition(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.Location {
	qualifier, word := extractQualifiedWord(text, pos)
	if word == "" || qualifier != "" {
		return nil
	}
	var locations []protocol.Location
	for _, d := range declarations(text) {
		if d.Name == word {
			locations = append(locations, protocol.Location{URI: uri, Range: d.Range})
		}
	}
	return locations
}

// references returns every use of the identifier under the cursor,
// excluding member names after a dot.
func (s *LspServer) references(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.Location {
	qualifier, word := extractQualifiedWord(text, pos)
	if word == "" || qualifier != "" {
		return nil
	}

	var locations []protocol.Location
	toks := compiler.Tokenize(text)
	for i, tok := range toks {
		if tok.Type != compiler.TokenIdentifier || tok.Literal != word {
			continue
		}
		if i > 0 && toks[i-1].Type == compiler.TokenDot {
			continue
		}
		locations = append(locations, protocol.Location{URI: uri, Range: tokenRange(tok)})
	}
	return locations
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnose(text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose compiles text. A compilation error becomes one error
// diagnostic at its location; on success, globals that neither the program
// nor the runtime VM defines are reported as warnings.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	source := lspName

	unit, err := compiler.Compile(text)
	if err != nil {
		var cerr *compiler.Error
		if !errors.As(err, &cerr) {
			log.Errorf("unexpected compiler failure: %v", err)
			return diagnostics
		}
		severity := protocol.DiagnosticSeverityError
		start := lspPosition(cerr.Pos)
		end := start
		end.Character++
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    protocol.Range{Start: start, End: end},
			Severity: &severity,
			Source:   &source,
			Message:  cerr.Kind.String() + ": " + cerr.Msg,
		})
		return diagnostics
	}

	required, err := dist.RequiredGlobals(unit.Words)
	if err != nil || len(required) == 0 {
		return diagnostics
	}
	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		var missing []string
		for _, name := range required {
			if _, ok := v.Global(name); !ok {
				missing = append(missing, name)
			}
		}
		return missing
	})
	if err != nil {
		return diagnostics
	}

	toks := compiler.Tokenize(text)
	for _, name := range result.([]string) {
		severity := protocol.DiagnosticSeverityWarning
		rng := protocol.Range{}
		for i, tok := range toks {
			if tok.Type == compiler.TokenIdentifier && tok.Literal == name && (i == 0 || toks[i-1].Type != compiler.TokenDot) {
				rng = tokenRange(tok)
				break
			}
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    rng,
			Severity: &severity,
			Source:   &source,
			Message:  fmt.Sprintf("global '%s' is not defined by this program or the runtime library", name),
		})
	}
	return diagnostics
}

// --- Declarations ---

const (
	declGlobal   = "global"
	declFunction = "function"
	declLocal    = "local"
)

// declaration is a name introduced by the document.
type declaration struct {
	Name   string
	Kind   string
	Params []string
	Range  protocol.Range
}

func (d declaration) signature() string {
	switch d.Kind {
	case declFunction:
		return "fn " + d.Name + "(" + strings.Join(d.Params, ", ") + ")"
	case declGlobal:
		return "global " + d.Name
	}
	return "let " + d.Name
}

func (d declaration) completionKind() string {
	if d.Kind == declFunction {
		return kindFunction
	}
	return kindVariable
}

// declarations lists the globals, named functions and locals of a
// document in source order. Documents that do not parse, usually because
// they are being edited, are scanned token by token instead.
func declarations(text string) []declaration {
	toks := compiler.Tokenize(text)
	prog, err := compiler.Parse(text)
	if err != nil {
		return scanDeclarations(toks)
	}

	var decls []declaration
	addDecl := func(name, kind string, params []string, at compiler.Position) {
		decls = append(decls, declaration{
			Name:   name,
			Kind:   kind,
			Params: params,
			Range:  nameRange(toks, name, at),
		})
	}
	compiler.Inspect(prog, func(n compiler.Node) bool {
		switch n := n.(type) {
		case *compiler.GlobalStmt:
			addDecl(n.Name, declGlobal, nil, n.PosVal)
		case *compiler.FuncStmt:
			addDecl(n.Func.Name, declFunction, n.Func.Params, n.PosVal)
		case *compiler.VarDecl:
			addDecl(n.Name, declLocal, nil, n.PosVal)
		}
		return true
	})
	return decls
}

// scanDeclarations finds the names following let, global and fn.
func scanDeclarations(toks []compiler.Token) []declaration {
	var decls []declaration
	for i := 0; i+1 < len(toks); i++ {
		name := toks[i+1]
		if name.Type != compiler.TokenIdentifier {
			continue
		}
		d := declaration{Name: name.Literal, Range: tokenRange(name)}
		switch toks[i].Type {
		case compiler.TokenLet:
			d.Kind = declLocal
		case compiler.TokenGlobal:
			d.Kind = declGlobal
		case compiler.TokenFn:
			d.Kind = declFunction
			j := i + 2
			if j < len(toks) && toks[j].Type == compiler.TokenLParen {
				for j++; j < len(toks) && toks[j].Type == compiler.TokenIdentifier; j++ {
					d.Params = append(d.Params, toks[j].Literal)
					if j+1 < len(toks) && toks[j+1].Type == compiler.TokenComma {
						j++
					}
				}
			}
		default:
			continue
		}
		decls = append(decls, d)
	}
	return decls
}

// nameRange is the range of the first identifier token spelling name at or
// after from. Declarations start at their keyword, not at the name.
func nameRange(toks []compiler.Token, name string, from compiler.Position) protocol.Range {
	for _, tok := range toks {
		if tok.Pos.Offset >= from.Offset && tok.Type == compiler.TokenIdentifier && tok.Literal == name {
			return tokenRange(tok)
		}
	}
	start := lspPosition(from)
	return protocol.Range{Start: start, End: start}
}

func tokenRange(tok compiler.Token) protocol.Range {
	start := lspPosition(tok.Pos)
	end := start
	end.Character += protocol.UInteger(len(tok.Literal))
	return protocol.Range{Start: start, End: end}
}

// lspPosition converts a 1-based compiler position to a 0-based LSP one.
func lspPosition(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

func lspCompletionKind(kind string) protocol.CompletionItemKind {
	switch kind {
	case kindFunction:
		return protocol.CompletionItemKindFunction
	case kindLibrary:
		return protocol.CompletionItemKindModule
	case kindKeyword:
		return protocol.CompletionItemKindKeyword
	}
	return protocol.CompletionItemKindVariable
}

// --- Text extraction helpers ---

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// lineAt returns the line at pos and the cursor column clamped to it.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// extractPrefix returns the fragment before the cursor for completion,
// including a "lib." qualifier.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if isIdentChar(ch) || ch == '.' {
			start--
		} else {
			break
		}
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	_, word := extractQualifiedWord(text, pos)
	return word
}

// extractQualifiedWord returns the identifier under the cursor and, if it
// follows "name.", that qualifying name.
func extractQualifiedWord(text string, pos protocol.Position) (qualifier, word string) {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return "", ""
	}

	// Find start
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}

	if start == end {
		return "", ""
	}
	word = line[start:end]

	if start > 0 && line[start-1] == '.' {
		qend := start - 1
		qstart := qend
		for qstart > 0 && isIdentChar(rune(line[qstart-1])) {
			qstart--
		}
		qualifier = line[qstart:qend]
	}
	return qualifier, word
}

func boolPtr(b bool) *bool {
	return &b
}
