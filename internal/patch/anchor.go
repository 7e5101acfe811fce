package patch

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Anchor sources recorded on the patch record.
const (
	AnchorSyntaxTree = "syntax_tree"
	AnchorLineScan   = "line_scan"
)

// anchor is where the method goes: before line Line (0-based), indented with Indent.
type anchor struct {
	Line   int
	Indent string
	Source string
}

// findAnchor locates the class and returns the line immediately after the
// first contiguous run of statements in its body. The syntax tree is tried
// first; the line scan covers files tree-sitter cannot make sense of around
// the class.
func findAnchor(ctx context.Context, content []byte, header string) (anchor, error) {
	lines := strings.Split(string(content), "\n")

	a, ok, err := treeAnchor(ctx, content, lines, header)
	if err != nil {
		return anchor{}, err
	}
	if ok {
		return a, nil
	}

	if a, ok := scanAnchor(lines, header); ok {
		return a, nil
	}
	return anchor{}, fmt.Errorf("class header %q not found in file", header)
}

func treeAnchor(ctx context.Context, content []byte, lines []string, header string) (anchor, bool, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return anchor{}, false, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return anchor{}, false, nil
	}

	class := findClass(root, lines, strings.TrimSpace(header))
	if class == nil || class.HasError() {
		return anchor{}, false, nil
	}

	body := class.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return anchor{}, false, nil
	}

	first := body.NamedChild(0)
	headerEnd := int(body.StartPoint().Row) - 1
	if colon := lastColonRow(class, body); colon >= 0 {
		headerEnd = colon
	}
	if int(first.StartPoint().Row) <= headerEnd {
		// Body shares the header line ("class A: pass"); nothing to anchor on.
		return anchor{}, false, nil
	}

	runEnd := headerEnd
	for _, stmt := range bodyStatements(class, body) {
		if int(stmt.StartPoint().Row) > runEnd+1 {
			break
		}
		runEnd = lastRow(stmt)
	}

	return anchor{
		Line:   runEnd + 1,
		Indent: leadingWhitespace(lines[first.StartPoint().Row]),
		Source: AnchorSyntaxTree,
	}, true, nil
}

// findClass returns the first class_definition, in source order, whose
// header line matches.
func findClass(n *sitter.Node, lines []string, header string) *sitter.Node {
	if n.Type() == "class_definition" {
		row := int(n.StartPoint().Row)
		if row < len(lines) && headerMatches(lines[row], header) {
			return n
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if found := findClass(n.NamedChild(i), lines, header); found != nil {
			return found
		}
	}
	return nil
}

// bodyStatements lists the body's statements in order, including comments
// tree-sitter attaches to the class node ahead of the block.
func bodyStatements(class, body *sitter.Node) []*sitter.Node {
	var stmts []*sitter.Node
	for i := 0; i < int(class.NamedChildCount()); i++ {
		child := class.NamedChild(i)
		if child.Type() == "comment" && child.StartByte() < body.StartByte() && child.StartPoint().Row > class.StartPoint().Row {
			stmts = append(stmts, child)
		}
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmts = append(stmts, body.NamedChild(i))
	}
	return stmts
}

func headerMatches(line, header string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), header)
}

// lastColonRow returns the row of the ":" ending the class header, or -1.
func lastColonRow(class, body *sitter.Node) int {
	row := -1
	for i := 0; i < int(class.ChildCount()); i++ {
		child := class.Child(i)
		if child.StartByte() >= body.StartByte() {
			break
		}
		if child.Type() == ":" {
			row = int(child.StartPoint().Row)
		}
	}
	return row
}

// lastRow is the last row holding text of n. Nodes ending at column 0 stop
// on the previous row.
func lastRow(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row) - 1
	}
	return int(end.Row)
}

// scanAnchor walks forward from the header line until a blank line or a
// dedent to the class's own column.
func scanAnchor(lines []string, header string) (anchor, bool) {
	header = strings.TrimSpace(header)
	h := -1
	for i, line := range lines {
		if headerMatches(line, header) {
			h = i
			break
		}
	}
	if h < 0 {
		return anchor{}, false
	}

	classIndent := len(leadingWhitespace(lines[h]))
	i := h + 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" || len(leadingWhitespace(line)) <= classIndent {
			break
		}
	}

	indent := leadingWhitespace(lines[h]) + "    "
	if h+1 < len(lines) && strings.TrimSpace(lines[h+1]) != "" && len(leadingWhitespace(lines[h+1])) > classIndent {
		indent = leadingWhitespace(lines[h+1])
	}
	return anchor{Line: i, Indent: indent, Source: AnchorLineScan}, true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
