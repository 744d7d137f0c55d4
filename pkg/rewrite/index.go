package rewrite

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"slices"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
)

// IndexFileName is written at the mirror root, next to the host directories
const IndexFileName = "index.html"

// treeNode is a directory of the mirror, or a file when entry is set
type treeNode struct {
	name     string
	entry    *models.MirrorEntry
	children map[string]*treeNode
}

func buildTree(entries []models.MirrorEntry) *treeNode {
	root := &treeNode{children: make(map[string]*treeNode)}
	for i := range entries {
		node := root
		parts := strings.Split(entries[i].LocalPath, "/")
		for j, part := range parts {
			child, ok := node.children[part]
			if !ok {
				child = &treeNode{name: part, children: make(map[string]*treeNode)}
				node.children[part] = child
			}
			if j == len(parts)-1 {
				child.entry = &entries[i]
			}
			node = child
		}
	}
	return root
}

// sortedChildren lists directories first, then files, each alphabetically
func (n *treeNode) sortedChildren() []*treeNode {
	out := make([]*treeNode, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *treeNode) int {
		aIsDir, bIsDir := a.entry == nil, b.entry == nil
		if aIsDir && !bIsDir {
			return -1
		}
		if !aIsDir && bIsDir {
			return 1
		}
		return strings.Compare(strings.ToLower(a.name), strings.ToLower(b.name))
	})
	return out
}

// renderIndex writes an HTML page linking to every mirrored file
func renderIndex(w io.Writer, entries []models.MirrorEntry) error {
	if _, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Mirror index</title></head>\n<body>\n<h1>Mirror index</h1>\n<p>%d file(s)</p>\n", len(entries)); err != nil {
		return err
	}
	if err := writeTree(w, buildTree(entries), ""); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body></html>\n")
	return err
}

func writeTree(w io.Writer, n *treeNode, indent string) error {
	if _, err := fmt.Fprintf(w, "%s<ul>\n", indent); err != nil {
		return err
	}
	for _, c := range n.sortedChildren() {
		var err error
		if c.entry != nil {
			link := storage.RelativeLink(IndexFileName, c.entry.LocalPath)
			_, err = fmt.Fprintf(w, "%s  <li><a href=\"%s\" title=\"%s\">%s</a></li>\n",
				indent, html.EscapeString(link), html.EscapeString(c.entry.URL), html.EscapeString(c.name))
		} else {
			if _, err = fmt.Fprintf(w, "%s  <li>%s/\n", indent, html.EscapeString(c.name)); err != nil {
				return err
			}
			if err = writeTree(w, c, indent+"    "); err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s  </li>\n", indent)
		}
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s</ul>\n", indent)
	return err
}

func (p *Planner) writeIndexPage() error {
	entries, err := p.store.Entries()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := renderIndex(&buf, entries); err != nil {
		return err
	}
	changed, err := p.store.WriteLocal(IndexFileName, buf.Bytes())
	if err != nil {
		return err
	}
	if changed {
		p.log.WithField("files", len(entries)).Info("Wrote mirror index")
	}
	return nil
}
