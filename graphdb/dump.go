package graphdb

import (
	"fmt"
	"io"
	"strings"
)

// Dump renders every node and edge visible to the transaction, in identity
// order, as text.
func (tx *Transaction) Dump() (string, error) {
	var b strings.Builder
	if err := tx.DumpTo(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// DumpTo writes the rendering of Dump to w.
func (tx *Transaction) DumpTo(w io.Writer) error {
	nodes, err := tx.Nodes()
	if err != nil {
		return err
	}
	defer nodes.Close()
	for ; !nodes.Done(); nodes.Next() {
		n, err := nodes.Current()
		if err != nil {
			return err
		}
		if err := dumpNode(w, n); err != nil {
			return err
		}
	}

	edges, err := tx.Edges()
	if err != nil {
		return err
	}
	defer edges.Close()
	for ; !edges.Done(); edges.Next() {
		e, err := edges.Current()
		if err != nil {
			return err
		}
		if err := dumpEdge(w, e); err != nil {
			return err
		}
	}
	return nil
}

func label(tag string) string {
	if tag == "" {
		return ""
	}
	return " [" + tag + "]"
}

func dumpNode(w io.Writer, n Node) error {
	tag, err := n.Tag()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Node %d%s:\n", n.ID(), label(tag))
	if err := dumpProperties(w, n.Properties); err != nil {
		return err
	}

	out, err := n.Edges(Outgoing, "")
	if err != nil {
		return err
	}
	defer out.Close()
	for ; !out.Done(); out.Next() {
		e, err := out.Current()
		if err != nil {
			return err
		}
		dst, err := e.Destination()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  -> n%d (e%d)\n", dst.ID(), e.ID())
	}

	in, err := n.Edges(Incoming, "")
	if err != nil {
		return err
	}
	defer in.Close()
	for ; !in.Done(); in.Next() {
		e, err := in.Current()
		if err != nil {
			return err
		}
		src, err := e.Source()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  <- n%d (e%d)\n", src.ID(), e.ID())
	}
	return nil
}

func dumpEdge(w io.Writer, e Edge) error {
	tag, err := e.Tag()
	if err != nil {
		return err
	}
	src, err := e.Source()
	if err != nil {
		return err
	}
	dst, err := e.Destination()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Edge %d%s: n%d -> n%d\n", e.ID(), label(tag), src.ID(), dst.ID())
	return dumpProperties(w, e.Properties)
}

func dumpProperties(w io.Writer, props func() (*PropertyIterator, error)) error {
	it, err := props()
	if err != nil {
		return err
	}
	defer it.Close()
	for ; !it.Done(); it.Next() {
		p, err := it.Current()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s: %s\n", p.Key, p.Value.Text())
	}
	return nil
}
