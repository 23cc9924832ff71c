package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sirupsen/logrus"

	"kitegraph/graphdb"
)

// Executor runs parsed statements against an open store. Outside an
// explicit BEGIN each statement runs in its own transaction.
type Executor struct {
	store *graphdb.Store
	tx    *graphdb.Transaction
	out   io.Writer
	log   *logrus.Entry
}

// NewExecutor initializes an Executor writing results to out.
func NewExecutor(store *graphdb.Store, out io.Writer, log *logrus.Entry) *Executor {
	return &Executor{store: store, out: out, log: log.WithField("component", "Executor")}
}

// InTransaction reports whether an explicit transaction is open.
func (e *Executor) InTransaction() bool { return e.tx != nil }

// Close aborts any open explicit transaction.
func (e *Executor) Close() {
	if e.tx != nil {
		e.tx.Abort()
		e.tx = nil
	}
}

// Execute runs a single statement.
func (e *Executor) Execute(ctx context.Context, stmt Statement) error {
	switch stmt.Type {
	case StmtBegin:
		if e.tx != nil {
			return fmt.Errorf("transaction %d already open", e.tx.ID())
		}
		tx, err := e.store.Begin(ctx, stmt.Mode)
		if err != nil {
			return err
		}
		e.tx = tx
		fmt.Fprintf(e.out, "Transaction %d started (%s)\n", tx.ID(), tx.Mode())
		return nil
	case StmtCommit:
		if e.tx == nil {
			return errors.New("no open transaction")
		}
		tx := e.tx
		e.tx = nil
		if err := tx.Commit(); err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Transaction %d committed\n", tx.ID())
		return nil
	case StmtAbort:
		if e.tx == nil {
			return errors.New("no open transaction")
		}
		e.tx.Abort()
		fmt.Fprintf(e.out, "Transaction %d aborted\n", e.tx.ID())
		e.tx = nil
		return nil
	case StmtImport:
		if e.tx != nil {
			return errors.New("IMPORT cannot run inside an explicit transaction")
		}
		stats, err := graphdb.ImportGraphSONFile(ctx, e.store, stmt.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Imported %d nodes and %d edges\n", stats.Nodes, stats.Edges)
		return nil
	case StmtStats:
		e.stats()
		return nil
	}
	return e.run(ctx, isWrite(stmt.Type), func(tx *graphdb.Transaction) error {
		return e.apply(tx, stmt)
	})
}

func isWrite(t StatementType) bool {
	switch t {
	case StmtAddNode, StmtAddEdge, StmtSetProperty, StmtUnsetProperty, StmtRemove:
		return true
	}
	return false
}

// run executes fn in the open transaction, or in a fresh one that commits
// on success.
func (e *Executor) run(ctx context.Context, write bool, fn func(*graphdb.Transaction) error) error {
	if e.tx != nil {
		return fn(e.tx)
	}
	mode := graphdb.ModeReadOnly
	if write {
		mode = graphdb.ModeSharedWrite
	}
	return e.store.Run(ctx, mode, fn)
}

func (e *Executor) apply(tx *graphdb.Transaction, stmt Statement) error {
	switch stmt.Type {
	case StmtAddNode:
		n, err := tx.AddNode(stmt.Tag)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Added node %d\n", n.ID())
	case StmtAddEdge:
		src, err := tx.Node(stmt.ID)
		if err != nil {
			return err
		}
		dst, err := tx.Node(stmt.Target)
		if err != nil {
			return err
		}
		edge, err := tx.AddEdge(src, dst, stmt.Tag)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Added edge %d\n", edge.ID())
	case StmtSetProperty, StmtGetProperty, StmtUnsetProperty:
		return e.property(tx, stmt)
	case StmtRemove:
		if stmt.Kind == graphdb.KindEdge {
			edge, err := tx.Edge(stmt.ID)
			if err != nil {
				return err
			}
			return tx.RemoveEdge(edge)
		}
		n, err := tx.Node(stmt.ID)
		if err != nil {
			return err
		}
		return tx.RemoveNode(n)
	case StmtShowNodes:
		it, err := tx.NodesByTag(stmt.Tag)
		if err != nil {
			return err
		}
		return e.renderNodes(it)
	case StmtShowEdges:
		it, err := tx.FindEdges(stmt.Tag, graphdb.PropertyPredicate{})
		if err != nil {
			return err
		}
		return e.renderEdges(it)
	case StmtShowNeighbors:
		n, err := tx.Node(stmt.ID)
		if err != nil {
			return err
		}
		it, err := n.Edges(stmt.Dir, stmt.Tag)
		if err != nil {
			return err
		}
		return e.renderEdges(it)
	case StmtShowProps:
		it, err := e.properties(tx, stmt)
		if err != nil {
			return err
		}
		defer it.Close()
		rows := make([][]string, 0, it.Len())
		for ; !it.Done(); it.Next() {
			item, err := it.Current()
			if err != nil {
				return err
			}
			rows = append(rows, []string{item.Key, item.Value.Type().String(), item.Value.Text()})
		}
		e.table([]string{"Key", "Type", "Value"}, rows)
	case StmtFind:
		if stmt.Kind == graphdb.KindEdge {
			it, err := tx.FindEdges(stmt.Tag, stmt.Pred)
			if err != nil {
				return err
			}
			return e.renderEdges(it)
		}
		it, err := tx.FindNodes(stmt.Tag, stmt.Pred)
		if err != nil {
			return err
		}
		return e.renderNodes(it)
	case StmtDump:
		return tx.DumpTo(e.out)
	default:
		return fmt.Errorf("unsupported statement %d", stmt.Type)
	}
	return nil
}

// element is the property surface shared by Node and Edge handles.
type element interface {
	Property(key string) (graphdb.Property, bool, error)
	SetProperty(key string, p graphdb.Property) error
	RemoveProperty(key string) error
	Properties() (*graphdb.PropertyIterator, error)
}

func (e *Executor) lookup(tx *graphdb.Transaction, kind graphdb.ElementKind, id int64) (element, error) {
	if kind == graphdb.KindEdge {
		return tx.Edge(id)
	}
	return tx.Node(id)
}

func (e *Executor) property(tx *graphdb.Transaction, stmt Statement) error {
	el, err := e.lookup(tx, stmt.Kind, stmt.ID)
	if err != nil {
		return err
	}
	switch stmt.Type {
	case StmtSetProperty:
		return el.SetProperty(stmt.Key, stmt.Value)
	case StmtUnsetProperty:
		return el.RemoveProperty(stmt.Key)
	}
	p, ok, err := el.Property(stmt.Key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(e.out, color.YellowString("(absent)"))
		return nil
	}
	fmt.Fprintf(e.out, "%s %s\n", p.Text(), color.CyanString("(%s)", p.Type()))
	return nil
}

func (e *Executor) properties(tx *graphdb.Transaction, stmt Statement) (*graphdb.PropertyIterator, error) {
	el, err := e.lookup(tx, stmt.Kind, stmt.ID)
	if err != nil {
		return nil, err
	}
	return el.Properties()
}

func (e *Executor) renderNodes(it *graphdb.NodeIterator) error {
	defer it.Close()
	var rows [][]string
	for ; !it.Done(); it.Next() {
		n, err := it.Current()
		if err != nil {
			return err
		}
		tag, err := n.Tag()
		if err != nil {
			return err
		}
		props, err := summarize(n)
		if err != nil {
			return err
		}
		rows = append(rows, []string{fmt.Sprint(n.ID()), tag, props})
	}
	e.table([]string{"ID", "Tag", "Properties"}, rows)
	return nil
}

func (e *Executor) renderEdges(it *graphdb.EdgeIterator) error {
	defer it.Close()
	var rows [][]string
	for ; !it.Done(); it.Next() {
		edge, err := it.Current()
		if err != nil {
			return err
		}
		tag, err := edge.Tag()
		if err != nil {
			return err
		}
		src, err := edge.Source()
		if err != nil {
			return err
		}
		dst, err := edge.Destination()
		if err != nil {
			return err
		}
		props, err := summarize(edge)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			fmt.Sprint(edge.ID()), tag, fmt.Sprint(src.ID()), fmt.Sprint(dst.ID()), props,
		})
	}
	e.table([]string{"ID", "Tag", "Source", "Destination", "Properties"}, rows)
	return nil
}

// summarize renders the properties of el as key=value pairs.
func summarize(el element) (string, error) {
	it, err := el.Properties()
	if err != nil {
		return "", err
	}
	defer it.Close()
	parts := make([]string, 0, it.Len())
	for ; !it.Done(); it.Next() {
		item, err := it.Current()
		if err != nil {
			return "", err
		}
		parts = append(parts, item.Key+"="+item.Value.Text())
	}
	return strings.Join(parts, " "), nil
}

func (e *Executor) table(header []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(e.out, color.YellowString("_No rows_"))
		return
	}
	alignment := make([]tw.Align, len(header))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	table := tablewriter.NewTable(e.out,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(header)
	for _, row := range rows {
		table.Append(row)
	}
	if err := table.Render(); err != nil {
		e.log.WithError(err).Warn("Failed to render table")
		return
	}
	fmt.Fprintf(e.out, "\n_%d rows_\n", len(rows))
}

func (e *Executor) stats() {
	st := e.store.Stats()
	e.table([]string{"Metric", "Value"}, [][]string{
		{"Location", e.store.Location()},
		{"Backend", string(st.Backend)},
		{"Nodes", fmt.Sprint(st.Nodes)},
		{"Edges", fmt.Sprint(st.Edges)},
		{"Strings", fmt.Sprint(st.Strings)},
		{"Commit sequence", fmt.Sprint(st.CommitSeq)},
		{"Active transactions", fmt.Sprint(st.ActiveTransactions)},
	})
}
