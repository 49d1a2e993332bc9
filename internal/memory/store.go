package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/lferr"
)

// Store reads and appends the memory and relationship logs.
type Store struct {
	nodesPath string
	relsPath  string
}

// NewStore returns a store over the two JSONL files.
func NewStore(nodesPath, relsPath string) *Store {
	return &Store{nodesPath: nodesPath, relsPath: relsPath}
}

// Create validates and appends a node. When discoveredFrom is non-empty a
// discovered_from relationship line is appended too; that edge is the
// provenance primitive for scope-creep forensics.
func (s *Store) Create(n *Node, discoveredFrom string) error {
	if n.ID == "" {
		id, err := NewNodeID()
		if err != nil {
			return lferr.Wrap(lferr.KindIO, err, "generating node id")
		}
		n.ID = id
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := n.Validate(); err != nil {
		return lferr.Wrap(lferr.KindValidation, err, "invalid memory node")
	}
	if err := appendLine(s.nodesPath, n); err != nil {
		return err
	}
	if discoveredFrom != "" {
		now := time.Now().UTC()
		rel := Relationship{FromID: n.ID, ToID: discoveredFrom, Type: RelDiscoveredFrom, CreatedAt: &now}
		if err := appendLine(s.relsPath, rel); err != nil {
			return err
		}
	}
	return nil
}

// AppendRelationship appends one relationship line.
func (s *Store) AppendRelationship(r Relationship) error {
	if !r.Type.IsValid() {
		return lferr.New(lferr.KindValidation, "invalid relationship type %q", r.Type)
	}
	if r.CreatedAt == nil {
		now := time.Now().UTC()
		r.CreatedAt = &now
	}
	return appendLine(s.relsPath, r)
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating memory directory")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return lferr.Wrap(lferr.KindFatal, err, "marshaling record")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // nolint:gosec // shared via git
	if err != nil {
		return lferr.Wrap(lferr.KindIO, err, "opening %s", path)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "appending to %s", path)
	}
	return f.Sync()
}

// Loaded is the replayed view of the node log.
type Loaded struct {
	Nodes []*Node
	ByID  map[string]*Node
	ByWU  map[string][]*Node
}

// LoadOptions controls replay filtering.
type LoadOptions struct {
	IncludeArchived bool // include soft-deleted nodes
}

// Load replays the node log in file order, deduplicating by id with
// last-write-wins. Soft-deleted nodes are filtered unless IncludeArchived.
// A malformed line is reported with its line number.
func (s *Store) Load(opts LoadOptions) (*Loaded, error) {
	f, err := os.Open(s.nodesPath) // #nosec G304 - resolver-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return &Loaded{ByID: map[string]*Node{}, ByWU: map[string][]*Node{}}, nil
		}
		return nil, lferr.Wrap(lferr.KindIO, err, "opening memory log")
	}
	defer func() { _ = f.Close() }()

	byID := map[string]*Node{}
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var n Node
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			return nil, lferr.Wrap(lferr.KindIO, err, "memory.jsonl line %d is malformed", lineNo)
		}
		if _, seen := byID[n.ID]; !seen {
			order = append(order, n.ID)
		}
		byID[n.ID] = &n
	}
	if err := scanner.Err(); err != nil {
		return nil, lferr.Wrap(lferr.KindIO, err, "reading memory log")
	}

	out := &Loaded{ByID: map[string]*Node{}, ByWU: map[string][]*Node{}}
	for _, id := range order {
		n := byID[id]
		if n.Deleted() && !opts.IncludeArchived {
			continue
		}
		out.Nodes = append(out.Nodes, n)
		out.ByID[n.ID] = n
		if n.WUID != "" {
			out.ByWU[n.WUID] = append(out.ByWU[n.WUID], n)
		}
	}
	return out, nil
}

// LoadRelationships replays the relationship log in file order.
func (s *Store) LoadRelationships() ([]Relationship, error) {
	f, err := os.Open(s.relsPath) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lferr.Wrap(lferr.KindIO, err, "opening relationships log")
	}
	defer func() { _ = f.Close() }()

	var out []Relationship
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r Relationship
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, lferr.Wrap(lferr.KindIO, err, "relationships.jsonl line %d is malformed", lineNo)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, lferr.Wrap(lferr.KindIO, err, "reading relationships log")
	}
	return out, nil
}

// DeleteOptions selects nodes for soft deletion. Criteria are a union,
// except Tag combined with OlderThan narrows to their intersection.
type DeleteOptions struct {
	IDs       []string
	Tag       string
	OlderThan *time.Time
	DryRun    bool
}

// Delete soft-deletes matched nodes by rewriting their latest line with
// metadata.status="deleted". Already-deleted nodes never match again, so
// repeated runs are no-ops. Returns the matched ids.
func (s *Store) Delete(opts DeleteOptions) ([]string, error) {
	loaded, err := s.Load(LoadOptions{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, id := range opts.IDs {
		wanted[id] = true
	}

	matches := func(n *Node) bool {
		if n.Deleted() {
			return false
		}
		if wanted[n.ID] {
			return true
		}
		if opts.Tag != "" && opts.OlderThan != nil {
			return hasTag(n, opts.Tag) && n.CreatedAt.Before(*opts.OlderThan)
		}
		if opts.Tag != "" {
			return hasTag(n, opts.Tag)
		}
		if opts.OlderThan != nil {
			return n.CreatedAt.Before(*opts.OlderThan)
		}
		return false
	}

	var matched []string
	for _, n := range loaded.Nodes {
		if matches(n) {
			matched = append(matched, n.ID)
		}
	}
	sort.Strings(matched)
	if opts.DryRun || len(matched) == 0 {
		return matched, nil
	}

	now := time.Now().UTC()
	for _, id := range matched {
		n := loaded.ByID[id]
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		n.Metadata["status"] = "deleted"
		n.UpdatedAt = &now
	}
	if err := s.rewrite(loaded.Nodes); err != nil {
		return nil, err
	}
	return matched, nil
}

func hasTag(n *Node, tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// rewrite replaces the node log with one line per surviving node, atomically
// via rename. Only Delete and Summarize use this; everything else appends.
func (s *Store) rewrite(nodes []*Node) error {
	tmp := s.nodesPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644) // nolint:gosec
	if err != nil {
		return lferr.Wrap(lferr.KindIO, err, "creating %s", tmp)
	}
	w := bufio.NewWriter(f)
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return lferr.Wrap(lferr.KindFatal, err, "marshaling node %s", n.ID)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return lferr.Wrap(lferr.KindIO, err, "writing %s", tmp)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return lferr.Wrap(lferr.KindIO, err, "flushing %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return lferr.Wrap(lferr.KindIO, err, "syncing %s", tmp)
	}
	if err := f.Close(); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, s.nodesPath); err != nil {
		return lferr.Wrap(lferr.KindIO, err, "replacing memory log")
	}
	return nil
}

// TouchAccess records a last-access timestamp in node metadata; the decay
// scorer in the context builder reads it. Best effort.
func (s *Store) TouchAccess(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	loaded, err := s.Load(LoadOptions{IncludeArchived: true})
	if err != nil {
		return err
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	now := time.Now().UTC().Format(time.RFC3339)
	changed := false
	for _, n := range loaded.Nodes {
		if want[n.ID] {
			if n.Metadata == nil {
				n.Metadata = map[string]any{}
			}
			n.Metadata["last_access"] = now
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.rewrite(loaded.Nodes)
}

// String renders a short human description of a node.
func (n *Node) String() string {
	return fmt.Sprintf("%s [%s/%s] %s", n.ID, n.Type, n.Lifecycle, truncate(n.Content, 60))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
